package events

// Topic constants for domain events emitted by the storefront.
const (
	TopicOrderCreated       = "order.created"
	TopicOrderPaid          = "order.paid"
	TopicOrderStatusChanged = "order.status_changed"
)

// DefaultTopics returns the topics every backend is expected to carry.
func DefaultTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicOrderPaid,
		TopicOrderStatusChanged,
	}
}

// dedupTopics are delivered at most once per aggregate.
var dedupTopics = map[string]bool{
	TopicOrderPaid: true,
}

package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Event topics emitted for order lifecycle changes.
const (
	TopicCreated       = "order.created"
	TopicPaid          = "order.paid"
	TopicStatusChanged = "order.status_changed"
)

var (
	// ErrNotFound is returned when no order matches the requested id.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidTransition is matched by *TransitionError.
	ErrInvalidTransition = errors.New("order status transition not allowed")
	// ErrInvalidStatus reports an unknown status value.
	ErrInvalidStatus = errors.New("invalid order status")
)

// transitions lists the forward moves of the lifecycle. Anything else is rejected.
var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusCancelled},
	StatusPaid:    {StatusDelivered, StatusCancelled},
}

// ParseStatus normalises s into a known Status.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return status, nil
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle permits moving from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Sources returns every status that may transition into to.
func Sources(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusPaid, StatusDelivered, StatusCancelled} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// TransitionError describes a refused compare-and-set status change.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

// Is lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Item is a purchased line.
type Item struct {
	ProductID string          `json:"productId" validate:"required,max=128"`
	Name      string          `json:"name" validate:"required,max=200"`
	Quantity  int             `json:"quantity" validate:"required,min=1,max=1000"`
	Price     decimal.Decimal `json:"price"`
}

// Order is the persisted purchase record.
type Order struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	UserName      string          `json:"userName"`
	Phone         string          `json:"phone"`
	Address       string          `json:"address"`
	Items         []Item          `json:"items"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"paymentMethod"`
	ReceiptImage  string          `json:"receiptImage,omitempty"`
	AdminNote     string          `json:"adminNote,omitempty"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// NewOrder carries the fields a customer supplies when placing an order.
type NewOrder struct {
	UserID        string          `json:"userId" validate:"required,max=128"`
	UserName      string          `json:"userName" validate:"required,max=200"`
	Phone         string          `json:"phone" validate:"required,max=32"`
	Address       string          `json:"address" validate:"required,max=500"`
	Items         []Item          `json:"items" validate:"required,min=1,max=100,dive"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"paymentMethod" validate:"required,max=32"`
	ReceiptImage  string          `json:"receiptImage,omitempty" validate:"omitempty,url,max=2048"`
}

// Normalize trims free-text fields and rounds money to cents.
func (n NewOrder) Normalize() NewOrder {
	n.UserID = strings.TrimSpace(n.UserID)
	n.UserName = strings.TrimSpace(n.UserName)
	n.Phone = strings.TrimSpace(n.Phone)
	n.Address = strings.TrimSpace(n.Address)
	n.PaymentMethod = strings.ToLower(strings.TrimSpace(n.PaymentMethod))
	n.ReceiptImage = strings.TrimSpace(n.ReceiptImage)
	n.Total = n.Total.RoundBank(2)
	items := make([]Item, len(n.Items))
	for i, it := range n.Items {
		it.ProductID = strings.TrimSpace(it.ProductID)
		it.Name = strings.TrimSpace(it.Name)
		it.Price = it.Price.RoundBank(2)
		items[i] = it
	}
	n.Items = items
	return n
}

// CheckAmounts rejects non-positive totals and negative prices.
func (n NewOrder) CheckAmounts() error {
	if !n.Total.IsPositive() {
		return errors.New("total must be greater than zero")
	}
	for i, it := range n.Items {
		if it.Price.IsNegative() {
			return fmt.Errorf("items[%d].price must not be negative", i)
		}
	}
	return nil
}

// TransitionRequest describes a status change. An empty From makes the change unconditional.
type TransitionRequest struct {
	ID        string
	To        Status
	From      []Status
	AdminNote *string
}

func (r TransitionRequest) allows(current Status) bool {
	if len(r.From) == 0 {
		return true
	}
	for _, s := range r.From {
		if s == current {
			return true
		}
	}
	return false
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return []Item{}
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

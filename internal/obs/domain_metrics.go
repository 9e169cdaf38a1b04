package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PayWayCheckoutTotal counts checkout initiation outcomes.
	PayWayCheckoutTotal *prometheus.CounterVec
	// PayWayCallbackTotal counts callback outcomes by source (gateway or manual).
	PayWayCallbackTotal *prometheus.CounterVec
	// PayWaySigningTotal counts signing attempts per profile.
	PayWaySigningTotal *prometheus.CounterVec
	// PayWayGatewayLatency records outbound gateway API latency in milliseconds.
	PayWayGatewayLatency *prometheus.HistogramVec
	// OrderTransitionsTotal counts order status changes.
	OrderTransitionsTotal *prometheus.CounterVec
	// EventsPublishedTotal counts domain event publications per backend.
	EventsPublishedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PayWayCheckoutTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payway_checkout_total",
			Help:      "Count of checkout initiation outcomes.",
		}, []string{"result"}))
		PayWayCallbackTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payway_callback_total",
			Help:      "Count of payment callbacks by source and outcome.",
		}, []string{"source", "result"}))
		PayWaySigningTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payway_signing_total",
			Help:      "Count of signing attempts by profile and outcome.",
		}, []string{"profile", "result"}))
		PayWayGatewayLatency = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payway_gateway_request_duration_ms",
			Help:      "Latency for outbound PayWay API calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"operation", "result"}))
		OrderTransitionsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Count of order status transitions by target status and actor.",
		}, []string{"to", "actor"}))
		EventsPublishedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Count of domain events handed to a publisher backend.",
		}, []string{"backend", "topic", "result"}))
	})
}

// IncCounter increments a labelled counter when metrics have been registered.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

// ObserveMillis records a latency sample when the histogram has been registered.
func ObserveMillis(vec *prometheus.HistogramVec, ms float64, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Observe(ms)
}

package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker collectors, labelled by breaker target such as "payway-qr".
// The state gauge holds the numeric State: 0 closed, 1 open, 2 half-open.
var (
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bakery",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Current circuit breaker state per target.",
	}, []string{"target"})

	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bakery",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Circuit breaker state changes.",
	}, []string{"target", "from", "to"})

	BreakerOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bakery",
		Subsystem: "breaker",
		Name:      "opened_total",
		Help:      "Times a circuit breaker tripped open.",
	}, []string{"target"})
)

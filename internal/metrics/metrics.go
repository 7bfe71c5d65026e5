// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PaymentsCompleted counts payments reaching the completed state,
	// labelled by method.
	PaymentsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_completed_total",
		Help: "Payments that reached the completed state.",
	}, []string{"method"})

	// PaymentsFailed counts payments reaching the failed state, labelled by
	// the failure stage (gateway or callback).
	PaymentsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_failed_total",
		Help: "Payments that reached the failed state.",
	}, []string{"stage"})

	// CallbacksOrphaned counts provider callbacks that matched no
	// processing payment (unknown reference or duplicate delivery).
	CallbacksOrphaned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_callbacks_orphaned_total",
		Help: "Provider callbacks acknowledged but matching no processing payment.",
	})

	// ReceiptFailures counts receipt generations that failed after the
	// payment completed and need operator reconciliation.
	ReceiptFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "receipt_generation_failures_total",
		Help: "Receipt creations that failed after payment completion.",
	})

	// RouteFallbacks counts optimizer calls that fell back to the local
	// nearest-neighbor heuristic.
	RouteFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "route_fallbacks_total",
		Help: "Route plans served by the local heuristic after an optimizer failure.",
	})
)

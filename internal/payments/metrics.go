package payments

import "github.com/prometheus/client_golang/prometheus"

var (
	// OrdersCreatedTotal counts credit purchase orders created.
	OrdersCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "payments_orders_created_total",
		Help:      "Total credit purchase orders created.",
	})

	// WebhookEventsTotal counts webhook deliveries by event name.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "payments_webhook_events_total",
			Help:      "Total gateway webhook deliveries by event.",
		},
		[]string{"event"},
	)

	// SignatureFailuresTotal counts rejected signatures across both the
	// webhook and checkout verification paths.
	SignatureFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "payments_signature_failures_total",
		Help:      "Total payment callbacks rejected for bad signatures.",
	})
)

func init() {
	prometheus.MustRegister(OrdersCreatedTotal, WebhookEventsTotal, SignatureFailuresTotal)
}

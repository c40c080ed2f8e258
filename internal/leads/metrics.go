package leads

import "github.com/prometheus/client_golang/prometheus"

var (
	// InquiriesTotal counts captured buyer inquiries.
	InquiriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "leads_inquiries_total",
		Help:      "Total buyer inquiries captured.",
	})

	// UnlocksTotal counts first-time lead unlocks (replays excluded).
	UnlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "leads_unlocks_total",
		Help:      "Total leads unlocked by dealers.",
	})
)

func init() {
	prometheus.MustRegister(InquiriesTotal, UnlocksTotal)
}

package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LedgerOpsTotal counts ledger operations by type.
	LedgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "ledger_operations_total",
			Help:      "Total ledger operations by type.",
		},
		[]string{"type"},
	)

	// LedgerOpDuration observes operation latency by type.
	LedgerOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketplace",
			Name:      "ledger_operation_duration_seconds",
			Help:      "Ledger operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)

	// CreditsAppliedTotal sums credits added across all dealers.
	CreditsAppliedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "ledger_credits_applied_total",
		Help:      "Total credits added to dealer balances.",
	})

	// DebitsAppliedTotal sums credits spent across all dealers.
	DebitsAppliedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "ledger_debits_applied_total",
		Help:      "Total credits debited from dealer balances.",
	})

	// DuplicateEntriesTotal counts idempotent replays absorbed by the ledger.
	DuplicateEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "ledger_duplicate_entries_total",
			Help:      "Total replayed entries absorbed as no-ops.",
		},
		[]string{"type"},
	)

	// InsufficientCreditsTotal counts debits rejected for insufficient balance.
	InsufficientCreditsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "ledger_insufficient_credits_total",
		Help:      "Total debits rejected with insufficient credits.",
	})
)

func init() {
	prometheus.MustRegister(
		LedgerOpsTotal,
		LedgerOpDuration,
		CreditsAppliedTotal,
		DebitsAppliedTotal,
		DuplicateEntriesTotal,
		InsufficientCreditsTotal,
	)
}

// observeOp increments the operation counter and returns a function to observe duration.
func observeOp(opType string) func() {
	LedgerOpsTotal.WithLabelValues(opType).Inc()
	start := time.Now()
	return func() {
		LedgerOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	}
}

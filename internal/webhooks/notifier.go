package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dealerdesk/marketplace/internal/idgen"
	"github.com/dealerdesk/marketplace/internal/leads"
)

var (
	emitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	emitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(emitTotal, emitErrors)
}

// Notifier bridges marketplace lifecycle events into webhook deliveries.
// All methods are fire-and-forget: errors are logged but never returned.
type Notifier struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewNotifier creates a new webhook notifier.
func NewNotifier(d *Dispatcher, logger *slog.Logger) *Notifier {
	return &Notifier{d: d, logger: logger}
}

// LeadCreated broadcasts a lead.created event to every subscribed dealer.
// Contact details are masked; dealers pay to unlock them.
func (n *Notifier) LeadCreated(lead *leads.Lead) {
	if n == nil || n.d == nil {
		return
	}
	emitTotal.WithLabelValues(string(EventLeadCreated)).Inc()
	masked := lead.Masked()
	event := n.newEvent(EventLeadCreated, map[string]interface{}{
		"leadId":     masked.ID,
		"listingId":  masked.ListingID,
		"buyerName":  masked.BuyerName,
		"buyerPhone": masked.BuyerPhone,
		"city":       masked.City,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := n.d.Broadcast(ctx, event); err != nil {
		emitErrors.WithLabelValues(string(EventLeadCreated)).Inc()
		n.logger.Warn("webhook emit failed", "event", EventLeadCreated, "lead", lead.ID, "error", err)
	}
}

// LeadUnlocked notifies the unlocking dealer with full contact details.
func (n *Notifier) LeadUnlocked(dealerID string, lead *leads.Lead) {
	if n == nil || n.d == nil {
		return
	}
	emitTotal.WithLabelValues(string(EventLeadUnlocked)).Inc()
	event := n.newEvent(EventLeadUnlocked, map[string]interface{}{
		"leadId":     lead.ID,
		"listingId":  lead.ListingID,
		"buyerName":  lead.BuyerName,
		"buyerPhone": lead.BuyerPhone,
		"buyerEmail": lead.BuyerEmail,
		"city":       lead.City,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := n.d.DispatchToDealer(ctx, dealerID, event); err != nil {
		emitErrors.WithLabelValues(string(EventLeadUnlocked)).Inc()
		n.logger.Warn("webhook emit failed", "event", EventLeadUnlocked, "dealer", dealerID, "error", err)
	}
}

// CreditsTopup notifies a dealer that a payment landed in their balance.
// Wired as the payments service topup callback.
func (n *Notifier) CreditsTopup(dealerID string, credits, balance int64) {
	if n == nil || n.d == nil {
		return
	}
	emitTotal.WithLabelValues(string(EventCreditsTopup)).Inc()
	event := n.newEvent(EventCreditsTopup, map[string]interface{}{
		"dealerId": dealerID,
		"credits":  credits,
		"balance":  balance,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := n.d.DispatchToDealer(ctx, dealerID, event); err != nil {
		emitErrors.WithLabelValues(string(EventCreditsTopup)).Inc()
		n.logger.Warn("webhook emit failed", "event", EventCreditsTopup, "dealer", dealerID, "error", err)
	}
}

func (n *Notifier) newEvent(eventType EventType, data map[string]interface{}) *Event {
	return &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

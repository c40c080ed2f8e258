package realtime

import (
	"time"

	"github.com/dealerdesk/marketplace/internal/leads"
)

// Notifier feeds lead lifecycle events into the hub for the live dashboard.
type Notifier struct {
	hub *Hub
}

// NewNotifier creates a hub-backed lead notifier.
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

// LeadCreated streams a new lead to connected dashboards. Contact details
// are masked; the feed is visible to every authenticated dealer.
func (n *Notifier) LeadCreated(lead *leads.Lead) {
	if n == nil || n.hub == nil {
		return
	}
	masked := lead.Masked()
	n.hub.BroadcastLead(map[string]interface{}{
		"leadId":     masked.ID,
		"listingId":  masked.ListingID,
		"buyerName":  masked.BuyerName,
		"buyerPhone": masked.BuyerPhone,
		"city":       masked.City,
	})
}

// LeadUnlocked streams unlock activity. Contact details stay out of the
// shared feed; the unlocking dealer gets them over their webhook.
func (n *Notifier) LeadUnlocked(dealerID string, lead *leads.Lead) {
	if n == nil || n.hub == nil {
		return
	}
	n.hub.Broadcast(&Event{
		Type:      EventUnlock,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"leadId":    lead.ID,
			"listingId": lead.ListingID,
			"city":      lead.City,
		},
	})
}

// CreditsTopup streams a balance update marker to dashboards.
func (n *Notifier) CreditsTopup(dealerID string, credits, balance int64) {
	if n == nil || n.hub == nil {
		return
	}
	n.hub.Broadcast(&Event{
		Type:      EventTopup,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"dealerId": dealerID,
			"credits":  credits,
		},
	})
}

// Package leads manages buyer inquiries and the paid unlock of their
// contact details by dealers.
//
// A lead's phone and email stay masked until a dealer spends credits to
// unlock it. Unlocking is idempotent per (dealer, lead): repeating the
// unlock returns the contact details without charging again.
package leads

import (
	"context"
	"errors"
	"time"

	"github.com/dealerdesk/marketplace/internal/idgen"
	"github.com/dealerdesk/marketplace/internal/ledger"
	"github.com/dealerdesk/marketplace/internal/syncutil"
	"github.com/dealerdesk/marketplace/internal/traces"
)

var (
	ErrLeadNotFound     = errors.New("lead not found")
	ErrDuplicateInquiry = errors.New("inquiry already submitted for this listing")
)

// Lead statuses
const (
	StatusNew      = "new"
	StatusUnlocked = "unlocked"
)

// Lead is a buyer inquiry against a listing.
type Lead struct {
	ID         string    `json:"id"`
	ListingID  string    `json:"listingId"`
	BuyerName  string    `json:"buyerName"`
	BuyerPhone string    `json:"buyerPhone"`
	BuyerEmail string    `json:"buyerEmail,omitempty"`
	Message    string    `json:"message,omitempty"`
	City       string    `json:"city,omitempty"`
	Status     string    `json:"status"`
	// UnlockCost overrides the configured unlock price for this lead.
	// Zero means the default applies.
	UnlockCost int64     `json:"unlockCost,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Masked returns a copy safe to show a dealer who has not unlocked the
// lead: phone and email are partially redacted.
func (l *Lead) Masked() *Lead {
	c := *l
	c.BuyerPhone = maskPhone(c.BuyerPhone)
	c.BuyerEmail = maskEmail(c.BuyerEmail)
	return &c
}

// Unlock records who paid to see which lead and what it cost.
type Unlock struct {
	DealerID    string    `json:"dealerId"`
	LeadID      string    `json:"leadId"`
	CostCredits int64     `json:"costCredits"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UnlockResult is returned to the dealer after an unlock attempt.
type UnlockResult struct {
	Lead             *Lead `json:"lead"`
	CostCredits      int64 `json:"costCredits"`
	CreditsRemaining int64 `json:"creditsRemaining"`
	AlreadyUnlocked  bool  `json:"alreadyUnlocked"`
}

// Store persists leads and unlock records.
//
// RecordUnlock must be idempotent: recording an existing (dealer, lead)
// pair is a no-op.
type Store interface {
	CreateLead(ctx context.Context, lead *Lead) error
	GetLead(ctx context.Context, id string) (*Lead, error)
	ListLeads(ctx context.Context, limit, offset int) ([]*Lead, int, error)
	SetStatus(ctx context.Context, id, status string) error
	IsUnlocked(ctx context.Context, dealerID, leadID string) (bool, error)
	RecordUnlock(ctx context.Context, unlock *Unlock) error
	ListUnlocks(ctx context.Context, dealerID string, limit int) ([]*Unlock, error)
}

// Notifier receives lead lifecycle events. Implementations must not block.
type Notifier interface {
	LeadCreated(lead *Lead)
	LeadUnlocked(dealerID string, lead *Lead)
}

type noopNotifier struct{}

func (noopNotifier) LeadCreated(*Lead)          {}
func (noopNotifier) LeadUnlocked(string, *Lead) {}

// Service implements inquiry capture and the credit-gated unlock flow.
type Service struct {
	store       Store
	engine      *ledger.Engine
	unlockCost  int64
	notifier    Notifier
	unlockLocks syncutil.ShardedMutex
}

// NewService creates a lead service. unlockCost is the credit price of
// revealing one lead's contact details.
func NewService(store Store, engine *ledger.Engine, unlockCost int64) *Service {
	return &Service{
		store:      store,
		engine:     engine,
		unlockCost: unlockCost,
		notifier:   noopNotifier{},
	}
}

// SetNotifier installs a lifecycle event receiver.
func (s *Service) SetNotifier(n Notifier) {
	if n != nil {
		s.notifier = n
	}
}

// CreateInquiry captures a buyer inquiry. A buyer phone may inquire once
// per listing; repeats fail with ErrDuplicateInquiry.
func (s *Service) CreateInquiry(ctx context.Context, lead *Lead) (*Lead, error) {
	lead.ID = idgen.WithPrefix("lead_")
	lead.Status = StatusNew
	lead.CreatedAt = time.Now()

	if err := s.store.CreateLead(ctx, lead); err != nil {
		return nil, err
	}

	InquiriesTotal.Inc()
	s.notifier.LeadCreated(lead)
	return lead, nil
}

// Get returns a lead with contact details masked unless the requesting
// dealer has unlocked it.
func (s *Service) Get(ctx context.Context, dealerID, leadID string) (*Lead, error) {
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}

	unlocked, err := s.store.IsUnlocked(ctx, dealerID, leadID)
	if err != nil {
		return nil, err
	}
	if unlocked {
		return lead, nil
	}
	return lead.Masked(), nil
}

// List returns leads newest first with contact details masked, plus the
// total count for pagination.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Lead, int, error) {
	all, total, err := s.store.ListLeads(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	masked := make([]*Lead, len(all))
	for i, l := range all {
		masked[i] = l.Masked()
	}
	return masked, total, nil
}

// Unlock charges the dealer and reveals the lead's contact details.
//
// The debit carries the idempotency key dealerID+":"+leadID, so two
// concurrent unlocks of the same lead by the same dealer charge exactly
// once. A dealer who already unlocked the lead gets the details back
// without a new charge.
func (s *Service) Unlock(ctx context.Context, dealerID, leadID string) (*UnlockResult, error) {
	ctx, span := traces.StartSpan(ctx, "leads.Unlock",
		traces.DealerID(dealerID), traces.LeadID(leadID))
	defer span.End()

	// The ledger makes the debit idempotent; this lock additionally keeps
	// concurrent duplicate unlocks from racing the check-then-record
	// sequence, so alreadyUnlocked is reported accurately.
	release := s.unlockLocks.Lock(dealerID + ":" + leadID)
	defer release()

	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}

	unlocked, err := s.store.IsUnlocked(ctx, dealerID, leadID)
	if err != nil {
		return nil, err
	}
	if unlocked {
		balance, err := s.engine.Balance(ctx, dealerID)
		if err != nil {
			return nil, err
		}
		return &UnlockResult{
			Lead:             lead,
			CostCredits:      0,
			CreditsRemaining: balance,
			AlreadyUnlocked:  true,
		}, nil
	}

	cost := lead.UnlockCost
	if cost == 0 {
		cost = s.unlockCost
	}

	res, err := s.engine.Debit(ctx, dealerID, cost, ledger.ReasonLeadUnlock, dealerID+":"+leadID)
	if err != nil {
		return nil, err
	}

	if err := s.store.RecordUnlock(ctx, &Unlock{
		DealerID:    dealerID,
		LeadID:      leadID,
		CostCredits: cost,
		CreatedAt:   time.Now(),
	}); err != nil {
		return nil, err
	}

	// Status flip is informational; the unlock record is the source of truth.
	_ = s.store.SetStatus(ctx, leadID, StatusUnlocked)

	if res.Applied {
		UnlocksTotal.Inc()
		s.notifier.LeadUnlocked(dealerID, lead)
	}

	if !res.Applied {
		cost = 0
	}
	return &UnlockResult{
		Lead:             lead,
		CostCredits:      cost,
		CreditsRemaining: res.Balance,
		AlreadyUnlocked:  !res.Applied,
	}, nil
}

// IsUnlocked reports whether a dealer has already paid for a lead.
func (s *Service) IsUnlocked(ctx context.Context, dealerID, leadID string) (bool, error) {
	if _, err := s.store.GetLead(ctx, leadID); err != nil {
		return false, err
	}
	return s.store.IsUnlocked(ctx, dealerID, leadID)
}

// Unlocks returns a dealer's unlock history, newest first.
func (s *Service) Unlocks(ctx context.Context, dealerID string, limit int) ([]*Unlock, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListUnlocks(ctx, dealerID, limit)
}

// maskPhone keeps the first two and last two digits: 9876543210 becomes
// 98XXXXXX10. Short values are fully redacted.
func maskPhone(phone string) string {
	if len(phone) < 6 {
		return "XXXX"
	}
	masked := []byte(phone)
	for i := 2; i < len(masked)-2; i++ {
		masked[i] = 'X'
	}
	return string(masked)
}

// maskEmail keeps the first character and the domain.
func maskEmail(email string) string {
	if email == "" {
		return ""
	}
	at := -1
	for i, r := range email {
		if r == '@' {
			at = i
			break
		}
	}
	if at <= 1 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

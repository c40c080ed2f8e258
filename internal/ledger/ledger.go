// Package ledger tracks dealer credit balances on the platform.
//
// Flow:
//  1. Dealer buys credits (payment gateway webhook or checkout verify)
//  2. Platform credits the dealer's balance
//  3. Dealer spends credits unlocking leads (debits balance)
//
// Every balance change is an immutable Entry carrying an idempotency key.
// Re-applying an entry with a seen key is a no-op that returns the result
// of the first application, which is what makes gateway retries and
// crash-replays safe.
package ledger

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/dealerdesk/marketplace/internal/idgen"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("amount must be a positive integer")
	ErrBalanceOverflow     = errors.New("balance overflow")
)

// Entry reasons
const (
	ReasonWebhookTopup    = "webhook_topup"
	ReasonCheckoutTopup   = "checkout_topup"
	ReasonLeadUnlock      = "lead_unlock"
	ReasonAdminAdjustment = "admin_adjustment"
	ReasonOnboardingBonus = "onboarding_bonus"
)

// Entry represents one balance change. Delta is positive for credits,
// negative for debits. Balance is the dealer's balance as of the first
// application of this entry's idempotency key.
type Entry struct {
	ID             string    `json:"id"`
	DealerID       string    `json:"dealerId"`
	Delta          int64     `json:"delta"`
	Reason         string    `json:"reason"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Balance        int64     `json:"balance"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ApplyResult reports whether an entry mutated the ledger and the balance
// observed by the caller. For a duplicate key, Applied is false and Balance
// is the balance as of the first application.
type ApplyResult struct {
	Applied bool  `json:"applied"`
	Balance int64 `json:"balance"`
}

// Store persists dealer balances and the append-only entry log.
//
// ApplyEntry must be atomic per dealer: the duplicate-key check, the
// balance guard, and the mutation are one indivisible step with respect
// to concurrent calls for the same dealer. Entries for different dealers
// have no ordering requirement between them.
type Store interface {
	GetBalance(ctx context.Context, dealerID string) (int64, error)
	ApplyEntry(ctx context.Context, entry *Entry) (ApplyResult, error)
	History(ctx context.Context, dealerID string, limit int) ([]*Entry, error)
}

// Engine is the only path through which balances change. Everything else
// (webhook ingestion, lead unlocks, checkout verify, admin adjustments)
// goes through Credit and Debit.
type Engine struct {
	store Store
}

// NewEngine creates a new credit ledger engine
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Balance returns a dealer's current credit balance. Unknown dealers have
// balance 0 — there is no implicit account creation error.
func (e *Engine) Balance(ctx context.Context, dealerID string) (int64, error) {
	return e.store.GetBalance(ctx, dealerID)
}

// Credit adds amount credits to a dealer's balance with reason
// webhook_topup. Replayed deliveries bearing the same key never
// double-credit.
func (e *Engine) Credit(ctx context.Context, dealerID string, amount int64, key string) (ApplyResult, error) {
	return e.CreditWithReason(ctx, dealerID, amount, ReasonWebhookTopup, key)
}

// CreditWithReason is Credit with an explicit reason code (checkout_topup,
// admin_adjustment).
func (e *Engine) CreditWithReason(ctx context.Context, dealerID string, amount int64, reason, key string) (ApplyResult, error) {
	if amount <= 0 {
		return ApplyResult{}, ErrInvalidAmount
	}
	done := observeOp("credit")
	defer done()

	res, err := e.store.ApplyEntry(ctx, &Entry{
		ID:             idgen.WithPrefix("le_"),
		DealerID:       dealerID,
		Delta:          amount,
		Reason:         reason,
		IdempotencyKey: key,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		return ApplyResult{}, err
	}
	if res.Applied {
		CreditsAppliedTotal.Add(float64(amount))
	} else {
		DuplicateEntriesTotal.WithLabelValues("credit").Inc()
	}
	return res, nil
}

// Debit removes amount credits from a dealer's balance. If the balance is
// insufficient it fails with ErrInsufficientCredits and mutates nothing.
// The balance check and the entry application are one atomic step: two
// concurrent debits against a balance sufficient for only one result in
// exactly one success.
func (e *Engine) Debit(ctx context.Context, dealerID string, amount int64, reason, key string) (ApplyResult, error) {
	if amount <= 0 {
		return ApplyResult{}, ErrInvalidAmount
	}
	if amount == math.MaxInt64 {
		// -amount would overflow the delta below
		return ApplyResult{}, ErrInvalidAmount
	}
	done := observeOp("debit")
	defer done()

	res, err := e.store.ApplyEntry(ctx, &Entry{
		ID:             idgen.WithPrefix("le_"),
		DealerID:       dealerID,
		Delta:          -amount,
		Reason:         reason,
		IdempotencyKey: key,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			InsufficientCreditsTotal.Inc()
		}
		return ApplyResult{}, err
	}
	if res.Applied {
		DebitsAppliedTotal.Add(float64(amount))
	} else {
		DuplicateEntriesTotal.WithLabelValues("debit").Inc()
	}
	return res, nil
}

// History returns a dealer's ledger entries, newest first.
func (e *Engine) History(ctx context.Context, dealerID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.store.History(ctx, dealerID, limit)
}

package ledger

import (
	"context"
	"math"
	"sync"

	"github.com/dealerdesk/marketplace/internal/syncutil"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
// A sharded mutex keyed by dealer id serializes all mutations for one
// dealer while letting different dealers proceed independently. The
// lock is context-aware so a caller stuck behind a hot dealer can bail
// out when its request is cancelled.
type MemoryStore struct {
	locks    *syncutil.ContextShardedMutex
	mu       sync.RWMutex
	balances map[string]int64
	entries  []*Entry
	byKey    map[string]*Entry
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:    syncutil.NewContextShardedMutex(),
		balances: make(map[string]int64),
		entries:  make([]*Entry, 0),
		byKey:    make(map[string]*Entry),
	}
}

func (m *MemoryStore) GetBalance(ctx context.Context, dealerID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[dealerID], nil
}

func (m *MemoryStore) ApplyEntry(ctx context.Context, entry *Entry) (ApplyResult, error) {
	// Serialize per dealer: check-then-mutate is one critical section.
	unlock, err := m.locks.LockContext(ctx, entry.DealerID)
	if err != nil {
		return ApplyResult{}, err
	}
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.byKey[entry.IdempotencyKey]; ok {
		return ApplyResult{Applied: false, Balance: prior.Balance}, nil
	}

	bal := m.balances[entry.DealerID]
	if entry.Delta < 0 && bal+entry.Delta < 0 {
		return ApplyResult{}, ErrInsufficientCredits
	}
	if entry.Delta > 0 && bal > math.MaxInt64-entry.Delta {
		return ApplyResult{}, ErrBalanceOverflow
	}

	bal += entry.Delta
	cp := *entry
	cp.Balance = bal

	m.balances[entry.DealerID] = bal
	m.entries = append(m.entries, &cp)
	m.byKey[entry.IdempotencyKey] = &cp

	return ApplyResult{Applied: true, Balance: bal}, nil
}

func (m *MemoryStore) History(ctx context.Context, dealerID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].DealerID == dealerID {
			result = append(result, m.entries[i])
		}
	}
	return result, nil
}

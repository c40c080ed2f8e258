package leads

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	leads     map[string]*Lead
	byInquiry map[string]bool // listingID + ":" + buyerPhone
	unlocks   map[string]*Unlock
	order     []string // lead IDs in insertion order
}

// NewMemoryStore creates an empty in-memory lead store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leads:     make(map[string]*Lead),
		byInquiry: make(map[string]bool),
		unlocks:   make(map[string]*Unlock),
	}
}

func (m *MemoryStore) CreateLead(ctx context.Context, lead *Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inquiryKey := lead.ListingID + ":" + lead.BuyerPhone
	if m.byInquiry[inquiryKey] {
		return ErrDuplicateInquiry
	}

	c := *lead
	m.leads[lead.ID] = &c
	m.byInquiry[inquiryKey] = true
	m.order = append(m.order, lead.ID)
	return nil
}

func (m *MemoryStore) GetLead(ctx context.Context, id string) (*Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lead, ok := m.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	c := *lead
	return &c, nil
}

func (m *MemoryStore) ListLeads(ctx context.Context, limit, offset int) ([]*Lead, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := len(m.order)
	var result []*Lead
	// Newest first
	for i := total - 1 - offset; i >= 0 && len(result) < limit; i-- {
		c := *m.leads[m.order[i]]
		result = append(result, &c)
	}
	return result, total, nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lead, ok := m.leads[id]
	if !ok {
		return ErrLeadNotFound
	}
	lead.Status = status
	return nil
}

func (m *MemoryStore) IsUnlocked(ctx context.Context, dealerID, leadID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.unlocks[dealerID+":"+leadID]
	return ok, nil
}

func (m *MemoryStore) RecordUnlock(ctx context.Context, unlock *Unlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := unlock.DealerID + ":" + unlock.LeadID
	if _, ok := m.unlocks[key]; ok {
		return nil
	}
	c := *unlock
	m.unlocks[key] = &c
	return nil
}

func (m *MemoryStore) ListUnlocks(ctx context.Context, dealerID string, limit int) ([]*Unlock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Unlock
	for _, u := range m.unlocks {
		if u.DealerID == dealerID {
			c := *u
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

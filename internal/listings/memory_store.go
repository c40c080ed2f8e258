package listings

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[string]*Listing
	order    []string // listing IDs in insertion order
}

// NewMemoryStore creates an empty in-memory listing store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listings: make(map[string]*Listing)}
}

func (m *MemoryStore) CreateListing(ctx context.Context, listing *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *listing
	m.listings[listing.ID] = &c
	m.order = append(m.order, listing.ID)
	return nil
}

func (m *MemoryStore) GetListing(ctx context.Context, id string) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	listing, ok := m.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	c := *listing
	return &c, nil
}

func (m *MemoryStore) Search(ctx context.Context, q Query) ([]*Listing, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []*Listing
	// Newest first
	for i := len(m.order) - 1; i >= 0; i-- {
		l := m.listings[m.order[i]]
		if l.Status != StatusPublished {
			continue
		}
		if !matchesQuery(l, q) {
			continue
		}
		c := *l
		matches = append(matches, &c)
	}

	total := len(matches)
	if q.Offset >= total {
		return nil, total, nil
	}
	matches = matches[q.Offset:]
	if len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, total, nil
}

func matchesQuery(l *Listing, q Query) bool {
	if q.Q != "" {
		needle := strings.ToLower(q.Q)
		haystack := strings.ToLower(l.Title + " " + l.Brand + " " + l.Model)
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	if q.Brand != "" && !strings.EqualFold(l.Brand, q.Brand) {
		return false
	}
	if q.City != "" && !strings.EqualFold(l.City, q.City) {
		return false
	}
	if q.PriceMax > 0 && l.Price > q.PriceMax {
		return false
	}
	return true
}

func (m *MemoryStore) ListByDealer(ctx context.Context, dealerID string) ([]*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Listing
	for i := len(m.order) - 1; i >= 0; i-- {
		l := m.listings[m.order[i]]
		if l.DealerID == dealerID {
			c := *l
			result = append(result, &c)
		}
	}
	return result, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id, dealerID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing, ok := m.listings[id]
	if !ok || listing.DealerID != dealerID {
		return ErrListingNotFound
	}
	listing.Status = status
	listing.UpdatedAt = time.Now()
	return nil
}

// Package listings manages vehicle listings and their public search.
package listings

import (
	"context"
	"errors"
	"time"

	"github.com/dealerdesk/marketplace/internal/idgen"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrInvalidListing  = errors.New("invalid listing")
	ErrInvalidStatus   = errors.New("invalid listing status")
)

// Listing statuses
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusSold      = "sold"
	StatusArchived  = "archived"
)

// Listing is a vehicle offered for sale by a dealer.
type Listing struct {
	ID          string    `json:"id"`
	DealerID    string    `json:"dealerId"`
	Title       string    `json:"title"`
	Brand       string    `json:"brand"`
	Model       string    `json:"model"`
	Year        int       `json:"year"`
	Price       int64     `json:"price"`
	KmsDriven   int       `json:"kmsDriven"`
	City        string    `json:"city"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Query filters the public search. Zero values mean "no filter".
type Query struct {
	Q        string // substring match on title, brand, model
	Brand    string // exact match, case-insensitive
	City     string // exact match, case-insensitive
	PriceMax int64  // inclusive upper bound, 0 = unbounded
	Limit    int
	Offset   int
}

// Store persists listings.
type Store interface {
	CreateListing(ctx context.Context, listing *Listing) error
	GetListing(ctx context.Context, id string) (*Listing, error)
	Search(ctx context.Context, q Query) ([]*Listing, int, error)
	ListByDealer(ctx context.Context, dealerID string) ([]*Listing, error)
	UpdateStatus(ctx context.Context, id, dealerID, status string) error
}

// Service wraps the store with input checks and defaults.
type Service struct {
	store Store
}

// NewService creates a listing service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create publishes a new listing for a dealer.
func (s *Service) Create(ctx context.Context, listing *Listing) (*Listing, error) {
	if listing.Title == "" || listing.Brand == "" || listing.Price <= 0 {
		return nil, ErrInvalidListing
	}

	listing.ID = idgen.WithPrefix("lst_")
	if listing.Status == "" {
		listing.Status = StatusPublished
	}
	now := time.Now()
	listing.CreatedAt = now
	listing.UpdatedAt = now

	if err := s.store.CreateListing(ctx, listing); err != nil {
		return nil, err
	}
	return listing, nil
}

// Get returns one listing by ID.
func (s *Service) Get(ctx context.Context, id string) (*Listing, error) {
	return s.store.GetListing(ctx, id)
}

// Search returns published listings matching the query, newest first,
// plus the total match count for pagination.
func (s *Service) Search(ctx context.Context, q Query) ([]*Listing, int, error) {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 12
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return s.store.Search(ctx, q)
}

// ListByDealer returns all of a dealer's listings regardless of status.
func (s *Service) ListByDealer(ctx context.Context, dealerID string) ([]*Listing, error) {
	return s.store.ListByDealer(ctx, dealerID)
}

// UpdateStatus moves a listing through its lifecycle. Only the owning
// dealer may change a listing's status.
func (s *Service) UpdateStatus(ctx context.Context, id, dealerID, status string) error {
	switch status {
	case StatusDraft, StatusPublished, StatusSold, StatusArchived:
	default:
		return ErrInvalidStatus
	}
	return s.store.UpdateStatus(ctx, id, dealerID, status)
}

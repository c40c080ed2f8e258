// Package auth provides API authentication for the marketplace.
//
// Authentication model:
// - Public endpoints (search, inquiry capture): no auth required
// - Dealer endpoints (leads, unlocks, billing): dealer API key
// - Admin endpoints: session token from email + password login
// - API keys are issued on dealer registration and shown once
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"
)

// Errors
var (
	ErrNoAPIKey       = errors.New("API key required")
	ErrInvalidAPIKey  = errors.New("invalid or revoked API key")
	ErrKeyNotFound    = errors.New("API key not found")
	ErrDealerNotFound = errors.New("dealer not found")
	ErrDealerExists   = errors.New("dealer already registered with this phone")
)

// Dealer is a registered dealership account.
type Dealer struct {
	ID           string    `json:"id"`
	BusinessName string    `json:"businessName"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone"`
	City         string    `json:"city,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// APIKey represents a dealer API key
type APIKey struct {
	ID        string    `json:"id"`
	Hash      string    `json:"-"` // SHA256 hash of key (stored)
	DealerID  string    `json:"dealerId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed,omitempty"`
	Revoked   bool      `json:"revoked"`
}

// Store persists dealer accounts and API keys
type Store interface {
	CreateDealer(ctx context.Context, dealer *Dealer) error
	GetDealer(ctx context.Context, id string) (*Dealer, error)
	CreateKey(ctx context.Context, key *APIKey) error
	GetKeyByHash(ctx context.Context, hash string) (*APIKey, error)
	GetKeysByDealer(ctx context.Context, dealerID string) ([]*APIKey, error)
	UpdateKey(ctx context.Context, key *APIKey) error
}

// Manager handles dealer registration and API key authentication
type Manager struct {
	store Store
}

// NewManager creates a new auth manager
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// RegisterDealer creates a dealer account and issues its first API key.
// The raw key is returned once and never stored.
func (m *Manager) RegisterDealer(ctx context.Context, dealer *Dealer) (string, *APIKey, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	dealer.ID = "dlr_" + hex.EncodeToString(b)
	dealer.CreatedAt = time.Now()

	if err := m.store.CreateDealer(ctx, dealer); err != nil {
		return "", nil, err
	}

	return m.GenerateKey(ctx, dealer.ID, "default")
}

// GetDealer returns a dealer account by ID.
func (m *Manager) GetDealer(ctx context.Context, id string) (*Dealer, error) {
	return m.store.GetDealer(ctx, id)
}

// GenerateKey creates a new API key for a dealer.
// Returns the raw key (shown once) and the stored metadata.
func (m *Manager) GenerateKey(ctx context.Context, dealerID, name string) (rawKey string, key *APIKey, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}

	rawKey = "dk_" + hex.EncodeToString(b)

	key = &APIKey{
		ID:        "ak_" + hex.EncodeToString(b[:8]),
		Hash:      hashKey(rawKey),
		DealerID:  dealerID,
		Name:      name,
		CreatedAt: time.Now(),
	}

	if err := m.store.CreateKey(ctx, key); err != nil {
		return "", nil, err
	}

	return rawKey, key, nil
}

// ValidateKey validates a dealer API key and returns its metadata
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}

	rawKey = strings.TrimPrefix(rawKey, "Bearer ")
	rawKey = strings.TrimSpace(rawKey)

	if !strings.HasPrefix(rawKey, "dk_") {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.GetKeyByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if key.Revoked {
		return nil, ErrInvalidAPIKey
	}

	// Update last used (fire and forget)
	go func() {
		key.LastUsed = time.Now()
		_ = m.store.UpdateKey(context.Background(), key)
	}()

	return key, nil
}

// ListKeys returns all keys for a dealer
func (m *Manager) ListKeys(ctx context.Context, dealerID string) ([]*APIKey, error) {
	return m.store.GetKeysByDealer(ctx, dealerID)
}

// RevokeKey revokes a dealer's API key
func (m *Manager) RevokeKey(ctx context.Context, keyID, dealerID string) error {
	keys, err := m.store.GetKeysByDealer(ctx, dealerID)
	if err != nil {
		return err
	}

	for _, k := range keys {
		if k.ID == keyID {
			k.Revoked = true
			return m.store.UpdateKey(ctx, k)
		}
	}

	return ErrKeyNotFound
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu      sync.RWMutex
	dealers map[string]*Dealer
	byPhone map[string]string // phone -> dealer ID
	keys    map[string]*APIKey
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		dealers: make(map[string]*Dealer),
		byPhone: make(map[string]string),
		keys:    make(map[string]*APIKey),
	}
}

func (s *MemoryStore) CreateDealer(ctx context.Context, dealer *Dealer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byPhone[dealer.Phone]; ok {
		return ErrDealerExists
	}
	c := *dealer
	s.dealers[dealer.ID] = &c
	s.byPhone[dealer.Phone] = dealer.ID
	return nil
}

func (s *MemoryStore) GetDealer(ctx context.Context, id string) (*Dealer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dealer, ok := s.dealers[id]
	if !ok {
		return nil, ErrDealerNotFound
	}
	c := *dealer
	return &c, nil
}

func (s *MemoryStore) CreateKey(ctx context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = key
	return nil
}

func (s *MemoryStore) GetKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Hash == hash {
			return k, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (s *MemoryStore) GetKeysByDealer(ctx context.Context, dealerID string) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*APIKey
	for _, k := range s.keys {
		if k.DealerID == dealerID {
			result = append(result, k)
		}
	}
	return result, nil
}

func (s *MemoryStore) UpdateKey(ctx context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = key
	return nil
}

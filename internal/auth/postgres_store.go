package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore persists dealers and API keys in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed auth store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateDealer stores a new dealer account. The dealers row may already
// exist from a ledger credit upsert; in that case the profile columns are
// filled in.
func (p *PostgresStore) CreateDealer(ctx context.Context, dealer *Dealer) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dealers (id, business_name, email, phone, city, credits_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $6)
		ON CONFLICT (id) DO UPDATE SET
			business_name = EXCLUDED.business_name,
			email         = EXCLUDED.email,
			phone         = EXCLUDED.phone,
			city          = EXCLUDED.city,
			updated_at    = NOW()
	`, dealer.ID, dealer.BusinessName, dealer.Email, dealer.Phone, dealer.City, dealer.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDealerExists
		}
		return err
	}
	return nil
}

// GetDealer retrieves a dealer account
func (p *PostgresStore) GetDealer(ctx context.Context, id string) (*Dealer, error) {
	dealer := &Dealer{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(business_name, ''), COALESCE(email, ''),
		       COALESCE(phone, ''), COALESCE(city, ''), created_at
		FROM dealers WHERE id = $1
	`, id).Scan(&dealer.ID, &dealer.BusinessName, &dealer.Email,
		&dealer.Phone, &dealer.City, &dealer.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDealerNotFound
	}
	if err != nil {
		return nil, err
	}
	return dealer, nil
}

// CreateKey stores a new API key
func (p *PostgresStore) CreateKey(ctx context.Context, key *APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, hash, dealer_id, name, created_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, key.ID, key.Hash, key.DealerID, key.Name, key.CreatedAt, key.Revoked)
	return err
}

// GetKeyByHash retrieves an API key by its hash
func (p *PostgresStore) GetKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	key := &APIKey{}
	var lastUsed sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT id, hash, dealer_id, name, created_at, last_used, revoked
		FROM api_keys WHERE hash = $1 AND revoked = FALSE
	`, hash).Scan(&key.ID, &key.Hash, &key.DealerID, &key.Name,
		&key.CreatedAt, &lastUsed, &key.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}

	if lastUsed.Valid {
		key.LastUsed = lastUsed.Time
	}
	return key, nil
}

// GetKeysByDealer retrieves all API keys for a dealer
func (p *PostgresStore) GetKeysByDealer(ctx context.Context, dealerID string) ([]*APIKey, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, hash, dealer_id, name, created_at, last_used, revoked
		FROM api_keys WHERE dealer_id = $1 ORDER BY created_at DESC
	`, dealerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []*APIKey
	for rows.Next() {
		key := &APIKey{}
		var lastUsed sql.NullTime
		if err := rows.Scan(&key.ID, &key.Hash, &key.DealerID, &key.Name,
			&key.CreatedAt, &lastUsed, &key.Revoked); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			key.LastUsed = lastUsed.Time
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// UpdateKey updates an API key
func (p *PostgresStore) UpdateKey(ctx context.Context, key *APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used = $1, revoked = $2 WHERE id = $3
	`, key.LastUsed, key.Revoked, key.ID)
	return err
}

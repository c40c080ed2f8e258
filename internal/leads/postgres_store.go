package leads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
//
// Duplicate inquiries are rejected by a UNIQUE (listing_id, buyer_phone)
// constraint; duplicate unlocks are absorbed by ON CONFLICT DO NOTHING on
// the (dealer_id, lead_id) primary key.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed lead store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateLead(ctx context.Context, lead *Lead) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO leads (id, listing_id, buyer_name, buyer_phone, buyer_email, message, city, status, unlock_cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, lead.ID, lead.ListingID, lead.BuyerName, lead.BuyerPhone, lead.BuyerEmail,
		lead.Message, lead.City, lead.Status, lead.UnlockCost, lead.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateInquiry
		}
		return fmt.Errorf("failed to create lead: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetLead(ctx context.Context, id string) (*Lead, error) {
	lead := &Lead{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, listing_id, buyer_name, buyer_phone, COALESCE(buyer_email, ''),
		       COALESCE(message, ''), COALESCE(city, ''), status, unlock_cost, created_at
		FROM leads WHERE id = $1
	`, id).Scan(&lead.ID, &lead.ListingID, &lead.BuyerName, &lead.BuyerPhone,
		&lead.BuyerEmail, &lead.Message, &lead.City, &lead.Status, &lead.UnlockCost, &lead.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLeadNotFound
	}
	if err != nil {
		return nil, err
	}
	return lead, nil
}

func (p *PostgresStore) ListLeads(ctx context.Context, limit, offset int) ([]*Lead, int, error) {
	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, listing_id, buyer_name, buyer_phone, COALESCE(buyer_email, ''),
		       COALESCE(message, ''), COALESCE(city, ''), status, unlock_cost, created_at
		FROM leads
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var leads []*Lead
	for rows.Next() {
		lead := &Lead{}
		if err := rows.Scan(&lead.ID, &lead.ListingID, &lead.BuyerName, &lead.BuyerPhone,
			&lead.BuyerEmail, &lead.Message, &lead.City, &lead.Status, &lead.UnlockCost, &lead.CreatedAt); err != nil {
			return nil, 0, err
		}
		leads = append(leads, lead)
	}
	return leads, total, rows.Err()
}

func (p *PostgresStore) SetStatus(ctx context.Context, id, status string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE leads SET status = $2 WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLeadNotFound
	}
	return nil
}

func (p *PostgresStore) IsUnlocked(ctx context.Context, dealerID, leadID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM unlock_events WHERE dealer_id = $1 AND lead_id = $2
		)
	`, dealerID, leadID).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) RecordUnlock(ctx context.Context, unlock *Unlock) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO unlock_events (dealer_id, lead_id, cost_credits, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dealer_id, lead_id) DO NOTHING
	`, unlock.DealerID, unlock.LeadID, unlock.CostCredits, unlock.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record unlock: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListUnlocks(ctx context.Context, dealerID string, limit int) ([]*Unlock, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT dealer_id, lead_id, cost_credits, created_at
		FROM unlock_events
		WHERE dealer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, dealerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var unlocks []*Unlock
	for rows.Next() {
		u := &Unlock{}
		if err := rows.Scan(&u.DealerID, &u.LeadID, &u.CostCredits, &u.CreatedAt); err != nil {
			return nil, err
		}
		unlocks = append(unlocks, u)
	}
	return unlocks, rows.Err()
}

package listings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed listing store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const listingColumns = `id, dealer_id, title, brand, model, year, price, kms_driven, city,
	COALESCE(description, ''), status, created_at, updated_at`

func scanListing(scan func(...any) error) (*Listing, error) {
	l := &Listing{}
	err := scan(&l.ID, &l.DealerID, &l.Title, &l.Brand, &l.Model, &l.Year, &l.Price,
		&l.KmsDriven, &l.City, &l.Description, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (p *PostgresStore) CreateListing(ctx context.Context, listing *Listing) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO listings (id, dealer_id, title, brand, model, year, price, kms_driven, city, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, listing.ID, listing.DealerID, listing.Title, listing.Brand, listing.Model, listing.Year,
		listing.Price, listing.KmsDriven, listing.City, listing.Description, listing.Status,
		listing.CreatedAt, listing.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create listing: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetListing(ctx context.Context, id string) (*Listing, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+listingColumns+` FROM listings WHERE id = $1
	`, id)
	listing, err := scanListing(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	return listing, err
}

// Search builds a filtered query over published listings. Filters are
// combined with AND; the text filter matches title, brand, or model.
func (p *PostgresStore) Search(ctx context.Context, q Query) ([]*Listing, int, error) {
	where := []string{"status = 'published'"}
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q.Q != "" {
		ph := arg("%" + q.Q + "%")
		where = append(where, "(title ILIKE "+ph+" OR brand ILIKE "+ph+" OR model ILIKE "+ph+")")
	}
	if q.Brand != "" {
		where = append(where, "LOWER(brand) = LOWER("+arg(q.Brand)+")")
	}
	if q.City != "" {
		where = append(where, "LOWER(city) = LOWER("+arg(q.City)+")")
	}
	if q.PriceMax > 0 {
		where = append(where, "price <= "+arg(q.PriceMax))
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	if err := p.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM listings WHERE "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + listingColumns + " FROM listings WHERE " + whereClause +
		" ORDER BY created_at DESC, id DESC LIMIT " + arg(q.Limit) + " OFFSET " + arg(q.Offset)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var listings []*Listing
	for rows.Next() {
		listing, err := scanListing(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		listings = append(listings, listing)
	}
	return listings, total, rows.Err()
}

func (p *PostgresStore) ListByDealer(ctx context.Context, dealerID string) ([]*Listing, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE dealer_id = $1
		ORDER BY created_at DESC, id DESC
	`, dealerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []*Listing
	for rows.Next() {
		listing, err := scanListing(rows.Scan)
		if err != nil {
			return nil, err
		}
		listings = append(listings, listing)
	}
	return listings, rows.Err()
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id, dealerID, status string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE listings SET status = $3, updated_at = NOW()
		WHERE id = $1 AND dealer_id = $2
	`, id, dealerID, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrListingNotFound
	}
	return nil
}

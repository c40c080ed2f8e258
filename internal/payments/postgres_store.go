package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateOrder(ctx context.Context, order *Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders (id, dealer_id, credits, base_amount, gst_amount, total_amount, currency, status, receipt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, order.ID, order.DealerID, order.Credits, order.BaseAmount, order.GSTAmount,
		order.TotalAmount, order.Currency, order.Status, order.Receipt, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	order := &Order{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, dealer_id, credits, base_amount, gst_amount, total_amount, currency, status, receipt, created_at
		FROM orders WHERE id = $1
	`, id).Scan(&order.ID, &order.DealerID, &order.Credits, &order.BaseAmount, &order.GSTAmount,
		&order.TotalAmount, &order.Currency, &order.Status, &order.Receipt, &order.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (p *PostgresStore) MarkPaid(ctx context.Context, id, paymentID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE orders SET status = 'paid', payment_id = $2 WHERE id = $1
	`, id, paymentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (p *PostgresStore) ListByDealer(ctx context.Context, dealerID string, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, dealer_id, credits, base_amount, gst_amount, total_amount, currency, status, receipt, created_at
		FROM orders
		WHERE dealer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, dealerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		order := &Order{}
		if err := rows.Scan(&order.ID, &order.DealerID, &order.Credits, &order.BaseAmount, &order.GSTAmount,
			&order.TotalAmount, &order.Currency, &order.Status, &order.Receipt, &order.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

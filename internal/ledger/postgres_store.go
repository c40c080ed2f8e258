package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/dealerdesk/marketplace/internal/retry"
)

// PostgresStore implements Store with PostgreSQL.
//
// Atomicity comes from three layers: serializable transactions, a UNIQUE
// index on the idempotency key, and a CHECK (credits_balance >= 0)
// constraint on dealers. A concurrent duplicate surfaces as a unique
// violation and is resolved by re-reading the first application's entry.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetBalance retrieves a dealer's balance. Unknown dealers have balance 0.
func (p *PostgresStore) GetBalance(ctx context.Context, dealerID string) (int64, error) {
	var balance int64
	err := p.db.QueryRowContext(ctx, `
		SELECT credits_balance FROM dealers WHERE id = $1
	`, dealerID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// ApplyEntry appends an entry and updates the dealer's balance in one
// serializable transaction. Duplicate idempotency keys are a no-op
// returning the balance as of the first application. Serialization
// failures against unrelated transactions are retried with backoff.
func (p *PostgresStore) ApplyEntry(ctx context.Context, entry *Entry) (ApplyResult, error) {
	var res ApplyResult
	err := retry.Do(ctx, 3, 10*time.Millisecond, func() error {
		r, err := p.applyOnce(ctx, entry)
		if err != nil {
			if isSerializationFailure(err) {
				return err
			}
			return retry.Permanent(err)
		}
		res = r
		return nil
	})
	return res, err
}

func (p *PostgresStore) applyOnce(ctx context.Context, entry *Entry) (ApplyResult, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ApplyResult{}, err
	}
	defer tx.Rollback()

	// Replay check: a seen key returns the first application's result.
	var priorBalance int64
	err = tx.QueryRowContext(ctx, `
		SELECT balance FROM credit_ledger_entries WHERE idempotency_key = $1
	`, entry.IdempotencyKey).Scan(&priorBalance)
	if err == nil {
		return ApplyResult{Applied: false, Balance: priorBalance}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ApplyResult{}, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	var newBalance int64
	if entry.Delta >= 0 {
		// Credits upsert the dealer row so a top-up for a dealer the
		// ledger has never seen still lands.
		err = tx.QueryRowContext(ctx, `
			INSERT INTO dealers (id, credits_balance, created_at, updated_at)
			VALUES ($1, $2, NOW(), NOW())
			ON CONFLICT (id) DO UPDATE SET
				credits_balance = dealers.credits_balance + $2,
				updated_at      = NOW()
			RETURNING credits_balance
		`, entry.DealerID, entry.Delta).Scan(&newBalance)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("failed to credit balance: %w", err)
		}
	} else {
		// Debit only when the row exists and the balance covers it.
		// Unknown dealer means balance 0, which is insufficient for any
		// positive debit.
		err = tx.QueryRowContext(ctx, `
			UPDATE dealers SET
				credits_balance = credits_balance + $2,
				updated_at      = NOW()
			WHERE id = $1 AND credits_balance + $2 >= 0
			RETURNING credits_balance
		`, entry.DealerID, entry.Delta).Scan(&newBalance)
		if errors.Is(err, sql.ErrNoRows) {
			return ApplyResult{}, ErrInsufficientCredits
		}
		if err != nil {
			return ApplyResult{}, fmt.Errorf("failed to debit balance: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_ledger_entries (id, dealer_id, delta, reason, idempotency_key, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, entry.ID, entry.DealerID, entry.Delta, entry.Reason, entry.IdempotencyKey, newBalance)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race with a concurrent application of the same key.
			// The transaction rolls back and the first writer's result wins.
			return p.replayResult(ctx, entry.IdempotencyKey)
		}
		return ApplyResult{}, fmt.Errorf("failed to record entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			// A concurrent transaction on the same dealer won; check
			// whether it carried our key before reporting contention.
			if res, rerr := p.replayResult(ctx, entry.IdempotencyKey); rerr == nil {
				return res, nil
			}
		}
		return ApplyResult{}, err
	}

	return ApplyResult{Applied: true, Balance: newBalance}, nil
}

// replayResult reads the result of the first application of a key, for
// callers that lost a duplicate race.
func (p *PostgresStore) replayResult(ctx context.Context, key string) (ApplyResult, error) {
	var balance int64
	err := p.db.QueryRowContext(ctx, `
		SELECT balance FROM credit_ledger_entries WHERE idempotency_key = $1
	`, key).Scan(&balance)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("failed to resolve duplicate entry: %w", err)
	}
	return ApplyResult{Applied: false, Balance: balance}, nil
}

// History retrieves ledger entries for a dealer, newest first.
func (p *PostgresStore) History(ctx context.Context, dealerID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, dealer_id, delta, reason, idempotency_key, balance, created_at
		FROM credit_ledger_entries
		WHERE dealer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, dealerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.DealerID, &e.Delta, &e.Reason, &e.IdempotencyKey, &e.Balance, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "40001"
}

// Package store keeps payments in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shadowrt/internal/pay"
	id "shadowrt/pkg/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS payments (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id         TEXT NOT NULL,
	billing_address TEXT NOT NULL,
	item            TEXT NOT NULL,
	amount_cents    INTEGER NOT NULL,
	created_ns      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payments_user ON payments(user_id);
`

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("pay store: init schema: %w", err)
	}
	return nil
}

func (s *Store) InsertPayment(ctx context.Context, p pay.Payment) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (user_id, billing_address, item, amount_cents, created_ns)
		VALUES (?, ?, ?, ?, ?)`,
		string(p.UserID), p.BillingAddress, p.Item, p.AmountCents, p.CreatedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pay store: insert payment: %w", err)
	}
	paymentID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("pay store: payment id: %w", err)
	}
	return paymentID, nil
}

func (s *Store) ListByUser(ctx context.Context, userID id.UserID) ([]pay.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, billing_address, item, amount_cents, created_ns
		FROM payments WHERE user_id = ? ORDER BY id`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("pay store: list payments: %w", err)
	}
	defer rows.Close()

	var out []pay.Payment
	for rows.Next() {
		var p pay.Payment
		var createdNS int64
		if err := rows.Scan(&p.ID, &p.UserID, &p.BillingAddress, &p.Item, &p.AmountCents, &createdNS); err != nil {
			return nil, fmt.Errorf("pay store: scan payment: %w", err)
		}
		p.CreatedAt = time.Unix(0, createdNS).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteUser removes every payment of userID and returns how many went.
func (s *Store) DeleteUser(ctx context.Context, userID id.UserID) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM payments WHERE user_id = ?`, string(userID))
	if err != nil {
		return 0, fmt.Errorf("pay store: delete payments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pay store: rows affected: %w", err)
	}
	return int(n), nil
}

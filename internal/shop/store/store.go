// Package store keeps the shop's users and purchases in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shadowrt/internal/shop"
	id "shadowrt/pkg/domain"
	"shadowrt/pkg/platform/sentinel"
	txcontext "shadowrt/pkg/platform/tx"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id TEXT PRIMARY KEY,
	name    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS purchases (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      TEXT NOT NULL,
	item         TEXT NOT NULL,
	amount_cents INTEGER NOT NULL,
	created_ns   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_purchases_user ON purchases(user_id);
`

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists shop rows.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("shop store: init schema: %w", err)
	}
	return nil
}

// UpsertUser inserts the user or renames an existing one.
func (s *Store) UpsertUser(ctx context.Context, u shop.User) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO users (user_id, name) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET name = excluded.name`,
		string(u.UserID), u.Name)
	if err != nil {
		return fmt.Errorf("shop store: upsert user: %w", err)
	}
	return nil
}

func (s *Store) FindUser(ctx context.Context, userID id.UserID) (*shop.User, error) {
	var u shop.User
	err := s.execer(ctx).QueryRowContext(ctx, `SELECT user_id, name FROM users WHERE user_id = ?`, string(userID)).
		Scan(&u.UserID, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("shop store: find user: %w", err)
	}
	return &u, nil
}

// InsertPurchase stores p and returns its id.
func (s *Store) InsertPurchase(ctx context.Context, p shop.Purchase) (int64, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO purchases (user_id, item, amount_cents, created_ns) VALUES (?, ?, ?, ?)`,
		string(p.UserID), p.Item, p.AmountCents, p.CreatedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("shop store: insert purchase: %w", err)
	}
	purchaseID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("shop store: purchase id: %w", err)
	}
	return purchaseID, nil
}

func (s *Store) ListPurchases(ctx context.Context, userID id.UserID) ([]shop.Purchase, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, user_id, item, amount_cents, created_ns FROM purchases
		WHERE user_id = ? ORDER BY id`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("shop store: list purchases: %w", err)
	}
	defer rows.Close()

	var out []shop.Purchase
	for rows.Next() {
		var p shop.Purchase
		var createdNS int64
		if err := rows.Scan(&p.ID, &p.UserID, &p.Item, &p.AmountCents, &createdNS); err != nil {
			return nil, fmt.Errorf("shop store: scan purchase: %w", err)
		}
		p.CreatedAt = time.Unix(0, createdNS).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteUser removes the user and all their purchases in one transaction and
// returns how many rows went.
func (s *Store) DeleteUser(ctx context.Context, userID id.UserID) (int, error) {
	var total int64
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		for _, q := range []string{
			`DELETE FROM purchases WHERE user_id = ?`,
			`DELETE FROM users WHERE user_id = ?`,
		} {
			res, err := s.execer(ctx).ExecContext(ctx, q, string(userID))
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("shop store: delete user: %w", err)
	}
	return int(total), nil
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	id "shadowrt/pkg/domain"
	"shadowrt/pkg/platform/provenance"
)

const schema = `
CREATE TABLE IF NOT EXISTS provenance_events (
	seq             BIGSERIAL PRIMARY KEY,
	event_id        TEXT NOT NULL UNIQUE,
	occurred_at     TIMESTAMPTZ NOT NULL,
	operation       TEXT NOT NULL,
	source_app      TEXT NOT NULL,
	destination_app TEXT,
	user_id         TEXT NOT NULL,
	tag_id          TEXT NOT NULL,
	payload_hash    TEXT NOT NULL,
	meta            JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS idx_provenance_events_user ON provenance_events (user_id, seq);
CREATE INDEX IF NOT EXISTS idx_provenance_events_transfer_out
	ON provenance_events (user_id, destination_app) WHERE operation = 'transfer_out';
`

const selectColumns = `event_id, occurred_at, operation, source_app, destination_app, user_id, tag_id, payload_hash, meta`

// Store implements provenance.Store on a shared PostgreSQL database.
// Every statement runs on the store's own *sql.DB, never on a transaction
// carried in the context: an appended event must not be undone by a caller's
// rollback.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL provenance store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create provenance schema: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, event provenance.Event) error {
	meta := event.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal provenance metadata: %w", err)
	}

	query := `
		INSERT INTO provenance_events (
			event_id, occurred_at, operation, source_app, destination_app,
			user_id, tag_id, payload_hash, meta
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		event.EventID,
		event.Timestamp,
		string(event.Operation),
		event.SourceApp,
		sql.NullString{String: event.DestinationApp, Valid: event.DestinationApp != ""},
		string(event.UserID),
		string(event.TagID),
		event.PayloadHash,
		metaBytes,
	)
	if err != nil {
		return fmt.Errorf("insert provenance event: %w", err)
	}
	return nil
}

// ListByUser returns a user's events oldest first.
func (s *Store) ListByUser(ctx context.Context, userID id.UserID) ([]provenance.Event, error) {
	query := `SELECT ` + selectColumns + ` FROM provenance_events WHERE user_id = $1 ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query, string(userID))
	if err != nil {
		return nil, fmt.Errorf("query provenance events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ListAll(ctx context.Context) ([]provenance.Event, error) {
	query := `SELECT ` + selectColumns + ` FROM provenance_events ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query provenance events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByOperations returns the events whose operation is one of ops, oldest
// first, for userID or for every user when userID is empty.
func (s *Store) ListByOperations(ctx context.Context, userID id.UserID, ops ...provenance.Operation) ([]provenance.Event, error) {
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = string(op)
	}
	query := `SELECT ` + selectColumns + ` FROM provenance_events
		WHERE ($1 = '' OR user_id = $1) AND operation = ANY($2) ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query, string(userID), pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("query provenance events by operation: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) DestinationsForUser(ctx context.Context, userID id.UserID) ([]string, error) {
	query := `
		SELECT DISTINCT destination_app FROM provenance_events
		WHERE user_id = $1 AND operation = $2 AND destination_app IS NOT NULL AND destination_app <> ''
		ORDER BY destination_app
	`
	rows, err := s.db.QueryContext(ctx, query, string(userID), string(provenance.OpTransferOut))
	if err != nil {
		return nil, fmt.Errorf("query export destinations: %w", err)
	}
	defer rows.Close()

	dests := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan export destination: %w", err)
		}
		dests = append(dests, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export destinations: %w", err)
	}
	return dests, nil
}

// Close is a no-op; the *sql.DB is owned by the caller.
func (s *Store) Close() error { return nil }

func scanEvents(rows *sql.Rows) ([]provenance.Event, error) {
	events := []provenance.Event{}
	for rows.Next() {
		var (
			e      provenance.Event
			op     string
			dest   sql.NullString
			userID string
			tagID  string
			meta   []byte
		)
		if err := rows.Scan(&e.EventID, &e.Timestamp, &op, &e.SourceApp, &dest, &userID, &tagID, &e.PayloadHash, &meta); err != nil {
			return nil, fmt.Errorf("scan provenance event: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		e.Operation = provenance.Operation(op)
		e.DestinationApp = dest.String
		e.UserID = id.UserID(userID)
		e.TagID = id.TagID(tagID)
		e.Metadata = map[string]any{}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode provenance metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provenance events: %w", err)
	}
	return events, nil
}

// Package sqlite persists provenance events in a local SQLite database, one
// file per service, matching the deployment where each service keeps its own
// provenance.db beside its domain data.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	id "shadowrt/pkg/domain"
	"shadowrt/pkg/platform/provenance"
)

const schema = `
CREATE TABLE IF NOT EXISTS provenance_events (
	event_id        TEXT PRIMARY KEY,
	t_unix_ns       INTEGER NOT NULL,
	timestamp       TEXT NOT NULL,
	operation       TEXT NOT NULL,
	source_app      TEXT NOT NULL,
	destination_app TEXT,
	user_id         TEXT NOT NULL,
	tag_id          TEXT NOT NULL,
	payload_hash    TEXT NOT NULL,
	meta            TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_provenance_user ON provenance_events(user_id);
CREATE INDEX IF NOT EXISTS idx_provenance_user_op ON provenance_events(user_id, operation);
`

const selectColumns = `event_id, t_unix_ns, operation, source_app, destination_app, user_id, tag_id, payload_hash, meta`

// Store implements provenance.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // single writer
}

// Open opens (creating if needed) the database at path in WAL mode.
// Use ":memory:" only in tests; it is private to the single connection.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("provenance sqlite: open %s: %w", path, err)
	}
	// One connection keeps writes serialized and makes every read observe
	// every committed append.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("provenance sqlite: init schema: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, event provenance.Event) error {
	meta, err := json.Marshal(metadataOrEmpty(event.Metadata))
	if err != nil {
		return fmt.Errorf("provenance sqlite: marshal metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO provenance_events (
			event_id, t_unix_ns, timestamp, operation, source_app,
			destination_app, user_id, tag_id, payload_hash, meta
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID,
		event.Timestamp.UnixNano(),
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		string(event.Operation),
		event.SourceApp,
		nullString(event.DestinationApp),
		string(event.UserID),
		string(event.TagID),
		event.PayloadHash,
		string(meta),
	)
	if err != nil {
		return fmt.Errorf("provenance sqlite: insert event: %w", err)
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID id.UserID) ([]provenance.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM provenance_events WHERE user_id = ? ORDER BY rowid`,
		string(userID))
	if err != nil {
		return nil, fmt.Errorf("provenance sqlite: query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ListAll(ctx context.Context) ([]provenance.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM provenance_events ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("provenance sqlite: query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) DestinationsForUser(ctx context.Context, userID id.UserID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT destination_app FROM provenance_events
		WHERE user_id = ? AND operation = ? AND destination_app IS NOT NULL AND destination_app != ''
		ORDER BY destination_app`,
		string(userID), string(provenance.OpTransferOut))
	if err != nil {
		return nil, fmt.Errorf("provenance sqlite: query destinations: %w", err)
	}
	defer rows.Close()

	dests := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("provenance sqlite: scan destination: %w", err)
		}
		dests = append(dests, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("provenance sqlite: iterate destinations: %w", err)
	}
	return dests, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("provenance sqlite: close: %w", err)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]provenance.Event, error) {
	events := []provenance.Event{}
	for rows.Next() {
		var (
			e      provenance.Event
			ns     int64
			op     string
			dest   sql.NullString
			userID string
			tagID  string
			meta   string
		)
		if err := rows.Scan(&e.EventID, &ns, &op, &e.SourceApp, &dest, &userID, &tagID, &e.PayloadHash, &meta); err != nil {
			return nil, fmt.Errorf("provenance sqlite: scan event: %w", err)
		}
		e.Timestamp = time.Unix(0, ns).UTC()
		e.Operation = provenance.Operation(op)
		e.DestinationApp = dest.String
		e.UserID = id.UserID(userID)
		e.TagID = id.TagID(tagID)
		e.Metadata = map[string]any{}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("provenance sqlite: decode metadata of %s: %w", e.EventID, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("provenance sqlite: iterate events: %w", err)
	}
	return events, nil
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

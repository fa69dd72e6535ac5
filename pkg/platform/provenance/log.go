// Package provenance is the append-only record of what happened to each
// user's data: where it was labeled, which service it was exported to, which
// service imported it, and when it was deleted.
//
// Log.Append is fail-closed. It blocks until the store has durably persisted
// the event; if that fails the caller gets a log_write_failure error and MUST
// fail its own operation, because a missing transfer_out breaks the deletion
// cascade's guarantee.
package provenance

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	id "shadowrt/pkg/domain"
	dErrors "shadowrt/pkg/domain-errors"
)

// AppendRequest describes an event before the log hashes and stamps it.
type AppendRequest struct {
	Operation      Operation
	UserID         id.UserID
	TagID          id.TagID
	Payload        []byte
	DestinationApp string
	Metadata       map[string]any
}

// Log writes provenance events for one application.
type Log struct {
	app     string
	store   Store
	hasher  Hasher
	clock   func() time.Time
	seq     atomic.Uint64
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a Log.
type Option func(*Log)

// WithHasher replaces the default SHA-256 payload hasher.
func WithHasher(h Hasher) Option {
	return func(l *Log) {
		if h != nil {
			l.hasher = h
		}
	}
}

// WithClock sets the clock used to stamp events.
func WithClock(clock func() time.Time) Option {
	return func(l *Log) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(l *Log) {
		l.metrics = m
	}
}

// New creates a log that stamps every event with app as its source.
func New(app string, store Store, opts ...Option) *Log {
	l := &Log{
		app:    app,
		store:  store,
		hasher: SHA256(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// App returns the source application name stamped on events.
func (l *Log) App() string { return l.app }

// Init ensures the backing store and schema exist. Safe to call repeatedly.
func (l *Log) Init(ctx context.Context) error {
	if err := l.store.Init(ctx); err != nil {
		return dErrors.Wrap(err, dErrors.CodeLogWriteFailure, "initialize provenance store")
	}
	return nil
}

// Append hashes the payload, derives the event id and persists the event.
// It returns only after the store has durably recorded it.
func (l *Log) Append(ctx context.Context, req AppendRequest) (string, error) {
	if !req.Operation.Valid() {
		return "", dErrors.New(dErrors.CodeBadRequest, "unknown provenance operation: "+string(req.Operation))
	}
	if req.UserID.IsZero() {
		return "", dErrors.New(dErrors.CodeBadRequest, "provenance event requires a user id")
	}
	if req.TagID.IsZero() {
		return "", dErrors.New(dErrors.CodeBadRequest, "provenance event requires a tag id")
	}

	meta, err := normalizeMetadata(req.Metadata)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeBadRequest, "provenance metadata is not JSON-encodable")
	}

	start := time.Now()
	ts := l.clock().UTC()
	event := Event{
		Timestamp:      ts,
		Operation:      req.Operation,
		SourceApp:      l.app,
		DestinationApp: req.DestinationApp,
		UserID:         req.UserID,
		TagID:          req.TagID,
		PayloadHash:    l.hasher.Hash(req.Payload),
		Metadata:       meta,
	}
	event.EventID = DeriveEventID(ts, req.Operation, req.UserID, req.TagID, req.DestinationApp, l.seq.Add(1))

	if err := l.store.Append(ctx, event); err != nil {
		l.metrics.IncAppendFailures()
		if l.logger != nil {
			l.logger.ErrorContext(ctx, "CRITICAL: provenance append failed",
				"operation", req.Operation,
				"user_id", req.UserID,
				"tag_id", req.TagID,
				"destination", req.DestinationApp,
				"error", err,
			)
		}
		return "", dErrors.Wrap(err, dErrors.CodeLogWriteFailure, "provenance append failed")
	}

	l.metrics.ObservePersistDuration(time.Since(start).Seconds())
	l.metrics.IncEventsAppended(req.Operation)
	return event.EventID, nil
}

// DestinationsForUser returns every app the user's data was exported to.
// It reflects all appends that returned before the call.
func (l *Log) DestinationsForUser(ctx context.Context, userID id.UserID) ([]string, error) {
	dests, err := l.store.DestinationsForUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "query export destinations")
	}
	return dests, nil
}

// Events returns the user's events in append order.
func (l *Log) Events(ctx context.Context, userID id.UserID) ([]Event, error) {
	events, err := l.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list provenance events")
	}
	return events, nil
}

// AllEvents returns every event in append order.
func (l *Log) AllEvents(ctx context.Context) ([]Event, error) {
	events, err := l.store.ListAll(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list provenance events")
	}
	return events, nil
}

// Close releases the backing store.
func (l *Log) Close() error {
	return l.store.Close()
}

// Package stream mirrors provenance events to a Kafka topic so a central
// collector can assemble a cross-service view of every user's data flow.
//
// The mirror is best-effort. The wrapped store stays the source of truth and
// Append fails only when that store fails; Kafka outages are logged, counted
// and short-circuited by a breaker so they never slow down the request path.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	id "shadowrt/pkg/domain"
	"shadowrt/pkg/platform/circuit"
	"shadowrt/pkg/platform/provenance"
)

const DefaultTopic = "shadowrt.provenance"

// Producer is the subset of *kgo.Client the mirror needs.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// Mirror is a provenance.Store that forwards every persisted event to Kafka.
type Mirror struct {
	provenance.Store

	producer Producer
	topic    string
	breaker  *circuit.Breaker
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	openedAt time.Time
	probing  bool

	statsMu  sync.Mutex
	produced int64
	dropped  int64
	failed   int64
}

type Option func(*Mirror)

func WithTopic(topic string) Option {
	return func(m *Mirror) {
		if topic != "" {
			m.topic = topic
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Mirror) { m.logger = logger }
}

// WithBreaker replaces the default breaker (5 failures to open) and sets how
// long it stays open before one probe record is let through.
func WithBreaker(b *circuit.Breaker, cooldown time.Duration) Option {
	return func(m *Mirror) {
		if b != nil {
			m.breaker = b
		}
		if cooldown > 0 {
			m.cooldown = cooldown
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(m *Mirror) { m.now = now }
}

// NewMirror wraps store so successful appends are also produced to Kafka.
func NewMirror(store provenance.Store, producer Producer, opts ...Option) *Mirror {
	m := &Mirror{
		Store:    store,
		producer: producer,
		topic:    DefaultTopic,
		breaker:  circuit.New("kafka-mirror"),
		cooldown: 30 * time.Second,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append persists to the wrapped store, then produces asynchronously.
func (m *Mirror) Append(ctx context.Context, event provenance.Event) error {
	if err := m.Store.Append(ctx, event); err != nil {
		return err
	}
	if !m.allow() {
		m.count(&m.dropped)
		return nil
	}

	record, err := NewRecord(m.topic, event)
	if err != nil {
		m.logger.WarnContext(ctx, "provenance mirror: encode failed", "event_id", event.EventID, "error", err)
		m.count(&m.failed)
		return nil
	}
	// The request context may end before the broker acks.
	m.producer.Produce(context.WithoutCancel(ctx), record, m.onProduced)
	return nil
}

func (m *Mirror) onProduced(r *kgo.Record, err error) {
	m.mu.Lock()
	m.probing = false
	m.mu.Unlock()

	if err != nil {
		m.count(&m.failed)
		if _, change := m.breaker.RecordFailure(); change.Opened {
			m.mu.Lock()
			m.openedAt = m.now()
			m.mu.Unlock()
			m.logger.Warn("provenance mirror: breaker opened", "topic", r.Topic, "error", err)
		}
		return
	}
	m.count(&m.produced)
	if _, change := m.breaker.RecordSuccess(); change.Closed {
		m.logger.Info("provenance mirror: breaker closed", "topic", r.Topic)
	}
}

func (m *Mirror) allow() bool {
	if !m.breaker.IsOpen() {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.probing || m.now().Sub(m.openedAt) < m.cooldown {
		return false
	}
	m.probing = true
	m.openedAt = m.now()
	return true
}

func (m *Mirror) count(c *int64) {
	m.statsMu.Lock()
	*c++
	m.statsMu.Unlock()
}

// Stats reports records acknowledged, dropped while the breaker was open,
// and failed.
func (m *Mirror) Stats() (produced, dropped, failed int64) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.produced, m.dropped, m.failed
}

// Close flushes buffered records, then closes the producer and the store.
func (m *Mirror) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.producer.Flush(ctx); err != nil {
		m.logger.Warn("provenance mirror: flush on close failed", "error", err)
	}
	m.producer.Close()
	return m.Store.Close()
}

// NewRecord encodes event as a Kafka record keyed by user id, so one user's
// events land on one partition in order.
func NewRecord(topic string, event provenance.Event) (*kgo.Record, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(event.UserID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "operation", Value: []byte(event.Operation)},
			{Key: "source_app", Value: []byte(event.SourceApp)},
		},
		Timestamp: event.Timestamp,
	}, nil
}

// DecodeRecord is the inverse of NewRecord.
func DecodeRecord(r *kgo.Record) (provenance.Event, error) {
	var event provenance.Event
	if err := json.Unmarshal(r.Value, &event); err != nil {
		return provenance.Event{}, err
	}
	if event.UserID.IsZero() {
		event.UserID = id.UserID(r.Key)
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	return event, nil
}

// Package kafka builds franz-go clients for the provenance event mirror and
// its collector.
package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"shadowrt/internal/platform/config"
)

// NewProducer returns a client tuned for durable produce: all in-sync
// replicas must ack and retries are idempotent.
func NewProducer(cfg config.KafkaConfig, logger *slog.Logger) (*kgo.Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression(), kgo.NoCompression()),
	}
	if logger != nil {
		opts = append(opts, kgo.WithLogger(&slogAdapter{logger: logger}))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: new producer: %w", err)
	}
	return client, nil
}

// NewConsumer returns a group consumer on the provenance topic with manual
// commits, so offsets advance only after events are stored.
func NewConsumer(cfg config.KafkaConfig, logger *slog.Logger) (*kgo.Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	}
	if logger != nil {
		opts = append(opts, kgo.WithLogger(&slogAdapter{logger: logger}))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: new consumer: %w", err)
	}
	return client, nil
}

// NewAdmin wraps client for topic management.
func NewAdmin(client *kgo.Client) *kadm.Client {
	return kadm.NewClient(client)
}

// Ping checks that at least one broker answers.
func Ping(ctx context.Context, client *kgo.Client) error {
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka: ping: %w", err)
	}
	return nil
}

// slogAdapter routes franz-go client logs to slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Level() kgo.LogLevel {
	ctx := context.Background()
	switch {
	case a.logger.Enabled(ctx, slog.LevelDebug):
		return kgo.LogLevelDebug
	case a.logger.Enabled(ctx, slog.LevelInfo):
		return kgo.LogLevelInfo
	case a.logger.Enabled(ctx, slog.LevelWarn):
		return kgo.LogLevelWarn
	default:
		return kgo.LogLevelError
	}
}

func (a *slogAdapter) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	var l slog.Level
	switch level {
	case kgo.LogLevelError:
		l = slog.LevelError
	case kgo.LogLevelWarn:
		l = slog.LevelWarn
	case kgo.LogLevelInfo:
		l = slog.LevelInfo
	default:
		l = slog.LevelDebug
	}
	a.logger.Log(context.Background(), l, "kafka: "+msg, keyvals...)
}

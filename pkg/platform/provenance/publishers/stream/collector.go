package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"shadowrt/pkg/platform/provenance"
)

// Fetcher is the subset of *kgo.Client the collector polls.
type Fetcher interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitUncommittedOffsets(ctx context.Context) error
}

// Collector consumes mirrored events from every service and appends them to
// one central store. Appends are idempotent on event id, so redelivery after
// a crash between append and commit is harmless.
type Collector struct {
	fetcher Fetcher
	store   provenance.Store
	logger  *slog.Logger
}

func NewCollector(fetcher Fetcher, store provenance.Store, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{fetcher: fetcher, store: store, logger: logger}
}

// Run polls until ctx is done. Undecodable records are logged and skipped;
// a store failure stops the collector without committing the batch.
func (c *Collector) Run(ctx context.Context) error {
	for {
		fetches := c.fetcher.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, err := c.Ingest(ctx, fetches)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if err := c.fetcher.CommitUncommittedOffsets(ctx); err != nil {
			c.logger.WarnContext(ctx, "provenance collector: commit failed", "error", err)
		}
	}
}

// Ingest appends every record in fetches and returns how many were stored.
func (c *Collector) Ingest(ctx context.Context, fetches kgo.Fetches) (int, error) {
	fetches.EachError(func(topic string, partition int32, err error) {
		if !errors.Is(err, context.Canceled) {
			c.logger.WarnContext(ctx, "provenance collector: fetch error", "topic", topic, "partition", partition, "error", err)
		}
	})

	var (
		stored  int
		lastErr error
	)
	fetches.EachRecord(func(r *kgo.Record) {
		if lastErr != nil {
			return
		}
		event, err := DecodeRecord(r)
		if err != nil {
			c.logger.WarnContext(ctx, "provenance collector: skipping undecodable record",
				"topic", r.Topic, "partition", r.Partition, "offset", r.Offset, "error", err)
			return
		}
		if err := c.store.Append(ctx, event); err != nil {
			lastErr = fmt.Errorf("append collected event %s: %w", event.EventID, err)
			return
		}
		stored++
	})
	return stored, lastErr
}

package cascade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	id "shadowrt/pkg/domain"
	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/platform/sentinel"
)

const (
	DefaultTimeout        = 5 * time.Second
	DefaultMaxConcurrency = 8
	defaultLockTTL        = 2 * time.Minute
)

// Coordinator runs deletion cascades for one service.
type Coordinator struct {
	log            *provenance.Log
	registry       *Registry
	local          LocalEraser
	locker         Locker
	timeout        time.Duration
	maxConcurrency int
	lockTTL        time.Duration
	logger         *slog.Logger
	metrics        *Metrics
	tracer         trace.Tracer
	now            func() time.Time
}

type Option func(*Coordinator)

// WithTimeout bounds each destination call. A call that outlives it counts
// as a failed destination.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxConcurrency bounds how many destinations are called at once.
func WithMaxConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

// WithLocker replaces the in-process locker, e.g. with a Redis one when
// several replicas serve deletions.
func WithLocker(l Locker) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.locker = l
		}
	}
}

func WithLockTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.lockTTL = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp.Tracer("shadowrt/pkg/cascade")
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator wires a coordinator. log, registry and local are required.
func NewCoordinator(log *provenance.Log, registry *Registry, local LocalEraser, opts ...Option) (*Coordinator, error) {
	if log == nil {
		return nil, fmt.Errorf("provenance log is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("destination registry is required")
	}
	if local == nil {
		return nil, fmt.Errorf("local eraser is required")
	}
	c := &Coordinator{
		log:            log,
		registry:       registry,
		local:          local,
		locker:         NewMemoryLocker(),
		timeout:        DefaultTimeout,
		maxConcurrency: DefaultMaxConcurrency,
		lockTTL:        defaultLockTTL,
		logger:         slog.Default(),
		tracer:         otel.Tracer("shadowrt/pkg/cascade"),
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type run struct {
	receipt *Receipt
	mu      sync.Mutex
	now     func() time.Time
}

func (r *run) enter(s State) {
	r.receipt.State = s
	r.receipt.Transitions = append(r.receipt.Transitions, Transition{State: s, At: r.now()})
}

func (r *run) ack(dest string, a Ack) {
	r.mu.Lock()
	r.receipt.Acks[dest] = a
	r.mu.Unlock()
}

func (r *run) fail(dest, reason string) {
	r.mu.Lock()
	r.receipt.Failures[dest] = reason
	r.mu.Unlock()
}

// Erase deletes userID everywhere the log says their data went, then locally.
//
// On success the receipt is in StateDone. If any destination fails, times
// out, or is not registered, the receipt is in StateFailed, the error has
// code propagation_failure, and no local row is touched. A cascade already
// running for the same user yields a conflict error.
func (c *Coordinator) Erase(ctx context.Context, userID id.UserID, reason string) (*Receipt, error) {
	if userID.IsZero() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user id is required")
	}
	ctx, span := c.tracer.Start(ctx, "cascade.erase", trace.WithAttributes(
		attribute.String("cascade.user_id", userID.String()),
	))
	defer span.End()

	release, err := c.locker.Acquire(ctx, "cascade:"+userID.String(), c.lockTTL)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			err = dErrors.Wrap(err, dErrors.CodeConflict, "a deletion for this user is already running")
		} else {
			err = dErrors.Wrap(err, dErrors.CodeInternal, "acquire cascade lock")
		}
		c.finishSpan(span, err)
		return nil, err
	}
	defer func() {
		// Release must outlive a cancelled request context.
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			c.logger.WarnContext(ctx, "cascade: lock release failed", "user_id", userID, "error", relErr)
		}
	}()

	start := time.Now()
	r := &run{
		receipt: &Receipt{
			UserID:   userID,
			Reason:   reason,
			Acks:     map[string]Ack{},
			Failures: map[string]string{},
		},
		now: c.now,
	}
	r.enter(StateReceived)

	err = c.erase(ctx, r)
	if err != nil {
		r.enter(StateFailed)
		c.logger.ErrorContext(ctx, "cascade failed",
			"user_id", userID,
			"failures", r.receipt.Failures,
			"error", err,
		)
	} else {
		r.enter(StateDone)
		c.logger.InfoContext(ctx, "cascade completed",
			"user_id", userID,
			"destinations", r.receipt.Destinations,
			"local_deleted", r.receipt.LocalDeleted,
		)
	}
	c.metrics.ObserveCascade(r.receipt.State, time.Since(start).Seconds())
	c.finishSpan(span, err)
	return r.receipt, err
}

func (c *Coordinator) erase(ctx context.Context, r *run) error {
	userID := r.receipt.UserID

	r.enter(StateDiscovering)
	dests, err := c.log.DestinationsForUser(ctx, userID)
	if err != nil {
		return err
	}
	r.receipt.Destinations = dests

	r.enter(StatePropagating)
	c.propagate(ctx, r, dests)
	if len(r.receipt.Failures) > 0 {
		failed := slices.Sorted(maps.Keys(r.receipt.Failures))
		return dErrors.New(dErrors.CodePropagationFailure,
			"deletion not acknowledged by: "+strings.Join(failed, ", "))
	}

	r.enter(StateLocallyDeleting)
	n, err := c.local.DeleteUser(ctx, userID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete local records")
	}
	r.receipt.LocalDeleted = n

	_, err = c.log.Append(ctx, provenance.AppendRequest{
		Operation: provenance.OpDeleteLocal,
		UserID:    userID,
		TagID:     id.AllTags,
		Payload:   mustJSON(Ack{DeletedUserID: userID, DeletedRecords: n}),
		Metadata:  map[string]any{"reason": r.receipt.Reason, "deleted_records": n},
	})
	return err
}

// propagate calls every destination, bounded by maxConcurrency. Failures are
// collected on the receipt rather than cancelling siblings, so the receipt
// names every destination that still holds data.
func (c *Coordinator) propagate(ctx context.Context, r *run, dests []string) {
	var g errgroup.Group
	g.SetLimit(c.maxConcurrency)
	for _, name := range dests {
		g.Go(func() error {
			c.propagateOne(ctx, r, name)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Coordinator) propagateOne(ctx context.Context, r *run, name string) {
	userID := r.receipt.UserID
	dest, ok := c.registry.Lookup(name)
	if !ok {
		r.fail(name, "destination not registered")
		c.metrics.IncDestinationOutcome(name, "unregistered")
		return
	}

	_, err := c.log.Append(ctx, provenance.AppendRequest{
		Operation:      provenance.OpDeleteRequest,
		UserID:         userID,
		TagID:          id.AllTags,
		DestinationApp: name,
		Metadata:       map[string]any{"reason": r.receipt.Reason},
	})
	if err != nil {
		r.fail(name, "log delete_request: "+err.Error())
		c.metrics.IncDestinationOutcome(name, "log_failure")
		return
	}

	start := time.Now()
	ack, err := c.call(ctx, dest, userID)
	c.metrics.ObserveDestinationDuration(name, time.Since(start).Seconds())
	if err != nil {
		outcome := "error"
		if dErrors.HasCode(err, dErrors.CodeTimeout) {
			outcome = "timeout"
		}
		r.fail(name, err.Error())
		c.metrics.IncDestinationOutcome(name, outcome)
		c.logger.WarnContext(ctx, "cascade: destination failed", "user_id", userID, "destination", name, "error", err)
		return
	}

	_, err = c.log.Append(ctx, provenance.AppendRequest{
		Operation:      provenance.OpDeleteDone,
		UserID:         userID,
		TagID:          id.AllTags,
		DestinationApp: name,
		Payload:        mustJSON(ack),
		Metadata: map[string]any{
			"reason":          r.receipt.Reason,
			"deleted_user_id": ack.DeletedUserID.String(),
			"deleted_records": ack.DeletedRecords,
		},
	})
	if err != nil {
		r.fail(name, "log delete_done: "+err.Error())
		c.metrics.IncDestinationOutcome(name, "log_failure")
		return
	}
	r.ack(name, ack)
	c.metrics.IncDestinationOutcome(name, "acked")
}

// call runs the destination callback under the per-destination timeout. A
// callback that ignores its context is abandoned when the timeout fires.
func (c *Coordinator) call(ctx context.Context, dest Destination, userID id.UserID) (Ack, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		ack Ack
		err error
	}
	done := make(chan result, 1)
	go func() {
		ack, err := dest.DeleteUser(cctx, userID)
		done <- result{ack: ack, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return Ack{}, dErrors.Wrap(res.err, dErrors.CodeTimeout, "destination timed out")
		}
		return res.ack, res.err
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return Ack{}, dErrors.New(dErrors.CodeTimeout, fmt.Sprintf("destination timed out after %s", c.timeout))
		}
		return Ack{}, cctx.Err()
	}
}

func (c *Coordinator) finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("cascade: marshal %T: %v", v, err))
	}
	return b
}

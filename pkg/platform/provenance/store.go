package provenance

import (
	"context"
	"slices"

	id "shadowrt/pkg/domain"
)

// Store persists provenance events append-only.
//
// Implementations must serialize writes internally, make each Append atomic
// (an event is either fully visible or absent) and durable before Append
// returns, and give read-your-writes: once Append returns, every later read
// on the same store sees the event. DestinationsForUser relies on this so a
// deletion cascade never misses a completed export. Writes never join a
// transaction carried in the context.
type Store interface {
	// Init idempotently creates the backing schema.
	Init(ctx context.Context) error

	// Append persists one event. Events are never updated or deleted; a
	// second append with an already stored EventID is a no-op.
	Append(ctx context.Context, event Event) error

	// ListByUser returns a user's events in the order they were appended.
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)

	// ListAll returns every event in append order.
	ListAll(ctx context.Context) ([]Event, error)

	// DestinationsForUser returns the distinct destination apps of the
	// user's transfer_out events, sorted.
	DestinationsForUser(ctx context.Context, userID id.UserID) ([]string, error)

	Close() error
}

// OperationLister is implemented by stores that filter by operation in the
// backend. An empty userID matches every user.
type OperationLister interface {
	ListByOperations(ctx context.Context, userID id.UserID, ops ...Operation) ([]Event, error)
}

// ListByOperations returns the events of userID, or of every user when
// userID is empty, whose operation is one of ops. No ops means no filter.
func ListByOperations(ctx context.Context, store Store, userID id.UserID, ops ...Operation) ([]Event, error) {
	if lister, ok := store.(OperationLister); ok && len(ops) > 0 {
		return lister.ListByOperations(ctx, userID, ops...)
	}
	var (
		events []Event
		err    error
	)
	if userID.IsZero() {
		events, err = store.ListAll(ctx)
	} else {
		events, err = store.ListByUser(ctx, userID)
	}
	if err != nil || len(ops) == 0 {
		return events, err
	}
	return slices.DeleteFunc(events, func(e Event) bool {
		return !slices.Contains(ops, e.Operation)
	}), nil
}

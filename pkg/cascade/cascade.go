// Package cascade propagates "erase this user" to every service that ever
// received the user's data, then deletes locally.
//
// The provenance log is the source of truth for where data went: every
// transfer_out names a destination. A cascade asks the log for those
// destinations, calls each one, and deletes local rows only when every
// destination acknowledged. A failed cascade deletes nothing locally and can
// be retried.
package cascade

import (
	"context"
	"slices"
	"sync"
	"time"

	id "shadowrt/pkg/domain"
)

// State is a cascade phase.
type State string

const (
	StateReceived        State = "received"
	StateDiscovering     State = "discovering"
	StatePropagating     State = "propagating"
	StateLocallyDeleting State = "locally_deleting"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Ack is a destination's deletion receipt.
type Ack struct {
	DeletedUserID  id.UserID `json:"deleted_user_id"`
	DeletedRecords int       `json:"deleted_records"`
}

// Destination deletes a user's data in one external service.
type Destination interface {
	Name() string
	DeleteUser(ctx context.Context, userID id.UserID) (Ack, error)
}

// LocalEraser deletes a user's rows in this service and reports how many.
type LocalEraser interface {
	DeleteUser(ctx context.Context, userID id.UserID) (int, error)
}

// LocalEraserFunc adapts a function to LocalEraser.
type LocalEraserFunc func(ctx context.Context, userID id.UserID) (int, error)

func (f LocalEraserFunc) DeleteUser(ctx context.Context, userID id.UserID) (int, error) {
	return f(ctx, userID)
}

// Transition records when a cascade entered a state.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Receipt summarizes one cascade.
type Receipt struct {
	UserID       id.UserID         `json:"user_id"`
	Reason       string            `json:"reason"`
	State        State             `json:"state"`
	Destinations []string          `json:"destinations"`
	Acks         map[string]Ack    `json:"acks"`
	Failures     map[string]string `json:"failures,omitempty"`
	LocalDeleted int               `json:"local_deleted"`
	Transitions  []Transition      `json:"transitions"`
}

// Registry maps destination names, as recorded in transfer_out events, to
// their delete callbacks.
type Registry struct {
	mu    sync.RWMutex
	dests map[string]Destination
}

func NewRegistry(dests ...Destination) *Registry {
	r := &Registry{dests: make(map[string]Destination, len(dests))}
	for _, d := range dests {
		r.Register(d)
	}
	return r
}

// Register adds or replaces the destination under d.Name().
func (r *Registry) Register(d Destination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dests[d.Name()] = d
}

func (r *Registry) Lookup(name string) (Destination, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dests[name]
	return d, ok
}

// Names returns registered destination names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.dests))
	for name := range r.dests {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

package memory

import (
	"context"
	"slices"
	"sync"

	id "shadowrt/pkg/domain"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/platform/sentinel"
)

// InMemoryStore keeps events in process memory. Used in tests and for the
// memory store backend; nothing survives a restart.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []provenance.Event
	byUser map[id.UserID][]int
	ids    map[string]struct{}
	closed bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byUser: make(map[id.UserID][]int), ids: make(map[string]struct{})}
}

func (s *InMemoryStore) Init(_ context.Context) error { return nil }

func (s *InMemoryStore) Append(_ context.Context, event provenance.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sentinel.ErrClosed
	}
	if _, dup := s.ids[event.EventID]; dup {
		return nil
	}
	s.ids[event.EventID] = struct{}{}
	s.events = append(s.events, event.Clone())
	s.byUser[event.UserID] = append(s.byUser[event.UserID], len(s.events)-1)
	return nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID id.UserID) ([]provenance.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byUser[userID]
	out := make([]provenance.Event, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.events[i].Clone())
	}
	return out, nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]provenance.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]provenance.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Clone())
	}
	return out, nil
}

func (s *InMemoryStore) DestinationsForUser(_ context.Context, userID id.UserID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, i := range s.byUser[userID] {
		e := s.events[i]
		if e.Operation == provenance.OpTransferOut && e.DestinationApp != "" {
			seen[e.DestinationApp] = struct{}{}
		}
	}
	dests := make([]string, 0, len(seen))
	for d := range seen {
		dests = append(dests, d)
	}
	slices.Sort(dests)
	return dests, nil
}

// Clear drops every event. Test helper only.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.byUser = make(map[id.UserID][]int)
	s.ids = make(map[string]struct{})
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Package storetest holds the behavioral suite every provenance.Store
// implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	id "shadowrt/pkg/domain"
	"shadowrt/pkg/platform/provenance"
)

// StoreSuite runs against a fresh store per test. Embed it and set NewStore.
type StoreSuite struct {
	suite.Suite
	NewStore func() provenance.Store
	store    provenance.Store
}

func (s *StoreSuite) SetupTest() {
	s.Require().NotNil(s.NewStore, "NewStore must be set")
	s.store = s.NewStore()
	s.Require().NoError(s.store.Init(context.Background()))
}

func (s *StoreSuite) TearDownTest() {
	if s.store != nil {
		s.NoError(s.store.Close())
	}
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func event(n int, op provenance.Operation, user, tag, dest string) provenance.Event {
	ts := base.Add(time.Duration(n) * time.Millisecond)
	return provenance.Event{
		EventID:        provenance.DeriveEventID(ts, op, id.UserID(user), id.TagID(tag), dest, uint64(n)),
		Timestamp:      ts,
		Operation:      op,
		SourceApp:      "Shop",
		DestinationApp: dest,
		UserID:         id.UserID(user),
		TagID:          id.TagID(tag),
		PayloadHash:    fmt.Sprintf("%064x", n),
		Metadata:       map[string]any{"n": float64(n)},
	}
}

func (s *StoreSuite) TestInitIsIdempotent() {
	s.Require().NoError(s.store.Init(context.Background()))
}

func (s *StoreSuite) TestAppendThenListPreservesFieldsAndOrder() {
	ctx := context.Background()
	in := []provenance.Event{
		event(1, provenance.OpSource, "u1", "t1", ""),
		event(2, provenance.OpTransferOut, "u1", "t1", "Pay"),
		event(3, provenance.OpSource, "u2", "t2", ""),
		event(4, provenance.OpDeleteRequest, "u1", "*", ""),
	}
	for _, e := range in {
		s.Require().NoError(s.store.Append(ctx, e))
	}

	got, err := s.store.ListByUser(ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(got, 3)
	for i, want := range []provenance.Event{in[0], in[1], in[3]} {
		s.Equal(want.EventID, got[i].EventID)
		s.Equal(want.Operation, got[i].Operation)
		s.Equal(want.SourceApp, got[i].SourceApp)
		s.Equal(want.DestinationApp, got[i].DestinationApp)
		s.Equal(want.TagID, got[i].TagID)
		s.Equal(want.PayloadHash, got[i].PayloadHash)
		s.Equal(want.Metadata, got[i].Metadata)
		s.WithinDuration(want.Timestamp, got[i].Timestamp, time.Microsecond)
	}

	all, err := s.store.ListAll(ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 4)
	s.Equal(in[2].EventID, all[2].EventID)
}

func (s *StoreSuite) TestListByUnknownUserIsEmpty() {
	got, err := s.store.ListByUser(context.Background(), "nobody")
	s.Require().NoError(err)
	s.Empty(got)
}

func (s *StoreSuite) TestDestinationsAreDistinctSortedTransferOutsOnly() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, event(1, provenance.OpTransferOut, "u1", "t1", "Pay")))
	s.Require().NoError(s.store.Append(ctx, event(2, provenance.OpTransferOut, "u1", "t2", "Analytics")))
	s.Require().NoError(s.store.Append(ctx, event(3, provenance.OpTransferOut, "u1", "t3", "Pay")))
	s.Require().NoError(s.store.Append(ctx, event(4, provenance.OpTransferIn, "u1", "t4", "Mail")))
	s.Require().NoError(s.store.Append(ctx, event(5, provenance.OpTransferOut, "u2", "t5", "Ledger")))

	dests, err := s.store.DestinationsForUser(ctx, "u1")
	s.Require().NoError(err)
	s.Equal([]string{"Analytics", "Pay"}, dests)

	none, err := s.store.DestinationsForUser(ctx, "u3")
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *StoreSuite) TestReadYourWritesUnderConcurrentAppends() {
	ctx := context.Background()
	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				n := w*perWriter + i
				dest := fmt.Sprintf("Dest%02d", n)
				if err := s.store.Append(ctx, event(n, provenance.OpTransferOut, "u1", "t", dest)); err != nil {
					errs <- err
					return
				}
				// The append just returned; it must already be visible.
				dests, err := s.store.DestinationsForUser(ctx, "u1")
				if err != nil {
					errs <- err
					return
				}
				found := false
				for _, d := range dests {
					if d == dest {
						found = true
						break
					}
				}
				if !found {
					errs <- fmt.Errorf("destination %s not visible after append", dest)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}

	all, err := s.store.ListAll(ctx)
	s.Require().NoError(err)
	s.Len(all, writers*perWriter)
}

func (s *StoreSuite) TestReturnedEventsDoNotAliasStoredMetadata() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, event(1, provenance.OpSource, "u1", "t1", "")))

	first, err := s.store.ListByUser(ctx, "u1")
	s.Require().NoError(err)
	first[0].Metadata["n"] = "mutated"

	second, err := s.store.ListByUser(ctx, "u1")
	s.Require().NoError(err)
	s.Equal(float64(1), second[0].Metadata["n"])
}

func (s *StoreSuite) TestStoredNestedMetadataIsImmutable() {
	ctx := context.Background()
	e := event(1, provenance.OpSource, "u1", "t1", "")
	nested := map[string]any{"city": "Lisbon"}
	e.Metadata["address"] = nested
	e.Metadata["items"] = []any{"pen"}
	s.Require().NoError(s.store.Append(ctx, e))
	nested["city"] = "Porto"
	e.Metadata["items"].([]any)[0] = "pencil"

	first, err := s.store.ListByUser(ctx, "u1")
	s.Require().NoError(err)
	first[0].Metadata["address"].(map[string]any)["city"] = "Faro"

	second, err := s.store.ListByUser(ctx, "u1")
	s.Require().NoError(err)
	s.Equal(map[string]any{"city": "Lisbon"}, second[0].Metadata["address"])
	s.Equal([]any{"pen"}, second[0].Metadata["items"])
}

func (s *StoreSuite) TestDuplicateEventIDIsIgnored() {
	ctx := context.Background()
	e := event(1, provenance.OpTransferOut, "u1", "t1", "Pay")
	s.Require().NoError(s.store.Append(ctx, e))
	s.Require().NoError(s.store.Append(ctx, e))

	got, err := s.store.ListByUser(ctx, "u1")
	s.Require().NoError(err)
	s.Len(got, 1)
}

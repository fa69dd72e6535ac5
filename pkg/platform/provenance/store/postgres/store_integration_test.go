//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	id "shadowrt/pkg/domain"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/platform/provenance/store/postgres"
	"shadowrt/pkg/platform/provenance/store/storetest"
	txcontext "shadowrt/pkg/platform/tx"
	"shadowrt/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	storetest.StoreSuite
	postgres *containers.PostgresContainer
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.NewStore = func() provenance.Store {
		s.Require().NoError(s.postgres.TruncateTables(context.Background(), "provenance_events"))
		return postgres.New(s.postgres.DB)
	}
}

func (s *PostgresStoreSuite) TestListByOperations() {
	ctx := context.Background()
	store := postgres.New(s.postgres.DB)
	log := provenance.New("Pay", store)

	for _, op := range []provenance.Operation{
		provenance.OpTransferIn,
		provenance.InsertOperation("payment"),
		provenance.OpDeleteLocal,
	} {
		_, err := log.Append(ctx, provenance.AppendRequest{Operation: op, UserID: "u1", TagID: "t1"})
		s.Require().NoError(err)
	}

	got, err := store.ListByOperations(ctx, "u1", provenance.OpTransferIn, provenance.OpDeleteLocal)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(provenance.OpTransferIn, got[0].Operation)
	s.Equal(provenance.OpDeleteLocal, got[1].Operation)

	_, err = log.Append(ctx, provenance.AppendRequest{Operation: provenance.OpTransferIn, UserID: "u2", TagID: "t2"})
	s.Require().NoError(err)
	all, err := provenance.ListByOperations(ctx, store, "", provenance.OpTransferIn)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(id.UserID("u1"), all[0].UserID)
	s.Equal(id.UserID("u2"), all[1].UserID)
}

func (s *PostgresStoreSuite) TestAppendIgnoresCallerTransaction() {
	ctx := context.Background()
	store := postgres.New(s.postgres.DB)
	log := provenance.New("Pay", store)
	boom := errors.New("domain insert failed")

	err := txcontext.Run(ctx, s.postgres.DB, func(ctx context.Context) error {
		if _, err := log.Append(ctx, provenance.AppendRequest{
			Operation: provenance.InsertOperation("payment"), UserID: "u9", TagID: "t9",
		}); err != nil {
			return err
		}
		return boom
	})
	s.Require().ErrorIs(err, boom)

	events, err := store.ListByUser(ctx, "u9")
	s.Require().NoError(err)
	s.Require().Len(events, 1, "a reported append must survive the caller's rollback")
	s.Equal(provenance.InsertOperation("payment"), events[0].Operation)
}

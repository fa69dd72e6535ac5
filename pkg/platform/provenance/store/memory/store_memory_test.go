package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/platform/provenance/store/storetest"
	"shadowrt/pkg/platform/sentinel"
)

func TestInMemoryStore(t *testing.T) {
	suite.Run(t, &storetest.StoreSuite{
		NewStore: func() provenance.Store { return NewInMemoryStore() },
	})
}

func TestAppendAfterCloseFails(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.Close())
	err := s.Append(context.Background(), provenance.Event{EventID: "e", UserID: "u1", TagID: "t"})
	require.True(t, errors.Is(err, sentinel.ErrClosed))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.Append(ctx, provenance.Event{EventID: "e", UserID: "u1", TagID: "t"}))
	s.Clear()
	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

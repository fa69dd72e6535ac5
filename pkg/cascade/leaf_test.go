package cascade_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"shadowrt/pkg/cascade"
	"shadowrt/pkg/cascade/mocks"
	id "shadowrt/pkg/domain"
	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/platform/provenance/store/memory"
)

func TestLeafErase(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	local := mocks.NewMockLocalEraser(ctrl)
	log := provenance.New("Pay", memory.NewInMemoryStore())
	leaf := cascade.NewLeaf(log, local)

	t.Run("deletes and records delete_done", func(t *testing.T) {
		local.EXPECT().DeleteUser(gomock.Any(), id.UserID("u1")).Return(1, nil)

		ack, err := leaf.Erase(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, cascade.Ack{DeletedUserID: "u1", DeletedRecords: 1}, ack)

		events, err := log.Events(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, provenance.OpDeleteDone, events[0].Operation)
		assert.Equal(t, id.AllTags, events[0].TagID)
		assert.Equal(t, "Pay", events[0].SourceApp)
	})

	t.Run("unknown user acknowledges zero rows", func(t *testing.T) {
		local.EXPECT().DeleteUser(gomock.Any(), id.UserID("ghost")).Return(0, nil)
		ack, err := leaf.Erase(ctx, "ghost")
		require.NoError(t, err)
		assert.Zero(t, ack.DeletedRecords)
	})

	t.Run("local failure logs nothing", func(t *testing.T) {
		local.EXPECT().DeleteUser(gomock.Any(), id.UserID("u2")).Return(0, errors.New("locked"))
		_, err := leaf.Erase(ctx, "u2")
		require.Error(t, err)
		events, err := log.Events(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("empty user is rejected", func(t *testing.T) {
		_, err := leaf.Erase(ctx, "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func TestLocalEraserFunc(t *testing.T) {
	var got id.UserID
	eraser := cascade.LocalEraserFunc(func(_ context.Context, u id.UserID) (int, error) {
		got = u
		return 4, nil
	})
	n, err := eraser.DeleteUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, id.UserID("u1"), got)
}

func TestRegistry(t *testing.T) {
	ctrl := gomock.NewController(t)
	pay := mocks.NewMockDestination(ctrl)
	pay.EXPECT().Name().Return("Pay").AnyTimes()
	ledger := mocks.NewMockDestination(ctrl)
	ledger.EXPECT().Name().Return("Ledger").AnyTimes()

	r := cascade.NewRegistry(pay, ledger)
	assert.Equal(t, []string{"Ledger", "Pay"}, r.Names())
	d, ok := r.Lookup("Pay")
	require.True(t, ok)
	assert.Equal(t, "Pay", d.Name())
	_, ok = r.Lookup("pay")
	assert.False(t, ok, "names are case sensitive")
}

//go:build integration

package cascade_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowrt/pkg/cascade"
	"shadowrt/pkg/platform/sentinel"
	"shadowrt/pkg/testutil/containers"
)

func TestRedisLockerAgainstRealRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	rc := containers.GetManager().GetRedis(t)
	require.NoError(t, rc.FlushAll(ctx))

	// Two lockers model two replicas sharing one Redis.
	a := cascade.NewRedisLocker(rc.Client)
	b := cascade.NewRedisLocker(rc.Client)

	var (
		wg       sync.WaitGroup
		acquired atomic.Int32
		releases = make(chan func(context.Context) error, 2)
	)
	for _, l := range []*cascade.RedisLocker{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, "cascade:u1", time.Minute)
			if err == nil {
				acquired.Add(1)
				releases <- release
				return
			}
			assert.True(t, errors.Is(err, sentinel.ErrConflict))
		}()
	}
	wg.Wait()
	close(releases)
	require.Equal(t, int32(1), acquired.Load())

	for release := range releases {
		require.NoError(t, release(ctx))
	}
	keys, err := rc.Keys(ctx, "shadowrt:lock:*")
	require.NoError(t, err)
	assert.Empty(t, keys)

	release, err := b.Acquire(ctx, "cascade:u1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

package cascade

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"shadowrt/pkg/platform/sentinel"
)

// Locker grants exclusive, expiring ownership of a key. Acquire returns an
// error wrapping sentinel.ErrConflict when another owner holds the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

const lockShards = 32

type lockShard struct {
	mu   sync.Mutex
	held map[string]heldLock
}

type heldLock struct {
	token   string
	expires time.Time
}

// MemoryLocker is a process-local Locker. Keys are spread over shards by
// murmur3 so unrelated users never contend on one mutex.
type MemoryLocker struct {
	shards [lockShards]lockShard
	now    func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	l := &MemoryLocker{now: time.Now}
	for i := range l.shards {
		l.shards[i].held = make(map[string]heldLock)
	}
	return l
}

func (l *MemoryLocker) shard(key string) *lockShard {
	return &l.shards[murmur3.Sum32([]byte(key))%lockShards]
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	s := l.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := l.now()
	if h, ok := s.held[key]; ok && now.Before(h.expires) {
		return nil, sentinel.ErrConflict
	}
	token := uuid.NewString()
	s.held[key] = heldLock{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if h, ok := s.held[key]; ok && h.token == token {
			delete(s.held, key)
		}
		return nil
	}, nil
}

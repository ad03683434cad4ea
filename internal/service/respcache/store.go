package respcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store holds encoded cache values.
type Store interface {
	// Get returns ok=false on a miss or an expired entry.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type memEntry struct {
	val       []byte
	expiresAt time.Time
	seq       uint64
}

// ordEntry is valid while its key still maps to an entry with the same seq.
type ordEntry struct {
	key string
	seq uint64
}

const minSweepAt = 64

// MemoryStore is an in-process Store. Expired entries are never returned and
// are swept as the insertion log grows; when full, the oldest insertions are
// evicted.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	now      func() time.Time
	m        map[string]memEntry
	ord      []ordEntry
	seq      uint64
	sweepAt  int
}

// NewMemoryStore creates a store holding at most capacity entries (<= 0 means unbounded).
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{capacity: capacity, now: time.Now, m: make(map[string]memEntry), sweepAt: minSweepAt}
}

// WithClock overrides time.Now, for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.m, key)
		return nil, false, nil
	}
	return e.val, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e, exists := s.m[key]
	if !exists {
		if s.capacity > 0 && len(s.m) >= s.capacity {
			s.evictLocked(now)
		}
		s.seq++
		e.seq = s.seq
		s.ord = append(s.ord, ordEntry{key: key, seq: e.seq})
	}
	e.val = val
	e.expiresAt = now.Add(ttl)
	s.m[key] = e
	if len(s.ord) >= s.sweepAt {
		s.sweepLocked(now)
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// sweepLocked drops expired entries and compacts the insertion log.
func (s *MemoryStore) sweepLocked(now time.Time) {
	for k, e := range s.m {
		if now.After(e.expiresAt) {
			delete(s.m, k)
		}
	}
	kept := s.ord[:0]
	for _, o := range s.ord {
		if e, ok := s.m[o.key]; ok && e.seq == o.seq {
			kept = append(kept, o)
		}
	}
	clear(s.ord[len(kept):])
	s.ord = kept
	s.sweepAt = max(2*len(s.ord), minSweepAt)
}

func (s *MemoryStore) evictLocked(now time.Time) {
	s.sweepLocked(now)
	for len(s.m) >= s.capacity && len(s.ord) > 0 {
		delete(s.m, s.ord[0].key)
		s.ord = s.ord[1:]
	}
}

// RedisStore shares cached responses across instances; Redis expiry enforces the TTL.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore returns nil when rdb is nil.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	if rdb == nil {
		return nil
	}
	return &RedisStore{redis: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("op=respcache.RedisStore.Get: %w", err)
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("op=respcache.RedisStore.Set: %w", err)
	}
	return nil
}

package quota

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb), mr
}

// storeContract runs the shared window semantics against any Store.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.UnixMilli(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli())

	e, err := s.Load(ctx, "k", 3, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 0, e.Count)
	assert.Equal(t, 3, e.Limit)
	assert.True(t, e.ResetAt.Equal(now.Add(time.Hour)))

	for i := 1; i <= 5; i++ {
		e, err = s.Incr(ctx, "k", 3, time.Hour, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, min(i, 3), e.Count)
	}
	assert.True(t, e.ResetAt.Equal(now.Add(time.Hour)), "increments do not move the window")

	// closed windows are replaced, not drained
	later := now.Add(time.Hour)
	e, err = s.Load(ctx, "k", 3, time.Hour, later)
	require.NoError(t, err)
	assert.Equal(t, 0, e.Count)
	assert.True(t, e.ResetAt.Equal(later.Add(time.Hour)))

	// block survives independently of the count
	until := later.Add(30 * time.Second)
	e, err = s.Block(ctx, "k", until, 3, time.Hour, later)
	require.NoError(t, err)
	assert.True(t, e.BlockedUntil.Equal(until))
	e, err = s.Block(ctx, "k", later.Add(time.Second), 3, time.Hour, later)
	require.NoError(t, err)
	assert.True(t, e.BlockedUntil.Equal(until), "an earlier block never shortens a later one")

	// switching tiers keeps the count and shortens the window
	e, err = s.Incr(ctx, "k", 3, time.Hour, later)
	require.NoError(t, err)
	require.Equal(t, 1, e.Count)
	e, err = s.Load(ctx, "k", 60, time.Minute, later.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Count)
	assert.Equal(t, 60, e.Limit)
	assert.True(t, e.ResetAt.Equal(later.Add(time.Second).Add(time.Minute)))
}

// reserveContract runs the reserve and release semantics against any Store.
func reserveContract(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.UnixMilli(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli())

	var held []Entry
	for i := 0; i < 4; i++ {
		e, ok, err := s.Reserve(ctx, "r", 2, time.Hour, now)
		require.NoError(t, err)
		if ok {
			held = append(held, e)
		}
		assert.LessOrEqual(t, e.Count, 2)
	}
	require.Len(t, held, 2)

	e, err := s.Release(ctx, "r", held[0].ResetAt, 2, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Count)
	_, ok, err := s.Reserve(ctx, "r", 2, time.Hour, now)
	require.NoError(t, err)
	assert.True(t, ok, "a released unit can be reserved again")

	// a block denies reservations even with room left
	_, err = s.Block(ctx, "b", now.Add(time.Minute), 2, time.Hour, now)
	require.NoError(t, err)
	e, ok, err = s.Reserve(ctx, "b", 2, time.Hour, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, e.Count)

	// releasing into a newer window is a no-op
	later := now.Add(2 * time.Hour)
	_, ok, err = s.Reserve(ctx, "r", 2, time.Hour, later)
	require.NoError(t, err)
	require.True(t, ok)
	e, err = s.Release(ctx, "r", held[1].ResetAt, 2, time.Hour, later)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Count)

	// count never goes below zero
	for i := 0; i < 3; i++ {
		e, err = s.Release(ctx, "r", e.ResetAt, 2, time.Hour, later)
		require.NoError(t, err)
	}
	assert.Zero(t, e.Count)
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore(0))
	reserveContract(t, NewMemoryStore(0))
}

func TestRedisStore_Contract(t *testing.T) {
	s, _ := newTestRedisStore(t)
	storeContract(t, s)
	reserveContract(t, s)
}

func TestNewRedisStore_Nil(t *testing.T) {
	assert.Nil(t, NewRedisStore(nil))
}

func TestRedisStore_SetsExpiry(t *testing.T) {
	s, mr := newTestRedisStore(t)
	now := time.Now()
	_, err := s.Incr(context.Background(), "quota:openai:abc", 5, time.Minute, now)
	require.NoError(t, err)

	ttl := mr.TTL("quota:openai:abc")
	assert.Greater(t, ttl, 50*time.Second)
	assert.LessOrEqual(t, ttl, time.Minute)
	assert.Equal(t, "1", mr.HGet("quota:openai:abc", "count"))
}

func TestRedisStore_Put(t *testing.T) {
	s, mr := newTestRedisStore(t)
	now := time.Now()
	require.NoError(t, s.Put(context.Background(), "quota:x:y", Entry{Count: 4, Limit: 10, Window: time.Hour, ResetAt: now.Add(time.Hour)}))
	assert.Equal(t, "4", mr.HGet("quota:x:y", "count"))

	e, err := s.Load(context.Background(), "quota:x:y", 10, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 4, e.Count)
}

func TestRedisStore_ErrorOnClosedServer(t *testing.T) {
	s, mr := newTestRedisStore(t)
	mr.Close()
	_, err := s.Incr(context.Background(), "k", 1, time.Minute, time.Now())
	require.Error(t, err)
}

func TestMemoryStore_SweepsClosedWindows(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 11; i++ {
		_, err := s.Load(ctx, fmt.Sprintf("k%d", i), 1, time.Minute, start)
		require.NoError(t, err)
	}
	require.Equal(t, 11, s.Len())

	// a blocked entry outlives its window
	_, err := s.Block(ctx, "k0", start.Add(time.Hour), 1, time.Minute, start)
	require.NoError(t, err)

	_, err = s.Load(ctx, "new", 1, time.Minute, start.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

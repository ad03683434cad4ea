package respcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type answer struct {
	Text     string   `json:"text"`
	Provider string   `json:"provider"`
	Tags     []string `json:"tags"`
	Degraded bool     `json:"degraded"`
}

type question struct {
	Provider string
	Query    string
}

func questionKey(q question) string { return Key("chat", q.Provider, q.Query) }

func countingFn(calls *int32) func(context.Context, question) (answer, error) {
	return func(_ context.Context, q question) (answer, error) {
		n := atomic.AddInt32(calls, 1)
		return answer{Text: q.Query + " #" + string(rune('0'+n)), Provider: q.Provider}, nil
	}
}

func TestWrap_HitWithinTTLIsIdentical(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore(10).WithClock(func() time.Time { return now })
	var calls int32
	get := Wrap(New(store), "chat", time.Minute, questionKey, countingFn(&calls))

	ctx := context.Background()
	q := question{Provider: "openai", Query: "Can my landlord evict me?"}
	first, err := get(ctx, q)
	require.NoError(t, err)
	second, err := get(ctx, question{Provider: "openai", Query: "  can my LANDLORD   evict me?"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.Equal(t, string(a), string(b))

	now = now.Add(61 * time.Second)
	third, err := get(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.NotEqual(t, first.Text, third.Text)
}

func TestWrap_DifferentInputsDoNotCollide(t *testing.T) {
	var calls int32
	get := Wrap(New(NewMemoryStore(0)), "chat", time.Minute, questionKey, countingFn(&calls))
	ctx := context.Background()

	_, err := get(ctx, question{Provider: "openai", Query: "q"})
	require.NoError(t, err)
	_, err = get(ctx, question{Provider: "groq", Query: "q"})
	require.NoError(t, err)
	_, err = get(ctx, question{Provider: "openai", Query: "q2"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWrap_ErrorsAreNotCached(t *testing.T) {
	var calls int32
	boom := errors.New("boom")
	fn := func(context.Context, question) (answer, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return answer{}, boom
		}
		return answer{Text: "ok"}, nil
	}
	get := Wrap(New(NewMemoryStore(0)), "chat", time.Minute, questionKey, fn)

	_, err := get(context.Background(), question{Query: "q"})
	require.ErrorIs(t, err, boom)
	out, err := get(context.Background(), question{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	assert.Equal(t, int32(2), calls)
}

func TestWrap_SkipIf(t *testing.T) {
	var calls int32
	fn := func(context.Context, question) (answer, error) {
		atomic.AddInt32(&calls, 1)
		return answer{Text: "offline", Degraded: true}, nil
	}
	get := Wrap(New(NewMemoryStore(0)), "chat", time.Minute, questionKey, fn,
		SkipIf(func(a answer) bool { return a.Degraded }))

	for i := 0; i < 2; i++ {
		out, err := get(context.Background(), question{Query: "q"})
		require.NoError(t, err)
		assert.True(t, out.Degraded)
	}
	assert.Equal(t, int32(2), calls)
}

func TestWrap_NilCacheIsPassThrough(t *testing.T) {
	var calls int32
	get := Wrap(New(nil), "chat", time.Minute, questionKey, countingFn(&calls))
	for i := 0; i < 3; i++ {
		_, err := get(context.Background(), question{Query: "q"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls)
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("down")
}
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("down")
}

func TestWrap_StoreFailureOnlyCostsLatency(t *testing.T) {
	var calls int32
	get := Wrap(New(brokenStore{}), "chat", time.Minute, questionKey, countingFn(&calls))
	out, err := get(context.Background(), question{Provider: "openai", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "openai", out.Provider)
	_, err = get(context.Background(), question{Provider: "openai", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls)
}

func TestWrap_ConcurrentMissesShareOneCall(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	fn := func(context.Context, question) (answer, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return answer{Text: "shared"}, nil
	}
	get := Wrap(New(NewMemoryStore(0)), "research", time.Minute, questionKey, fn)

	var wg sync.WaitGroup
	results := make([]answer, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := get(context.Background(), question{Query: "q"})
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "shared", r.Text)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(8))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestWrap_RedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	var calls int32
	get := Wrap(New(NewRedisStore(rdb)), "research", 30*time.Minute, questionKey, countingFn(&calls))
	q := question{Provider: "anthropic", Query: "statute of limitations"}
	first, err := get(context.Background(), q)
	require.NoError(t, err)
	second, err := get(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls)

	key := questionKey(q)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 30*time.Minute, mr.TTL(key))

	mr.FastForward(31 * time.Minute)
	_, err = get(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls)
}

func TestMemoryStore_EvictsOldestWhenFull(t *testing.T) {
	now := time.Now()
	s := NewMemoryStore(2).WithClock(func() time.Time { return now })
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, s.Set(ctx, "c", []byte("3"), time.Minute))

	_, ok, _ := s.Get(ctx, "a")
	assert.False(t, ok)
	v, ok, _ := s.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, "3", string(v))
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_SweepsExpiredBeforeEvicting(t *testing.T) {
	now := time.Now()
	s := NewMemoryStore(2).WithClock(func() time.Time { return now })
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, s.Set(ctx, "long", []byte("2"), time.Hour))
	now = now.Add(2 * time.Second)
	require.NoError(t, s.Set(ctx, "new", []byte("3"), time.Hour))

	_, ok, _ := s.Get(ctx, "long")
	assert.True(t, ok, "live entries survive when expired ones make room")
}

func TestMemoryStore_UnboundedSweepsExpired(t *testing.T) {
	now := time.Now()
	s := NewMemoryStore(0).WithClock(func() time.Time { return now })
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Second))
		now = now.Add(100 * time.Millisecond)
	}
	// only the last ~10 entries are still live
	assert.Less(t, s.Len(), minSweepAt+20)
	s.mu.Lock()
	assert.LessOrEqual(t, len(s.ord), 2*minSweepAt)
	s.mu.Unlock()
}

func TestMemoryStore_ResetAfterExpiryKeepsOneOrderEntry(t *testing.T) {
	now := time.Now()
	s := NewMemoryStore(2).WithClock(func() time.Time { return now })
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Second))
	now = now.Add(2 * time.Second)
	_, ok, _ := s.Get(ctx, "a")
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Hour))
	require.NoError(t, s.Set(ctx, "a", []byte("3"), time.Hour))
	require.NoError(t, s.Set(ctx, "c", []byte("4"), time.Hour))

	// "b" is the oldest live insertion; the stale "a" slot does not evict the new "a"
	_, ok, _ = s.Get(ctx, "b")
	assert.False(t, ok)
	v, ok, _ := s.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "3", string(v))
	_, ok, _ = s.Get(ctx, "c")
	assert.True(t, ok)
}

func TestWrap_FollowerRetriesAfterLeaderFailure(t *testing.T) {
	var calls int32
	entered := make(chan struct{})
	release := make(chan struct{})
	// both questions share a key; only the key "good" succeeds
	key := func(question) string { return Key("compare", "openai", "q") }
	fn := func(_ context.Context, q question) (answer, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-release
		}
		if q.Provider != "good" {
			return answer{}, errors.New("invalid_credential")
		}
		return answer{Text: "ok"}, nil
	}
	get := Wrap(New(NewMemoryStore(10)), "compare", time.Minute, key, fn)

	leaderErr := make(chan error, 1)
	go func() {
		_, err := get(context.Background(), question{Provider: "bad", Query: "q"})
		leaderErr <- err
	}()
	<-entered

	followerOut := make(chan answer, 1)
	followerErr := make(chan error, 1)
	go func() {
		out, err := get(context.Background(), question{Provider: "good", Query: "q"})
		followerOut <- out
		followerErr <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)

	require.Error(t, <-leaderErr)
	require.NoError(t, <-followerErr)
	assert.Equal(t, "ok", (<-followerOut).Text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWrap_FollowerSurvivesLeaderCancellation(t *testing.T) {
	var calls int32
	entered := make(chan struct{})
	fn := func(ctx context.Context, q question) (answer, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-ctx.Done()
			return answer{}, ctx.Err()
		}
		return answer{Text: "answered"}, nil
	}
	get := Wrap(New(NewMemoryStore(10)), "chat", time.Minute, questionKey, fn)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := get(leaderCtx, question{Query: "q"})
		leaderErr <- err
	}()
	<-entered

	type result struct {
		out answer
		err error
	}
	follower := make(chan result, 1)
	go func() {
		out, err := get(context.Background(), question{Query: "q"})
		follower <- result{out, err}
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	r := <-follower
	require.NoError(t, r.err)
	assert.Equal(t, "answered", r.out.Text)
}

func TestKey(t *testing.T) {
	a := Key("chat", "openai", "What is adverse possession?")
	assert.Equal(t, a, Key("chat", "openai", "what is   adverse possession?"))
	assert.NotEqual(t, a, Key("research", "openai", "What is adverse possession?"))
	assert.NotEqual(t, a, Key("chat", "groq", "What is adverse possession?"))
	assert.NotEqual(t, Key("chat", "ab", "c"), Key("chat", "a", "bc"))
	assert.Contains(t, a, "resp:chat:")
}

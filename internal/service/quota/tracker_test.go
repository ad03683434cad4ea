package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-legal-assistant/internal/config"
	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testLimits() map[domain.Tier]config.TierLimit {
	return config.Config{FreeTierLimit: 50, FreeTierWindow: 24 * time.Hour, PaidTierLimit: 60, PaidTierWindow: time.Minute}.TierLimits()
}

func newTestTracker(opts ...Option) (*Tracker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clk.Now)}, opts...)
	return NewTracker(NewMemoryStore(0), testLimits(), opts...), clk
}

var freeCred = domain.ProviderCredential{ProviderID: "openai", Key: "sk-free"}

func TestTracker_CheckNeverIncrements(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d, err := tr.Check(ctx, "openai", freeCred, domain.TierFree)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 50, d.Remaining)
	}
}

func TestTracker_Monotonicity(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	for n := 0; n < 50; n++ {
		d, err := tr.Check(ctx, "openai", freeCred, domain.TierFree)
		require.NoError(t, err)
		require.Truef(t, d.Allowed, "denied after %d records", n)
		require.Equal(t, 50-n, d.Remaining)
		require.NoError(t, tr.Record(ctx, "openai", freeCred, domain.TierFree))
	}
	d, err := tr.Check(ctx, "openai", freeCred, domain.TierFree)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
}

func TestTracker_FreeTierExhaustedRetryAfter(t *testing.T) {
	tr, clk := newTestTracker()
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.NoError(t, tr.Record(ctx, "openai", freeCred, domain.TierFree))
	}
	clk.Advance(6 * time.Hour)

	d, err := tr.Check(ctx, "openai", freeCred, domain.TierFree)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 18*time.Hour, d.RetryAfter)
	assert.Equal(t, d.ResetAt.Sub(clk.Now()), d.RetryAfter)

	// recording past the ceiling is clamped
	require.NoError(t, tr.Record(ctx, "openai", freeCred, domain.TierFree))
	st, err := tr.Status(ctx, "openai", freeCred, domain.TierFree)
	require.NoError(t, err)
	assert.Equal(t, 50, st.Used)
	assert.Equal(t, 100.0, st.PercentUsed)

	clk.Advance(18 * time.Hour)
	d, err = tr.Check(ctx, "openai", freeCred, domain.TierFree)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 50, d.Remaining)
	assert.Equal(t, clk.Now().Add(24*time.Hour), d.ResetAt)
}

func TestTracker_CredentialsAreIndependent(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	other := domain.ProviderCredential{ProviderID: "openai", Key: "sk-other"}
	for i := 0; i < 50; i++ {
		require.NoError(t, tr.Record(ctx, "openai", freeCred, domain.TierFree))
	}
	d, err := tr.Check(ctx, "openai", other, domain.TierFree)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = tr.Check(ctx, "anthropic", freeCred, domain.TierFree)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestTracker_ConcurrentRecordsNeverExceedLimit(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.Record(ctx, "openai", freeCred, domain.TierFree)
		}()
	}
	wg.Wait()
	st, err := tr.Status(ctx, "openai", freeCred, domain.TierFree)
	require.NoError(t, err)
	assert.Equal(t, 50, st.Used)
}

func TestTracker_ConcurrentReservationsStopAtLimit(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := tr.Reserve(ctx, "openai", freeCred, domain.TierFree)
			assert.NoError(t, err)
			if r.Held {
				assert.True(t, r.Allowed)
				mu.Lock()
				granted++
				mu.Unlock()
			} else {
				assert.False(t, r.Allowed)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, granted)

	st, err := tr.Status(ctx, "openai", freeCred, domain.TierFree)
	require.NoError(t, err)
	assert.Equal(t, 50, st.Used)
}

func TestTracker_ReleaseReturnsTheUnit(t *testing.T) {
	tr, clk := newTestTracker()
	ctx := context.Background()

	r, err := tr.Reserve(ctx, "openai", freeCred, domain.TierFree)
	require.NoError(t, err)
	require.True(t, r.Held)
	assert.Equal(t, 49, r.Remaining)
	require.NoError(t, tr.Release(ctx, freeCred, r))

	st, err := tr.Status(ctx, "openai", freeCred, domain.TierFree)
	require.NoError(t, err)
	assert.Zero(t, st.Used)

	// a reservation from a closed window does not drain the next one
	r, err = tr.Reserve(ctx, "openai", freeCred, domain.TierFree)
	require.NoError(t, err)
	clk.Advance(25 * time.Hour)
	require.NoError(t, tr.Record(ctx, "openai", freeCred, domain.TierFree))
	require.NoError(t, tr.Release(ctx, freeCred, r))
	st, err = tr.Status(ctx, "openai", freeCred, domain.TierFree)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Used)

	// denied reservations hold nothing
	require.NoError(t, tr.Block(ctx, "openai", freeCred, time.Minute))
	r, err = tr.Reserve(ctx, "openai", freeCred, domain.TierFree)
	require.NoError(t, err)
	assert.False(t, r.Held)
	assert.Equal(t, time.Minute, r.RetryAfter)
	require.NoError(t, tr.Release(ctx, freeCred, r))
	st, err = tr.Status(ctx, "openai", freeCred, domain.TierFree)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Used)
}

func TestTracker_CommitFeedsTierDetection(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	declared := domain.ProviderCredential{ProviderID: "groq", Key: "gsk-paid", Tier: domain.TierPaid}

	r, err := tr.Reserve(ctx, "groq", declared, domain.TierUnknown)
	require.NoError(t, err)
	assert.Equal(t, domain.TierPaid, r.Tier)
	assert.Equal(t, 60, r.Limit)
	require.NoError(t, tr.Commit(ctx, declared, r))
	assert.Equal(t, domain.TierPaid, tr.DetectTier("groq", domain.ProviderCredential{Key: "gsk-paid"}))
}

func TestTracker_ObservationsArePruned(t *testing.T) {
	tr, clk := newTestTracker(WithSweepThreshold(50))
	ctx := context.Background()
	paid := domain.ProviderCredential{Key: "sk-paid", Tier: domain.TierPaid}
	require.NoError(t, tr.Record(ctx, "openai", paid, domain.TierUnknown))

	for i := 0; i < 5000; i++ {
		cred := domain.ProviderCredential{Key: fmt.Sprintf("sk-%d", i)}
		require.NoError(t, tr.Record(ctx, "openai", cred, domain.TierUnknown))
		clk.Advance(2 * time.Hour)
	}

	tr.mu.Lock()
	n := len(tr.observed)
	tr.mu.Unlock()
	assert.LessOrEqual(t, n, 51)
	assert.Equal(t, domain.TierPaid, tr.DetectTier("openai", domain.ProviderCredential{Key: "sk-paid"}), "paid survives pruning")
}

func TestTracker_DetectTier(t *testing.T) {
	tr, clk := newTestTracker()
	ctx := context.Background()
	assert.Equal(t, domain.TierFree, tr.DetectTier("openai", freeCred))

	// The free window clamps at 50, but observations keep counting.
	for i := 0; i < 51; i++ {
		require.NoError(t, tr.Record(ctx, "openai", freeCred, domain.TierUnknown))
	}
	assert.Equal(t, domain.TierPaid, tr.DetectTier("openai", freeCred))

	clk.Advance(72 * time.Hour)
	assert.Equal(t, domain.TierPaid, tr.DetectTier("openai", freeCred), "paid is never lowered")

	declared := domain.ProviderCredential{ProviderID: "groq", Key: "gsk", Tier: domain.TierPaid}
	assert.Equal(t, domain.TierPaid, tr.DetectTier("groq", declared))
	assert.Equal(t, domain.TierPaid, tr.DetectTier("groq", domain.ProviderCredential{Key: "gsk"}))
}

func TestTracker_UnknownTierUsesDetection(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	paid := domain.ProviderCredential{Key: "sk-paid", Tier: domain.TierPaid}
	d, err := tr.Check(ctx, "openai", paid, domain.TierUnknown)
	require.NoError(t, err)
	assert.Equal(t, 60, d.Limit)
}

func TestTracker_Block(t *testing.T) {
	tr, clk := newTestTracker()
	ctx := context.Background()
	require.NoError(t, tr.Block(ctx, "openai", freeCred, 40*time.Second))

	d, err := tr.Check(ctx, "openai", freeCred, domain.TierFree)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 40*time.Second, d.RetryAfter)

	clk.Advance(41 * time.Second)
	d, err = tr.Check(ctx, "openai", freeCred, domain.TierFree)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestTracker_ProviderOverrides(t *testing.T) {
	cat := config.Catalog{Providers: []config.ProviderSpec{{ID: "gemini", FreeLimit: 2, FreeWindow: time.Hour}}}
	tr, _ := newTestTracker(WithCatalog(cat))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, tr.Record(ctx, "gemini", freeCred, domain.TierFree))
	}
	d, err := tr.Check(ctx, "gemini", freeCred, domain.TierFree)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Hour, d.RetryAfter)
}

type failingStore struct{ MemoryStore }

var errStoreDown = errors.New("store down")

func (*failingStore) Load(context.Context, string, int, time.Duration, time.Time) (Entry, error) {
	return Entry{}, errStoreDown
}

func (*failingStore) Reserve(context.Context, string, int, time.Duration, time.Time) (Entry, bool, error) {
	return Entry{}, false, errStoreDown
}

func TestTracker_CheckFailsOpen(t *testing.T) {
	tr := NewTracker(&failingStore{}, testLimits())
	d, err := tr.Check(context.Background(), "openai", freeCred, domain.TierFree)
	require.ErrorIs(t, err, errStoreDown)
	assert.True(t, d.Allowed)

	r, err := tr.Reserve(context.Background(), "openai", freeCred, domain.TierFree)
	require.ErrorIs(t, err, errStoreDown)
	assert.True(t, r.Allowed)
	assert.False(t, r.Held)
}

type memMirror struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func (m *memMirror) Save(_ context.Context, key string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
	return nil
}

func (m *memMirror) LoadAll(context.Context) (map[string]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Entry, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out, nil
}

func TestTracker_MirrorAndWarm(t *testing.T) {
	mirror := &memMirror{entries: map[string]Entry{}}
	tr, clk := newTestTracker(WithMirror(mirror))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Record(ctx, "openai", freeCred, domain.TierFree))
	}
	mirror.entries["quota:openai:stale"] = Entry{Count: 9, Limit: 50, Window: time.Hour, ResetAt: clk.Now().Add(-time.Minute)}

	fresh := NewTracker(NewMemoryStore(0), testLimits(), WithClock(clk.Now), WithMirror(mirror))
	n, err := fresh.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := fresh.Status(ctx, "openai", freeCred, domain.TierFree)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Used)
	assert.Equal(t, 6.0, st.PercentUsed)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("openai", "sk-1")
	assert.Len(t, a, 32)
	assert.Equal(t, a, Fingerprint("openai", "sk-1"))
	assert.NotEqual(t, a, Fingerprint("openai", "sk-2"))
	assert.NotEqual(t, a, Fingerprint("groq", "sk-1"))
	assert.NotContains(t, a, "sk-1")
	assert.Equal(t, "anonymous", Fingerprint("openai", ""))
}

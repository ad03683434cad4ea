// Package quota tracks per-provider, per-credential request windows.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-legal-assistant/internal/config"
	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

// Mirror durably copies quota entries so a fresh instance can warm its store.
type Mirror interface {
	Save(ctx context.Context, key string, e Entry) error
	LoadAll(ctx context.Context) (map[string]Entry, error)
}

const (
	observationWindow = 24 * time.Hour
	defaultCooldown   = 30 * time.Second
	// Observations are pruned once the map holds more than this many.
	defaultObservationSweep = 10000
)

type observation struct {
	count int
	since time.Time
	paid  bool
}

// Tracker implements domain.QuotaTracker over a Store.
type Tracker struct {
	store     Store
	mirror    Mirror
	limits    map[domain.Tier]config.TierLimit
	overrides map[string]map[domain.Tier]config.TierLimit
	now       func() time.Time
	log       *slog.Logger

	mu         sync.Mutex
	observed   map[string]*observation
	sweepAbove int
}

var _ domain.QuotaTracker = (*Tracker)(nil)

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// WithMirror attaches a durable mirror.
func WithMirror(m Mirror) Option { return func(t *Tracker) { t.mirror = m } }

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(l *slog.Logger) Option { return func(t *Tracker) { t.log = l } }

// WithSweepThreshold sets how many tier observations are kept before stale
// free-tier ones are pruned. Non-positive values keep the default.
func WithSweepThreshold(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.sweepAbove = n
		}
	}
}

// WithProviderLimit overrides one tier's window for one provider.
func WithProviderLimit(provider string, tier domain.Tier, lim config.TierLimit) Option {
	return func(t *Tracker) {
		if lim.Limit <= 0 || lim.Window <= 0 {
			return
		}
		if t.overrides[provider] == nil {
			t.overrides[provider] = map[domain.Tier]config.TierLimit{}
		}
		t.overrides[provider][tier] = lim
		if tier == domain.TierFree {
			t.overrides[provider][domain.TierUnknown] = lim
		}
	}
}

// WithCatalog applies the per-provider overrides found in a provider catalog.
func WithCatalog(cat config.Catalog) Option {
	return func(t *Tracker) {
		for _, p := range cat.Providers {
			WithProviderLimit(p.ID, domain.TierFree, config.TierLimit{Limit: p.FreeLimit, Window: p.FreeWindow})(t)
			WithProviderLimit(p.ID, domain.TierPaid, config.TierLimit{Limit: p.PaidLimit, Window: p.PaidWindow})(t)
		}
	}
}

// NewTracker builds a tracker. limits must contain free and paid entries.
func NewTracker(store Store, limits map[domain.Tier]config.TierLimit, opts ...Option) *Tracker {
	t := &Tracker{
		store:      store,
		limits:     limits,
		overrides:  map[string]map[domain.Tier]config.TierLimit{},
		now:        time.Now,
		log:        slog.Default(),
		observed:   map[string]*observation{},
		sweepAbove: defaultObservationSweep,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tracker) limitFor(provider string, tier domain.Tier) config.TierLimit {
	if o, ok := t.overrides[provider][tier]; ok {
		return o
	}
	if l, ok := t.limits[tier]; ok {
		return l
	}
	return t.limits[domain.TierFree]
}

func (t *Tracker) resolveTier(provider string, cred domain.ProviderCredential, tier domain.Tier) domain.Tier {
	if tier != domain.TierUnknown {
		return tier
	}
	return t.DetectTier(provider, cred)
}

// Check reports whether a call may be spent. It never increments the count.
// Store failures fail open and are returned alongside an allowing decision.
func (t *Tracker) Check(ctx context.Context, provider string, cred domain.ProviderCredential, tier domain.Tier) (domain.QuotaDecision, error) {
	tier = t.resolveTier(provider, cred, tier)
	lim := t.limitFor(provider, tier)
	now := t.now()
	key := entryKey(provider, Fingerprint(provider, cred.Key))

	e, err := t.store.Load(ctx, key, lim.Limit, lim.Window, now)
	if err != nil {
		t.log.Warn("quota store unavailable, failing open",
			slog.String("provider", provider), slog.Any("error", err))
		return domain.QuotaDecision{Allowed: true, Remaining: lim.Limit, Limit: lim.Limit, ResetAt: now.Add(lim.Window)}, err
	}
	return decide(e, now), nil
}

func decide(e Entry, now time.Time) domain.QuotaDecision {
	d := domain.QuotaDecision{
		Allowed:   true,
		Remaining: max(e.Limit-e.Count, 0),
		Limit:     e.Limit,
		ResetAt:   e.ResetAt,
	}
	switch {
	case e.BlockedUntil.After(now):
		d.Allowed = false
		d.RetryAfter = e.BlockedUntil.Sub(now)
	case e.Count >= e.Limit:
		d.Allowed = false
		d.RetryAfter = e.ResetAt.Sub(now)
	}
	return d
}

// Reserve spends one call if the window allows it, atomically with the check,
// so concurrent callers on one credential never exceed the limit. A held
// reservation must be settled with Commit or Release. Store failures fail
// open: the call is allowed and nothing is held.
func (t *Tracker) Reserve(ctx context.Context, provider string, cred domain.ProviderCredential, tier domain.Tier) (domain.QuotaReservation, error) {
	tier = t.resolveTier(provider, cred, tier)
	lim := t.limitFor(provider, tier)
	now := t.now()
	key := entryKey(provider, Fingerprint(provider, cred.Key))
	r := domain.QuotaReservation{Provider: provider, Tier: tier}

	e, granted, err := t.store.Reserve(ctx, key, lim.Limit, lim.Window, now)
	if err != nil {
		t.log.Warn("quota store unavailable, failing open",
			slog.String("provider", provider), slog.Any("error", err))
		r.QuotaDecision = domain.QuotaDecision{Allowed: true, Remaining: lim.Limit, Limit: lim.Limit, ResetAt: now.Add(lim.Window)}
		return r, err
	}
	if !granted {
		r.QuotaDecision = decide(e, now)
		return r, nil
	}
	r.Held = true
	r.QuotaDecision = domain.QuotaDecision{
		Allowed:   true,
		Remaining: max(e.Limit-e.Count, 0),
		Limit:     e.Limit,
		ResetAt:   e.ResetAt,
	}
	t.mirrorEntry(ctx, key, e)
	return r, nil
}

// Commit settles a held reservation after a successful call. The unit stays
// spent and the call counts toward tier detection.
func (t *Tracker) Commit(_ context.Context, cred domain.ProviderCredential, r domain.QuotaReservation) error {
	if !r.Held {
		return nil
	}
	t.observe(r.Provider, Fingerprint(r.Provider, cred.Key), cred.Tier, t.now())
	return nil
}

// Release returns a held reservation after a failed call.
func (t *Tracker) Release(ctx context.Context, cred domain.ProviderCredential, r domain.QuotaReservation) error {
	if !r.Held {
		return nil
	}
	lim := t.limitFor(r.Provider, r.Tier)
	key := entryKey(r.Provider, Fingerprint(r.Provider, cred.Key))
	e, err := t.store.Release(ctx, key, r.ResetAt, lim.Limit, lim.Window, t.now())
	if err != nil {
		t.log.Warn("quota release failed", slog.String("provider", r.Provider), slog.Any("error", err))
		return err
	}
	t.mirrorEntry(ctx, key, e)
	return nil
}

// Record counts one successful upstream call outside a reservation. The count
// is clamped at the limit.
func (t *Tracker) Record(ctx context.Context, provider string, cred domain.ProviderCredential, tier domain.Tier) error {
	tier = t.resolveTier(provider, cred, tier)
	lim := t.limitFor(provider, tier)
	now := t.now()
	fp := Fingerprint(provider, cred.Key)
	key := entryKey(provider, fp)

	t.observe(provider, fp, cred.Tier, now)

	e, err := t.store.Incr(ctx, key, lim.Limit, lim.Window, now)
	if err != nil {
		t.log.Warn("quota record failed", slog.String("provider", provider), slog.Any("error", err))
		return err
	}
	t.mirrorEntry(ctx, key, e)
	return nil
}

// Block denies the credential until retryAfter elapses, used when the
// upstream itself reports a rate limit.
func (t *Tracker) Block(ctx context.Context, provider string, cred domain.ProviderCredential, retryAfter time.Duration) error {
	if retryAfter <= 0 {
		retryAfter = defaultCooldown
	}
	tier := t.DetectTier(provider, cred)
	lim := t.limitFor(provider, tier)
	now := t.now()
	key := entryKey(provider, Fingerprint(provider, cred.Key))

	e, err := t.store.Block(ctx, key, now.Add(retryAfter), lim.Limit, lim.Window, now)
	if err != nil {
		t.log.Warn("quota block failed", slog.String("provider", provider), slog.Any("error", err))
		return err
	}
	t.mirrorEntry(ctx, key, e)
	return nil
}

// DetectTier infers the account class. A credential that was ever declared or
// observed as paid stays paid.
func (t *Tracker) DetectTier(provider string, cred domain.ProviderCredential) domain.Tier {
	fp := provider + ":" + Fingerprint(provider, cred.Key)
	t.mu.Lock()
	defer t.mu.Unlock()
	o := t.observed[fp]
	if cred.Tier == domain.TierPaid {
		if o == nil {
			now := t.now()
			t.pruneLocked(now)
			o = &observation{since: now}
			t.observed[fp] = o
		}
		o.paid = true
	}
	if o != nil && o.paid {
		return domain.TierPaid
	}
	return domain.TierFree
}

func (t *Tracker) observe(provider, fingerprint string, declared domain.Tier, now time.Time) {
	fp := provider + ":" + fingerprint
	freeCeiling := t.limitFor(provider, domain.TierFree).Limit
	t.mu.Lock()
	defer t.mu.Unlock()
	o := t.observed[fp]
	if o == nil {
		t.pruneLocked(now)
		o = &observation{since: now}
		t.observed[fp] = o
	}
	if now.Sub(o.since) >= observationWindow {
		o.count = 0
		o.since = now
	}
	o.count++
	if declared == domain.TierPaid || o.count > freeCeiling {
		o.paid = true
	}
}

// pruneLocked drops free-tier observations whose window has passed. Paid
// observations are kept since paid is never lowered. Must hold mu.
func (t *Tracker) pruneLocked(now time.Time) {
	if len(t.observed) < t.sweepAbove {
		return
	}
	for fp, o := range t.observed {
		if !o.paid && now.Sub(o.since) >= observationWindow {
			delete(t.observed, fp)
		}
	}
}

// Status is the read-only view polled by status widgets.
func (t *Tracker) Status(ctx context.Context, provider string, cred domain.ProviderCredential, tier domain.Tier) (domain.QuotaStatus, error) {
	tier = t.resolveTier(provider, cred, tier)
	lim := t.limitFor(provider, tier)
	now := t.now()
	e, err := t.store.Load(ctx, entryKey(provider, Fingerprint(provider, cred.Key)), lim.Limit, lim.Window, now)
	if err != nil {
		return domain.QuotaStatus{}, fmt.Errorf("op=quota.Status: %w", err)
	}
	st := domain.QuotaStatus{
		Provider:  provider,
		Tier:      tier,
		Used:      e.Count,
		Limit:     e.Limit,
		Remaining: max(e.Limit-e.Count, 0),
		ResetAt:   e.ResetAt,
	}
	if e.Limit > 0 {
		st.PercentUsed = math.Round(float64(e.Count)/float64(e.Limit)*10000) / 100
	}
	return st, nil
}

// Warm copies live mirrored entries into the store.
func (t *Tracker) Warm(ctx context.Context) (int, error) {
	if t.mirror == nil {
		return 0, nil
	}
	entries, err := t.mirror.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("op=quota.Warm: %w", err)
	}
	now := t.now()
	n := 0
	for k, e := range entries {
		if !e.Live(now) && !e.BlockedUntil.After(now) {
			continue
		}
		if err := t.store.Put(ctx, k, e); err != nil {
			t.log.Warn("failed to warm quota entry", slog.String("key", k), slog.Any("error", err))
			continue
		}
		n++
	}
	return n, nil
}

func (t *Tracker) mirrorEntry(ctx context.Context, key string, e Entry) {
	if t.mirror == nil {
		return
	}
	if err := t.mirror.Save(ctx, key, e); err != nil {
		t.log.Error("failed to mirror quota entry", slog.String("key", key), slog.Any("error", err))
	}
}

// Package respcache memoizes expensive idempotent operations such as provider
// calls and research lookups.
package respcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	obsmetrics "github.com/fairyhunter13/ai-legal-assistant/internal/adapter/observability"
	"github.com/fairyhunter13/ai-legal-assistant/internal/observability"
)

var tracer = otel.Tracer("respcache")

// Cache fronts a Store. A nil *Cache is valid and never caches.
type Cache struct {
	store Store
	group singleflight.Group
}

// New returns nil when store is nil.
func New(store Store) *Cache {
	if store == nil {
		return nil
	}
	return &Cache{store: store}
}

type wrapConfig[Out any] struct {
	skip func(Out) bool
}

// WrapOption customizes Wrap.
type WrapOption[Out any] func(*wrapConfig[Out])

// SkipIf keeps results for which skip returns true out of the cache.
func SkipIf[Out any](skip func(Out) bool) WrapOption[Out] {
	return func(c *wrapConfig[Out]) { c.skip = skip }
}

// Wrap returns fn memoized under keyFn(in) for ttl. Errors are never cached.
// A hit and the miss that produced it decode from the same stored bytes, so
// callers observe identical values. Store failures degrade to a miss and only
// cost latency. Concurrent misses for one key share a single invocation; only
// its success is shared, and a follower of a failed invocation runs fn itself.
func Wrap[In, Out any](
	c *Cache,
	op string,
	ttl time.Duration,
	keyFn func(In) string,
	fn func(context.Context, In) (Out, error),
	opts ...WrapOption[Out],
) func(context.Context, In) (Out, error) {
	cfg := wrapConfig[Out]{}
	for _, o := range opts {
		o(&cfg)
	}
	if c == nil || ttl <= 0 {
		return func(ctx context.Context, in In) (Out, error) {
			obsmetrics.ObserveCache(op, "bypass")
			return fn(ctx, in)
		}
	}

	return func(ctx context.Context, in In) (Out, error) {
		key := keyFn(in)
		if raw, ok := c.lookup(ctx, op, key); ok {
			var out Out
			if err := json.Unmarshal(raw, &out); err == nil {
				return out, nil
			}
			observability.Logger(ctx).Warn("discarding undecodable cache entry", slog.String("op", op))
		}

		var fresh Out
		var led, skipped bool
		v, err, _ := c.group.Do(key, func() (interface{}, error) {
			led = true
			out, err := fn(ctx, in)
			fresh = out
			if err != nil {
				return nil, err
			}
			if cfg.skip != nil && cfg.skip(out) {
				skipped = true
				return nil, nil
			}
			raw, err := json.Marshal(out)
			if err != nil {
				skipped = true
				return nil, nil
			}
			if err := c.store.Set(ctx, key, raw, ttl); err != nil {
				observability.Logger(ctx).Warn("cache store failed", slog.String("op", op), slog.Any("error", err))
			}
			return raw, nil
		})
		if err != nil {
			if led {
				return fresh, err
			}
			// the leader's error belongs to its own input and context
			return fn(ctx, in)
		}
		if skipped {
			return fresh, nil
		}
		raw, ok := v.([]byte)
		if !ok {
			// shared result from a call whose output was not cacheable
			return fn(ctx, in)
		}
		var out Out
		if err := json.Unmarshal(raw, &out); err != nil {
			var zero Out
			return zero, err
		}
		return out, nil
	}
}

func (c *Cache) lookup(ctx context.Context, op, key string) ([]byte, bool) {
	ctx, span := tracer.Start(ctx, "respcache.Get", trace.WithAttributes(attribute.String("cache.op", op)))
	defer span.End()

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		obsmetrics.ObserveCache(op, "error")
		observability.Logger(ctx).Warn("cache lookup failed, treating as miss", slog.String("op", op), slog.Any("error", err))
		return nil, false
	}
	span.SetAttributes(attribute.Bool("cache.hit", ok))
	if ok {
		obsmetrics.ObserveCache(op, "hit")
	} else {
		obsmetrics.ObserveCache(op, "miss")
	}
	return raw, ok
}

package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares quota windows across instances. All mutations run inside
// one Lua script so load-reset-increment is atomic per key; key expiry does
// the sweeping.
type RedisStore struct {
	redis  *redis.Client
	script *redis.Script
}

// NewRedisStore returns nil when rdb is nil.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	if rdb == nil {
		return nil
	}
	return &RedisStore{redis: rdb, script: redis.NewScript(luaQuotaWindowScript)}
}

// Times are unix milliseconds.
const luaQuotaWindowScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local op = ARGV[4]
local arg_ms = tonumber(ARGV[5])

local data = redis.call("HMGET", key, "count", "limit", "reset_at", "window", "blocked_until")
local count = tonumber(data[1])
local elimit = tonumber(data[2])
local reset_at = tonumber(data[3])
local ewindow = tonumber(data[4])
local blocked = tonumber(data[5]) or 0

if count == nil or reset_at == nil or now >= reset_at then
  count = 0
  reset_at = now + window
elseif elimit ~= limit or ewindow ~= window then
  count = math.min(count, limit)
  reset_at = math.min(reset_at, now + window)
end
if blocked <= now then
  blocked = 0
end

local granted = 0
if op == "incr" and count < limit then
  count = count + 1
elseif op == "reserve" and blocked == 0 and count < limit then
  count = count + 1
  granted = 1
elseif op == "release" and count > 0 and reset_at == arg_ms then
  count = count - 1
elseif op == "block" and arg_ms > blocked then
  blocked = arg_ms
end

redis.call("HSET", key, "count", count, "limit", limit, "reset_at", reset_at, "window", window, "blocked_until", blocked)
local expire_at = reset_at
if blocked > expire_at then
  expire_at = blocked
end
local ttl = expire_at - now
if ttl < 1 then
  ttl = 1
end
redis.call("PEXPIRE", key, ttl)

return { count, limit, reset_at, blocked, granted }
`

func (s *RedisStore) Load(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Entry, error) {
	return s.run(ctx, "load", key, limit, window, now, time.Time{})
}

func (s *RedisStore) Incr(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Entry, error) {
	return s.run(ctx, "incr", key, limit, window, now, time.Time{})
}

func (s *RedisStore) Reserve(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Entry, bool, error) {
	res, err := s.eval(ctx, "reserve", key, limit, window, now, time.Time{})
	if err != nil {
		return Entry{}, false, err
	}
	return res.entry, res.granted, nil
}

func (s *RedisStore) Release(ctx context.Context, key string, resetAt time.Time, limit int, window time.Duration, now time.Time) (Entry, error) {
	return s.run(ctx, "release", key, limit, window, now, resetAt)
}

func (s *RedisStore) Block(ctx context.Context, key string, until time.Time, limit int, window time.Duration, now time.Time) (Entry, error) {
	return s.run(ctx, "block", key, limit, window, now, until)
}

func (s *RedisStore) Put(ctx context.Context, key string, e Entry) error {
	expireAt := e.ResetAt
	if e.BlockedUntil.After(expireAt) {
		expireAt = e.BlockedUntil
	}
	var blocked int64
	if !e.BlockedUntil.IsZero() {
		blocked = e.BlockedUntil.UnixMilli()
	}
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key,
		"count", e.Count,
		"limit", e.Limit,
		"reset_at", e.ResetAt.UnixMilli(),
		"window", e.Window.Milliseconds(),
		"blocked_until", blocked,
	)
	pipe.PExpireAt(ctx, key, expireAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=quota.RedisStore.Put: %w", err)
	}
	return nil
}

type scriptResult struct {
	entry   Entry
	granted bool
}

func (s *RedisStore) run(ctx context.Context, op, key string, limit int, window time.Duration, now, arg time.Time) (Entry, error) {
	res, err := s.eval(ctx, op, key, limit, window, now, arg)
	return res.entry, err
}

// eval runs the window script. arg is the block deadline for "block" and the
// reserved window's reset time for "release".
func (s *RedisStore) eval(ctx context.Context, op, key string, limit int, window time.Duration, now, arg time.Time) (scriptResult, error) {
	var argMs int64
	if !arg.IsZero() {
		argMs = arg.UnixMilli()
	}
	res, err := s.script.Run(ctx, s.redis, []string{key},
		limit, window.Milliseconds(), now.UnixMilli(), op, argMs).Result()
	if err != nil {
		return scriptResult{}, fmt.Errorf("op=quota.RedisStore.%s: %w", op, err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 5 {
		return scriptResult{}, fmt.Errorf("op=quota.RedisStore.%s: unexpected script result %v", op, res)
	}
	e := Entry{
		Count:   int(toInt64(vals[0])),
		Limit:   int(toInt64(vals[1])),
		Window:  window,
		ResetAt: time.UnixMilli(toInt64(vals[2])),
	}
	if b := toInt64(vals[3]); b > 0 {
		e.BlockedUntil = time.UnixMilli(b)
	}
	return scriptResult{entry: e, granted: toInt64(vals[4]) == 1}, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

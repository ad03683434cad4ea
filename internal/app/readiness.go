package app

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-legal-assistant/internal/usecase"
)

// RedisClient is the minimal interface for a Redis client needed for readiness.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

type redisPinger struct{ c RedisClient }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// BuildReadinessChecks returns the checks for the stores that are configured.
// Nil clients are skipped so an all-in-memory deployment is always ready.
func BuildReadinessChecks(pool Pinger, rdb RedisClient) []usecase.NamedCheck {
	var checks []usecase.NamedCheck
	if pool != nil {
		checks = append(checks, usecase.NamedCheck{Name: "postgres", Checker: pool})
	}
	if rdb != nil {
		checks = append(checks, usecase.NamedCheck{Name: "redis", Checker: redisPinger{rdb}})
	}
	return checks
}

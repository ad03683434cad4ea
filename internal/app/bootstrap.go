package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-legal-assistant/internal/adapter/ai"
	httpserver "github.com/fairyhunter13/ai-legal-assistant/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-legal-assistant/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-legal-assistant/internal/config"
	"github.com/fairyhunter13/ai-legal-assistant/internal/service/casestudy"
	"github.com/fairyhunter13/ai-legal-assistant/internal/service/quota"
	"github.com/fairyhunter13/ai-legal-assistant/internal/service/respcache"
	"github.com/fairyhunter13/ai-legal-assistant/internal/service/synthesis"
	"github.com/fairyhunter13/ai-legal-assistant/internal/usecase"
)

const (
	readinessTimeout = 2 * time.Second
	// Expired quota rows are kept this long before cleanup deletes them.
	cleanupGrace = time.Hour
)

// Container holds the services built from one Config.
type Container struct {
	Cfg      config.Config
	Advice   usecase.AdviceService
	Research usecase.ResearchService
	Ready    usecase.ReadinessService
	Tracker  *quota.Tracker
	// Cleanup is nil unless DB_URL is set.
	Cleanup *postgres.CleanupService

	pool *pgxpool.Pool
	rdb  *redis.Client
}

// Bootstrap connects the optional stores and builds every service. Redis and
// Postgres are only dialled when their URLs are configured.
func Bootstrap(ctx context.Context, cfg config.Config) (*Container, error) {
	c := &Container{Cfg: cfg}

	cat, err := cfg.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("op=app.Bootstrap: %w", err)
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("op=app.Bootstrap: parse redis url: %w", err)
		}
		c.rdb = redis.NewClient(opt)
		if err := c.rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable at startup; stores fail open until it recovers", slog.Any("error", err))
		}
	}

	trackerOpts := []quota.Option{quota.WithCatalog(cat), quota.WithSweepThreshold(cfg.QuotaSweepThreshold)}
	if cfg.DBURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("op=app.Bootstrap: %w", err)
		}
		c.pool = pool
		repo := postgres.NewQuotaRepo(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("op=app.Bootstrap: %w", err)
		}
		trackerOpts = append(trackerOpts, quota.WithMirror(repo))
		c.Cleanup = postgres.NewCleanupService(pool, cleanupGrace)
	}

	var store quota.Store = quota.NewMemoryStore(cfg.QuotaSweepThreshold)
	if c.rdb != nil {
		store = quota.NewRedisStore(c.rdb)
	}
	c.Tracker = quota.NewTracker(store, cfg.TierLimits(), trackerOpts...)
	if c.pool != nil {
		n, err := c.Tracker.Warm(ctx)
		if err != nil {
			slog.Warn("quota warm-up failed", slog.Any("error", err))
		} else {
			slog.Info("quota windows restored", slog.Int("entries", n))
		}
	}

	orchOpts := []usecase.OrchestratorOption{usecase.WithEnvKeys(cfg.ProviderKey)}
	if cfg.CacheEnabled {
		var cs respcache.Store = respcache.NewMemoryStore(cfg.CacheMaxEntries)
		if c.rdb != nil {
			cs = respcache.NewRedisStore(c.rdb)
		}
		orchOpts = append(orchOpts, usecase.WithCache(respcache.New(cs), cfg.ChatCacheTTL, cfg.ResearchCacheTTL))
	}

	gw := ai.NewFromConfig(cfg, cat)
	orch := usecase.NewOrchestrator(gw, c.Tracker, orchOpts...)
	cases := casestudy.NewSeeded(cfg.CaseStudySeed, casestudy.WithFallbackRange(cfg.FallbackWinMin, cfg.FallbackWinMax))

	c.Advice = usecase.NewAdviceService(orch, cfg.MaxOutputTokens)
	c.Research = usecase.NewResearchService(orch, synthesis.New(), cases, cfg.MaxOutputTokens, cfg.CompareMaxProviders)

	var pinger Pinger
	if c.pool != nil {
		pinger = c.pool
	}
	var rc RedisClient
	if c.rdb != nil {
		rc = c.rdb
	}
	c.Ready = usecase.NewReadinessService(readinessTimeout, BuildReadinessChecks(pinger, rc)...)

	slog.Info("services ready",
		slog.Any("providers", gw.Order()),
		slog.Bool("redis", c.rdb != nil),
		slog.Bool("postgres", c.pool != nil),
		slog.Bool("cache", cfg.CacheEnabled))
	return c, nil
}

// Server returns the HTTP handler set over the container's services.
func (c *Container) Server() *httpserver.Server {
	return httpserver.NewServer(c.Cfg, c.Advice, c.Research, c.Ready)
}

// Close releases the store connections.
func (c *Container) Close() {
	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			slog.Error("failed to close redis client", slog.Any("error", err))
		}
	}
	if c.pool != nil {
		c.pool.Close()
	}
}

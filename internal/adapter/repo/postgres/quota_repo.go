// Package postgres provides PostgreSQL database adapters.
//
// It mirrors quota windows so a restarted instance can warm its in-process
// store instead of granting every credential a fresh window.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-legal-assistant/internal/service/quota"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS quota_entries (
	key           TEXT PRIMARY KEY,
	count         INTEGER NOT NULL,
	quota_limit   INTEGER NOT NULL,
	window_ms     BIGINT NOT NULL,
	reset_at      TIMESTAMPTZ NOT NULL,
	blocked_until TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
)`

// QuotaRepo implements quota.Mirror. Keys are already fingerprinted; no
// credential material reaches the table.
type QuotaRepo struct {
	Pool PgxPool
	now  func() time.Time
}

var _ quota.Mirror = (*QuotaRepo)(nil)

// NewQuotaRepo constructs a QuotaRepo with the given pool.
func NewQuotaRepo(p PgxPool) *QuotaRepo { return &QuotaRepo{Pool: p, now: time.Now} }

// WithClock overrides time.Now.
func (r *QuotaRepo) WithClock(now func() time.Time) *QuotaRepo {
	r.now = now
	return r
}

// EnsureSchema creates the quota table when missing.
func (r *QuotaRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("op=quota_repo.ensure_schema: %w", err)
	}
	return nil
}

// Save upserts one entry.
func (r *QuotaRepo) Save(ctx context.Context, key string, e quota.Entry) error {
	tracer := otel.Tracer("repo.quota")
	ctx, span := tracer.Start(ctx, "quota.Save")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "quota_entries"),
	)
	q := `INSERT INTO quota_entries (key, count, quota_limit, window_ms, reset_at, blocked_until, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (key) DO UPDATE SET count=EXCLUDED.count, quota_limit=EXCLUDED.quota_limit, window_ms=EXCLUDED.window_ms,
reset_at=EXCLUDED.reset_at, blocked_until=EXCLUDED.blocked_until, updated_at=EXCLUDED.updated_at`
	_, err := r.Pool.Exec(ctx, q, key, e.Count, e.Limit, e.Window.Milliseconds(),
		e.ResetAt.UTC(), e.BlockedUntil.UTC(), r.now().UTC())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=quota_repo.save: %w", err)
	}
	return nil
}

// LoadAll returns every entry whose window or cooldown is still running.
func (r *QuotaRepo) LoadAll(ctx context.Context) (map[string]quota.Entry, error) {
	tracer := otel.Tracer("repo.quota")
	ctx, span := tracer.Start(ctx, "quota.LoadAll")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "quota_entries"),
	)
	q := `SELECT key, count, quota_limit, window_ms, reset_at, blocked_until FROM quota_entries WHERE reset_at > $1 OR blocked_until > $1`
	rows, err := r.Pool.Query(ctx, q, r.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("op=quota_repo.load_all: %w", err)
	}
	defer rows.Close()

	out := map[string]quota.Entry{}
	for rows.Next() {
		var (
			key      string
			e        quota.Entry
			windowMs int64
		)
		if err := rows.Scan(&key, &e.Count, &e.Limit, &windowMs, &e.ResetAt, &e.BlockedUntil); err != nil {
			return nil, fmt.Errorf("op=quota_repo.load_all_scan: %w", err)
		}
		e.Window = time.Duration(windowMs) * time.Millisecond
		out[key] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=quota_repo.load_all_rows: %w", err)
	}
	span.SetAttributes(attribute.Int("quota.entries", len(out)))
	return out, nil
}

// Ping reports database reachability for readiness checks.
func (r *QuotaRepo) Ping(ctx context.Context) error { return r.Pool.Ping(ctx) }

package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CleanupService removes mirrored quota rows whose window and cooldown have
// both ended.
type CleanupService struct {
	Pool  PgxPool
	Grace time.Duration
	now   func() time.Time
}

// NewCleanupService creates a new cleanup service. Rows are kept for grace
// after they expire.
func NewCleanupService(pool PgxPool, grace time.Duration) *CleanupService {
	if grace < 0 {
		grace = 0
	}
	return &CleanupService{Pool: pool, Grace: grace, now: time.Now}
}

// CleanupExpired deletes expired rows and returns how many were removed.
func (s *CleanupService) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.Grace).UTC()
	tag, err := s.Pool.Exec(ctx, `DELETE FROM quota_entries WHERE reset_at < $1 AND blocked_until < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=quota_cleanup.delete: %w", err)
	}
	n := tag.RowsAffected()
	slog.Info("quota cleanup completed", slog.Int64("deleted", n), slog.Time("cutoff", cutoff))
	return n, nil
}

// RunPeriodic starts a periodic cleanup job
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := s.CleanupExpired(ctx); err != nil {
		slog.Error("initial quota cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("quota cleanup stopping")
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil {
				slog.Error("periodic quota cleanup failed", slog.Any("error", err))
			}
		}
	}
}

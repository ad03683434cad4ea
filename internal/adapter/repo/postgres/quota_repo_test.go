package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-legal-assistant/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-legal-assistant/internal/service/quota"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestQuotaRepo_EnsureSchema(t *testing.T) {
	mock := newMock(t)
	repo := postgres.NewQuotaRepo(mock)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS quota_entries").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, repo.EnsureSchema(context.Background()))

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS quota_entries").WillReturnError(assert.AnError)
	err := repo.EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=quota_repo.ensure_schema")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepo_Save(t *testing.T) {
	mock := newMock(t)
	repo := postgres.NewQuotaRepo(mock).WithClock(func() time.Time { return fixedNow })

	e := quota.Entry{Count: 3, Limit: 50, Window: 24 * time.Hour, ResetAt: fixedNow.Add(time.Hour)}
	mock.ExpectExec("INSERT INTO quota_entries").
		WithArgs("quota:openai:abc", 3, 50, int64(86400000), e.ResetAt, time.Time{}.UTC(), fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.Save(context.Background(), "quota:openai:abc", e))

	mock.ExpectExec("INSERT INTO quota_entries").WillReturnError(assert.AnError)
	err := repo.Save(context.Background(), "quota:openai:abc", e)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepo_LoadAll(t *testing.T) {
	mock := newMock(t)
	repo := postgres.NewQuotaRepo(mock).WithClock(func() time.Time { return fixedNow })

	reset := fixedNow.Add(2 * time.Hour)
	blocked := fixedNow.Add(time.Minute)
	rows := pgxmock.NewRows([]string{"key", "count", "quota_limit", "window_ms", "reset_at", "blocked_until"}).
		AddRow("quota:openai:a", 10, 50, int64(86400000), reset, time.Time{}).
		AddRow("quota:groq:b", 60, 60, int64(60000), fixedNow.Add(30*time.Second), blocked)
	mock.ExpectQuery("SELECT key, count, quota_limit").WithArgs(fixedNow).WillReturnRows(rows)

	got, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, quota.Entry{Count: 10, Limit: 50, Window: 24 * time.Hour, ResetAt: reset}, got["quota:openai:a"])
	assert.Equal(t, time.Minute, got["quota:groq:b"].Window)
	assert.Equal(t, blocked, got["quota:groq:b"].BlockedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepo_LoadAllQueryError(t *testing.T) {
	mock := newMock(t)
	repo := postgres.NewQuotaRepo(mock)

	mock.ExpectQuery("SELECT key, count, quota_limit").WillReturnError(assert.AnError)
	_, err := repo.LoadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=quota_repo.load_all")
}

func TestQuotaRepo_Ping(t *testing.T) {
	mock := newMock(t)
	repo := postgres.NewQuotaRepo(mock)

	mock.ExpectPing()
	assert.NoError(t, repo.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepo_WarmsTracker(t *testing.T) {
	mock := newMock(t)
	repo := postgres.NewQuotaRepo(mock).WithClock(func() time.Time { return fixedNow })

	rows := pgxmock.NewRows([]string{"key", "count", "quota_limit", "window_ms", "reset_at", "blocked_until"}).
		AddRow("quota:openai:a", 7, 50, int64(86400000), fixedNow.Add(time.Hour), time.Time{})
	mock.ExpectQuery("SELECT key, count, quota_limit").WithArgs(pgxmock.AnyArg()).WillReturnRows(rows)

	store := quota.NewMemoryStore(100)
	tr := quota.NewTracker(store, nil, quota.WithMirror(repo), quota.WithClock(func() time.Time { return fixedNow }))
	n, err := tr.Warm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len())
}

func TestCleanupService_CleanupExpired(t *testing.T) {
	mock := newMock(t)
	svc := postgres.NewCleanupService(mock, time.Hour)

	mock.ExpectExec("DELETE FROM quota_entries").WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("DELETE", 4))
	n, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	mock.ExpectExec("DELETE FROM quota_entries").WithArgs(pgxmock.AnyArg()).WillReturnError(assert.AnError)
	_, err = svc.CleanupExpired(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=quota_cleanup.delete")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupService_RunPeriodicStopsOnCancel(t *testing.T) {
	mock := newMock(t)
	svc := postgres.NewCleanupService(mock, 0)

	mock.ExpectExec("DELETE FROM quota_entries").WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunPeriodic(ctx, time.Hour)
		close(done)
	}()
	require.Eventually(t, func() bool { return mock.ExpectationsWereMet() == nil }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPeriodic did not stop")
	}
}

func TestNewPool_InvalidDSN(t *testing.T) {
	_, err := postgres.NewPool(context.Background(), "://bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=postgres.NewPool")
}

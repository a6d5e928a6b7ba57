package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/relay/internal/core/domain"
)

func newMockRepo(t *testing.T) (*EventRepo, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	return NewEventRepo(&DB{DB: sqlx.NewDb(raw, "pgx")}), mock
}

func TestEventRepo_Append(t *testing.T) {
	repo, mock := newMockRepo(t)
	ev := domain.Event{
		Time:    time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Level:   domain.LevelWarn,
		JobID:   "job-1",
		Message: "credential Alice (user) cooling down",
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events (created_at, level, job_id, message)")).
		WithArgs(ev.Time, "WARN", "job-1", ev.Message).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Append(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepo_AppendError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).
		WillReturnError(errors.New("connection reset"))

	err := repo.Append(context.Background(), domain.Event{Time: time.Now(), Level: domain.LevelInfo})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert event")
}

func TestEventRepo_Recent(t *testing.T) {
	repo, mock := newMockRepo(t)
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"created_at", "level", "job_id", "message"}).
		AddRow(t0, "INFO", "job-1", "job started").
		AddRow(t0.Add(time.Minute), "ERROR", "job-1", "post failed")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT created_at, level, job_id, message FROM")).
		WithArgs("job-1", int64(2)).
		WillReturnRows(rows)

	events, err := repo.Recent(context.Background(), "job-1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.LevelInfo, events[0].Level)
	assert.Equal(t, "post failed", events[1].Message)
	assert.True(t, events[1].Time.Equal(t0.Add(time.Minute)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepo_RecentZero(t *testing.T) {
	repo, mock := newMockRepo(t)

	events, err := repo.Recent(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepo_PruneOlderThan(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM events WHERE created_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := repo.PruneOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
)

const insertEvent = `INSERT INTO events (created_at, level, job_id, message)
VALUES (:created_at, :level, :job_id, :message)`

const selectRecentEvents = `SELECT created_at, level, job_id, message FROM (
	SELECT id, created_at, level, job_id, message
	FROM events
	WHERE $1 = '' OR job_id = $1
	ORDER BY id DESC
	LIMIT $2
) recent ORDER BY id ASC`

const deleteEventsBefore = `DELETE FROM events WHERE created_at < $1`

// EventRepo stores event log entries in the events table.
type EventRepo struct {
	db *DB
}

// NewEventRepo creates a new PostgreSQL event repository.
func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

// Append inserts one event.
func (r *EventRepo) Append(ctx context.Context, ev domain.Event) error {
	if _, err := r.db.NamedExecContext(ctx, insertEvent, ev); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Recent returns up to n of the newest events, oldest first. An empty jobID
// matches every job.
func (r *EventRepo) Recent(ctx context.Context, jobID string, n int64) ([]domain.Event, error) {
	if n <= 0 {
		return nil, nil
	}

	var events []domain.Event
	if err := r.db.SelectContext(ctx, &events, selectRecentEvents, jobID, n); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// PruneOlderThan deletes events recorded before cutoff.
func (r *EventRepo) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteEventsBefore, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return res.RowsAffected()
}

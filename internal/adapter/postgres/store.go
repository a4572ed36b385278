package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/QueryForge/internal/port/taskstore"
)

// Store implements taskstore.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RecordDispatch inserts a row for a newly dispatched task. A task
// re-dispatched with the same identity overwrites its previous row so
// retries after a node restart do not fail accounting.
func (s *Store) RecordDispatch(ctx context.Context, startTs uint64, taskID int64, address string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_runs (start_ts, task_id, address, status, dispatched_at)
		VALUES ($1, $2, $3, 'initializing', now())
		ON CONFLICT (start_ts, task_id) DO UPDATE
		SET address = EXCLUDED.address,
		    status = 'initializing',
		    dispatched_at = now(),
		    finished_at = NULL,
		    rows_sent = 0,
		    prepare_ms = 0,
		    duration_ms = 0,
		    error = ''`,
		int64(startTs), taskID, address,
	)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// RecordFinish updates the row for a finished or cancelled task.
func (s *Store) RecordFinish(ctx context.Context, run taskstore.Run) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE task_runs
		SET status = $3,
		    rows_sent = $4,
		    prepare_ms = $5,
		    duration_ms = $6,
		    error = $7,
		    finished_at = now()
		WHERE start_ts = $1 AND task_id = $2`,
		int64(run.StartTs), run.TaskID, run.Status, run.RowsSent, run.PrepareMs, run.DurationMs, run.Error,
	)
	if err != nil {
		return fmt.Errorf("record finish: %w", err)
	}
	return nil
}

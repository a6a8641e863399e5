package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/vinmonopol-crawler/internal/store"
)

// RunStore implements store.RunRepository on the crawl_runs table.
type RunStore struct {
	pool Pool
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore wraps pool.
func NewRunStore(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// StartRun implements store.RunRepository.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, resume bool, total int) error {
	const query = `
INSERT INTO crawl_runs (id, started_at, status, resume, total, updated_at)
VALUES ($1, $2, $3, $4, $5, $2)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status, total = EXCLUDED.total, updated_at = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, string(store.RunRunning), resume, total); err != nil {
		return fmt.Errorf("insert crawl run: %w", err)
	}
	return nil
}

// AddItems implements store.RunRepository.
func (s *RunStore) AddItems(ctx context.Context, runID uuid.UUID, delta store.ItemCounts, at time.Time) error {
	const query = `
UPDATE crawl_runs
SET saved = saved + $2, skipped = skipped + $3, failed = failed + $4, updated_at = $5
WHERE id = $1`
	return s.update(ctx, "add run items", query, runID, delta.Saved, delta.Skipped, delta.Failed, at)
}

// SetRecords implements store.RunRepository.
func (s *RunStore) SetRecords(ctx context.Context, runID uuid.UUID, records int, at time.Time) error {
	const query = `UPDATE crawl_runs SET records = $2, updated_at = $3 WHERE id = $1`
	return s.update(ctx, "set run records", query, runID, records, at)
}

// CompleteRun implements store.RunRepository.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	if !status.Valid() {
		return fmt.Errorf("complete run: unknown status %q", status)
	}
	const query = `
UPDATE crawl_runs
SET finished_at = $2, status = $3, error_message = $4, updated_at = $2
WHERE id = $1`
	return s.update(ctx, "complete run", query, runID, finishedAt, string(status), errMsg)
}

func (s *RunStore) update(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, status, resume, total, saved, skipped, failed, records, error_message, updated_at`

// GetRun implements store.RunRepository.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM crawl_runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get crawl run: %w", err)
	}
	return run, nil
}

// ListRuns implements store.RunRepository.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, `SELECT `+runColumns+` FROM crawl_runs
WHERE ($1::text IS NULL OR status = $1)
ORDER BY started_at DESC
LIMIT $2 OFFSET $3`, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list crawl runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crawl run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list crawl runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run                    store.Run
		status                 string
		total, records         int32
		saved, skipped, failed int64
	)
	if err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Resume,
		&total,
		&saved,
		&skipped,
		&failed,
		&records,
		&run.ErrorMessage,
		&run.UpdatedAt,
	); err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	run.Total = int(total)
	run.Records = int(records)
	run.Counts = store.ItemCounts{Saved: saved, Skipped: skipped, Failed: failed}
	return run, nil
}

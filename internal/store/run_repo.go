package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("crawl run not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunError:
		return true
	default:
		return false
	}
}

// ItemCounts is a delta of finished identifiers by terminal state.
type ItemCounts struct {
	Saved   int64
	Skipped int64
	Failed  int64
}

// IsZero reports whether the delta carries no counts.
func (c ItemCounts) IsZero() bool {
	return c.Saved == 0 && c.Skipped == 0 && c.Failed == 0
}

// Run is one row of crawl_runs.
type Run struct {
	ID        uuid.UUID
	StartedAt time.Time
	// FinishedAt is nil while the run is in progress.
	FinishedAt *time.Time
	Status     RunStatus
	Resume     bool
	Total      int
	Counts     ItemCounts
	// Records is the store size at the last checkpoint.
	Records      int
	ErrorMessage *string
	UpdatedAt    time.Time
}

// RunRepository persists crawl run progress.
type RunRepository interface {
	// StartRun inserts the run, or refreshes it when the id already exists.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, resume bool, total int) error
	// AddItems applies a counts delta.
	AddItems(ctx context.Context, runID uuid.UUID, delta ItemCounts, at time.Time) error
	// SetRecords stores the store size after a checkpoint.
	SetRecords(ctx context.Context, runID uuid.UUID, records int, at time.Time) error
	// CompleteRun marks the run finished.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error

	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}

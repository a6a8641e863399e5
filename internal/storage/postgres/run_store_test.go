package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vinmonopol-crawler/internal/store"
)

var runColumnNames = []string{
	"id", "started_at", "finished_at", "status", "resume", "total",
	"saved", "skipped", "failed", "records", "error_message", "updated_at",
}

func newRunStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	rs, err := NewRunStore(mock)
	require.NoError(t, err)
	return rs, mock
}

func TestRunStoreStartRun(t *testing.T) {
	t.Parallel()

	rs, mock := newRunStore(t)
	id := uuid.New()
	at := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs(id, at, "running", true, 42).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, rs.StartRun(context.Background(), id, at, true, 42))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreAddItems(t *testing.T) {
	t.Parallel()

	rs, mock := newRunStore(t)
	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(id, int64(3), int64(1), int64(0), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, rs.AddItems(context.Background(), id, store.ItemCounts{Saved: 3, Skipped: 1}, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreUpdateMissingRun(t *testing.T) {
	t.Parallel()

	rs, mock := newRunStore(t)
	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE crawl_runs SET records").
		WithArgs(id, 10, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := rs.SetRecords(context.Background(), id, 10, at)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreCompleteRun(t *testing.T) {
	t.Parallel()

	rs, mock := newRunStore(t)
	id := uuid.New()
	at := time.Now().UTC()
	msg := "persist out.json: disk full"

	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(id, at, "error", &msg).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, rs.CompleteRun(context.Background(), id, at, store.RunError, &msg))
	require.Error(t, rs.CompleteRun(context.Background(), id, at, store.RunStatus("paused"), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreGetRun(t *testing.T) {
	t.Parallel()

	rs, mock := newRunStore(t)
	id := uuid.New()
	started := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(time.Hour)

	rows := mock.NewRows(runColumnNames).AddRow(
		id, started, &finished, "success", false, int32(5),
		int64(3), int64(1), int64(1), int32(3), nil, finished,
	)
	mock.ExpectQuery("SELECT (.+) FROM crawl_runs WHERE id").WithArgs(id).WillReturnRows(rows)

	run, err := rs.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, store.RunSuccess, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, finished, *run.FinishedAt)
	assert.Equal(t, 5, run.Total)
	assert.Equal(t, 3, run.Records)
	assert.Equal(t, store.ItemCounts{Saved: 3, Skipped: 1, Failed: 1}, run.Counts)
	assert.Nil(t, run.ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreGetRunNotFound(t *testing.T) {
	t.Parallel()

	rs, mock := newRunStore(t)
	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM crawl_runs").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err := rs.GetRun(context.Background(), id)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunStoreListRuns(t *testing.T) {
	t.Parallel()

	rs, mock := newRunStore(t)
	started := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	status := store.RunRunning
	want := "running"

	rows := mock.NewRows(runColumnNames).
		AddRow(uuid.New(), started, nil, "running", true, int32(10),
			int64(2), int64(0), int64(0), int32(40), nil, started).
		AddRow(uuid.New(), started.Add(-time.Hour), nil, "running", false, int32(8),
			int64(0), int64(0), int64(1), int32(38), nil, started)
	mock.ExpectQuery("SELECT (.+) FROM crawl_runs").WithArgs(&want, 20, 0).WillReturnRows(rows)

	runs, err := rs.ListRuns(context.Background(), &status, 20, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].Resume)
	assert.Nil(t, runs[0].FinishedAt)
	assert.Equal(t, int64(1), runs[1].Counts.Failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreListRunsQueryError(t *testing.T) {
	t.Parallel()

	rs, mock := newRunStore(t)
	mock.ExpectQuery("SELECT (.+) FROM crawl_runs").
		WithArgs((*string)(nil), 10, 5).
		WillReturnError(errors.New("timeout"))

	_, err := rs.ListRuns(context.Background(), nil, 10, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list crawl runs")
}

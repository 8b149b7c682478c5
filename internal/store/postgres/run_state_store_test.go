package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/jobgrid/scrape-service/internal/jobs"
	"github.com/jobgrid/scrape-service/internal/store"
)

var snapshotCols = []string{
	"run_id", "trigger", "state", "started_at", "updated_at", "finished_at",
	"total_sources", "processed_sources", "current_source", "last_completed_source",
	"lookback_days", "cancel_requested", "inserted", "updated", "skipped_duplicates", "message",
}

func TestGetReturnsNotFoundBeforeFirstRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM scrape_run_state WHERE id = 1").
		WillReturnError(pgx.ErrNoRows)

	st := NewRunStateStore(mock)
	_, err = st.Get(context.Background())
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetScansSnapshot(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	started := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	updated := started.Add(time.Minute)
	current := "boards"

	mock.ExpectQuery("SELECT .+ FROM scrape_run_state WHERE id = 1").
		WillReturnRows(pgxmock.NewRows(snapshotCols).AddRow(
			"run-1", "manual", "running", &started, &updated, nil,
			3, 1, &current, nil,
			30, false, nil, nil, nil, nil,
		))

	st := NewRunStateStore(mock)
	snap, err := st.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-1", snap.RunID)
	require.Equal(t, jobs.TriggerManual, snap.Trigger)
	require.Equal(t, jobs.RunRunning, snap.State)
	require.Equal(t, started, snap.StartedAt)
	require.Equal(t, 3, snap.TotalSources)
	require.Equal(t, 1, snap.ProcessedSources)
	require.NotNil(t, snap.CurrentSource)
	require.Equal(t, "boards", *snap.CurrentSource)
	require.Nil(t, snap.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutUpsertsSingleRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	snap := jobs.RunSnapshot{
		RunID:		"run-1",
		Trigger:	jobs.TriggerAuto,
		State:		jobs.RunRunning,
		StartedAt:	now,
		UpdatedAt:	now,
		TotalSources:	2,
		LookbackDays:	30,
	}

	mock.ExpectExec("INSERT INTO scrape_run_state").
		WithArgs(
			"run-1", "auto", "running", now, now, (*time.Time)(nil),
			2, 0, (*string)(nil), (*string)(nil),
			30, false, (*int)(nil), (*int)(nil), (*int)(nil), (*string)(nil),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	st := NewRunStateStore(mock)
	require.NoError(t, st.Put(context.Background(), snap))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestCancelFlagsRunningRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE scrape_run_state").
		WithArgs("running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	st := NewRunStateStore(mock)
	flagged, err := st.RequestCancel(context.Background())
	require.NoError(t, err)
	require.True(t, flagged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestCancelNoRunningRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE scrape_run_state").
		WithArgs("running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	st := NewRunStateStore(mock)
	flagged, err := st.RequestCancel(context.Background())
	require.NoError(t, err)
	require.False(t, flagged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextDueAtUnsetReturnsZero(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT next_due_at FROM scrape_run_state").
		WillReturnRows(pgxmock.NewRows([]string{"next_due_at"}).AddRow(nil))

	st := NewRunStateStore(mock)
	due, err := st.NextDueAt(context.Background())
	require.NoError(t, err)
	require.True(t, due.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextDueAtMissingRowReturnsZero(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT next_due_at FROM scrape_run_state").
		WillReturnError(pgx.ErrNoRows)

	st := NewRunStateStore(mock)
	due, err := st.NextDueAt(context.Background())
	require.NoError(t, err)
	require.True(t, due.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetNextDueAt(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	due := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO scrape_run_state \\(id, next_due_at\\)").
		WithArgs(due).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	st := NewRunStateStore(mock)
	require.NoError(t, st.SetNextDueAt(context.Background(), due))
	require.NoError(t, mock.ExpectationsWereMet())
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jobgrid/scrape-service/internal/jobs"
	"github.com/jobgrid/scrape-service/internal/store"
)

// RunStateStore implements store.RunStateStore on a single-row table:
//
//	CREATE TABLE scrape_run_state (
//	    id SMALLINT PRIMARY KEY CHECK (id = 1),
//	    run_id TEXT,
//	    trigger TEXT,
//	    state TEXT,
//	    started_at TIMESTAMPTZ,
//	    updated_at TIMESTAMPTZ,
//	    finished_at TIMESTAMPTZ,
//	    total_sources INT,
//	    processed_sources INT,
//	    current_source TEXT,
//	    last_completed_source TEXT,
//	    lookback_days INT,
//	    cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
//	    inserted INT,
//	    updated INT,
//	    skipped_duplicates INT,
//	    message TEXT,
//	    next_due_at TIMESTAMPTZ
//	);
//
// The row doubles as the cross-process lock record: a state of "running"
// refuses a second start, and next_due_at gates auto triggers.
type RunStateStore struct {
	db DB
}

// NewRunStateStore wraps an existing pool or mock.
func NewRunStateStore(db DB) *RunStateStore {
	return &RunStateStore{db: db}
}

const snapshotColumns = `run_id, trigger, state, started_at, updated_at, finished_at,
	total_sources, processed_sources, current_source, last_completed_source,
	lookback_days, cancel_requested, inserted, updated, skipped_duplicates, message`

// Get loads the current snapshot or returns store.ErrNotFound before any run.
func (s *RunStateStore) Get(ctx context.Context) (jobs.RunSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM scrape_run_state WHERE id = 1 AND run_id IS NOT NULL`
	var (
		snap		jobs.RunSnapshot
		trigger		string
		state		string
		startedAt	*time.Time
		updatedAt	*time.Time
	)
	err := s.db.QueryRow(ctx, query).Scan(
		&snap.RunID,
		&trigger,
		&state,
		&startedAt,
		&updatedAt,
		&snap.FinishedAt,
		&snap.TotalSources,
		&snap.ProcessedSources,
		&snap.CurrentSource,
		&snap.LastCompletedSource,
		&snap.LookbackDays,
		&snap.CancelRequested,
		&snap.Inserted,
		&snap.Updated,
		&snap.SkippedDuplicates,
		&snap.Message,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return jobs.RunSnapshot{}, store.ErrNotFound
		}
		return jobs.RunSnapshot{}, fmt.Errorf("get run state: %w", err)
	}
	snap.Trigger = jobs.Trigger(trigger)
	snap.State = jobs.RunState(state)
	if startedAt != nil {
		snap.StartedAt = *startedAt
	}
	if updatedAt != nil {
		snap.UpdatedAt = *updatedAt
	}
	return snap, nil
}

// Put overwrites the snapshot columns, leaving next_due_at untouched. The
// cancel flag is sticky within a run so a concurrent RequestCancel is never
// lost to a progress write; a new run_id resets it.
func (s *RunStateStore) Put(ctx context.Context, snap jobs.RunSnapshot) error {
	query := `
		INSERT INTO scrape_run_state (id, ` + snapshotColumns + `)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			trigger = EXCLUDED.trigger,
			state = EXCLUDED.state,
			started_at = EXCLUDED.started_at,
			updated_at = EXCLUDED.updated_at,
			finished_at = EXCLUDED.finished_at,
			total_sources = EXCLUDED.total_sources,
			processed_sources = EXCLUDED.processed_sources,
			current_source = EXCLUDED.current_source,
			last_completed_source = EXCLUDED.last_completed_source,
			lookback_days = EXCLUDED.lookback_days,
			cancel_requested = CASE
				WHEN scrape_run_state.run_id = EXCLUDED.run_id
					THEN scrape_run_state.cancel_requested OR EXCLUDED.cancel_requested
				ELSE EXCLUDED.cancel_requested
			END,
			inserted = EXCLUDED.inserted,
			updated = EXCLUDED.updated,
			skipped_duplicates = EXCLUDED.skipped_duplicates,
			message = EXCLUDED.message;
	`
	_, err := s.db.Exec(ctx, query,
		snap.RunID,
		string(snap.Trigger),
		string(snap.State),
		snap.StartedAt,
		snap.UpdatedAt,
		snap.FinishedAt,
		snap.TotalSources,
		snap.ProcessedSources,
		snap.CurrentSource,
		snap.LastCompletedSource,
		snap.LookbackDays,
		snap.CancelRequested,
		snap.Inserted,
		snap.Updated,
		snap.SkippedDuplicates,
		snap.Message,
	)
	if err != nil {
		return fmt.Errorf("put run state: %w", err)
	}
	return nil
}

// RequestCancel flags the current record while it is running. Idempotent.
func (s *RunStateStore) RequestCancel(ctx context.Context) (bool, error) {
	query := `
		UPDATE scrape_run_state
		SET cancel_requested = TRUE, updated_at = NOW()
		WHERE id = 1 AND state = $1;
	`
	tag, err := s.db.Exec(ctx, query, string(jobs.RunRunning))
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// NextDueAt returns the persisted schedule, zero when never set.
func (s *RunStateStore) NextDueAt(ctx context.Context) (time.Time, error) {
	var due *time.Time
	err := s.db.QueryRow(ctx, `SELECT next_due_at FROM scrape_run_state WHERE id = 1`).Scan(&due)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("get next due at: %w", err)
	}
	if due == nil {
		return time.Time{}, nil
	}
	return *due, nil
}

// SetNextDueAt persists the next auto-eligible time.
func (s *RunStateStore) SetNextDueAt(ctx context.Context, t time.Time) error {
	query := `
		INSERT INTO scrape_run_state (id, next_due_at)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET next_due_at = EXCLUDED.next_due_at;
	`
	if _, err := s.db.Exec(ctx, query, t); err != nil {
		return fmt.Errorf("set next due at: %w", err)
	}
	return nil
}

// Package store declares interfaces for persisting postings and run state.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jobgrid/scrape-service/internal/jobs"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ExistingPosting is the minimal projection of a stored posting used to
// classify incoming rows as inserts, updates or duplicates.
type ExistingPosting struct {
	SourceURL	string
	Status		jobs.PostingStatus
}

// UpsertOptions controls conflict handling for a bulk upsert.
type UpsertOptions struct {
	// IgnoreDuplicates maps to ON CONFLICT DO NOTHING (skip mode).
	IgnoreDuplicates bool
	// IncludeStatus includes the optional status column in the payload.
	// The writer strips it when the store reports the column missing.
	IncludeStatus bool
}

// PostingStore persists job postings keyed by source URL.
type PostingStore interface {
	// SelectBySourceURLs returns the stored rows matching the given natural
	// keys, with their current status where the schema provides one.
	SelectBySourceURLs(ctx context.Context, urls []string) ([]ExistingPosting, error)
	// Upsert writes the rows with conflict target source_url and returns the
	// source URLs that were actually written (pre-existing rows are absent
	// from the result when IgnoreDuplicates is set).
	Upsert(ctx context.Context, rows []jobs.PostingRow, opts UpsertOptions) ([]string, error)
}

// RunStateStore persists the single current-run record plus the schedule.
type RunStateStore interface {
	// Get loads the current snapshot or returns ErrNotFound before any run.
	Get(ctx context.Context) (jobs.RunSnapshot, error)
	// Put overwrites the snapshot (single-row upsert).
	Put(ctx context.Context, snap jobs.RunSnapshot) error
	// RequestCancel sets cancel_requested while a run is running. It is
	// idempotent and reports whether a running record was flagged.
	RequestCancel(ctx context.Context) (bool, error)
	// NextDueAt returns the persisted schedule, zero when never set.
	NextDueAt(ctx context.Context) (time.Time, error)
	// SetNextDueAt persists the next auto-eligible time.
	SetNextDueAt(ctx context.Context, t time.Time) error
}

// IsUndefinedColumn reports whether err is the store complaining that the
// named column does not exist, either via the Postgres undefined_column code
// or by message pattern for drivers that flatten errors. The pattern demands
// the "does not exist" wording so scan failures and constraint violations
// that merely mention the column are not mistaken for schema drift.
func IsUndefinedColumn(err error, column string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42703" && strings.Contains(pgErr.Message, column)
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "column") &&
		strings.Contains(msg, strings.ToLower(column)) &&
		strings.Contains(msg, "does not exist")
}

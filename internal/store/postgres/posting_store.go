// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobgrid/scrape-service/internal/jobs"
	"github.com/jobgrid/scrape-service/internal/store"
)

// DB is the subset of pgxpool.Pool used by the stores. pgxmock satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect creates a pgx connection pool for the service stores.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// PostingStore implements store.PostingStore on Postgres.
// It assumes a table schema like scripts/schema.sql:
//
//	CREATE TABLE job_postings (
//	    id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
//	    title TEXT NOT NULL,
//	    company TEXT NOT NULL,
//	    location TEXT NOT NULL,
//	    description TEXT NOT NULL DEFAULT '',
//	    status TEXT NOT NULL DEFAULT 'active',
//	    source_url TEXT NOT NULL UNIQUE,
//	    pdf_url TEXT,
//	    posted_at TIMESTAMPTZ,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type PostingStore struct {
	db DB
}

// NewPostingStore wraps an existing pool or mock.
func NewPostingStore(db DB) *PostingStore {
	return &PostingStore{db: db}
}

// SelectBySourceURLs loads the stored rows matching the given natural keys.
// When the optional status column is missing (schema drift) it degrades to a
// key-only projection instead of failing the lookup.
func (s *PostingStore) SelectBySourceURLs(ctx context.Context, urls []string) ([]store.ExistingPosting, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	existing, err := s.selectExisting(ctx, urls, true)
	if err != nil && store.IsUndefinedColumn(err, "status") {
		existing, err = s.selectExisting(ctx, urls, false)
	}
	if err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *PostingStore) selectExisting(ctx context.Context, urls []string, withStatus bool) ([]store.ExistingPosting, error) {
	query := `SELECT source_url, status FROM job_postings WHERE source_url = ANY($1)`
	if !withStatus {
		query = `SELECT source_url FROM job_postings WHERE source_url = ANY($1)`
	}
	rows, err := s.db.Query(ctx, query, urls)
	if err != nil {
		return nil, fmt.Errorf("select existing postings: %w", err)
	}
	defer rows.Close()

	var existing []store.ExistingPosting
	for rows.Next() {
		var p store.ExistingPosting
		if withStatus {
			err = rows.Scan(&p.SourceURL, &p.Status)
		} else {
			err = rows.Scan(&p.SourceURL)
		}
		if err != nil {
			return nil, fmt.Errorf("scan existing posting: %w", err)
		}
		existing = append(existing, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate existing postings: %w", err)
	}
	return existing, nil
}

// Upsert writes the rows with conflict target source_url and returns the
// source URLs actually written. With IgnoreDuplicates the conflict action is
// DO NOTHING, so pre-existing keys are absent from the result.
func (s *PostingStore) Upsert(ctx context.Context, rows []jobs.PostingRow, opts UpsertOptions) ([]string, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	query, args := buildUpsert(rows, opts)
	res, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("upsert postings: %w", err)
	}
	defer res.Close()

	var written []string
	for res.Next() {
		var sourceURL string
		if err := res.Scan(&sourceURL); err != nil {
			return nil, fmt.Errorf("scan upsert result: %w", err)
		}
		written = append(written, sourceURL)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("iterate upsert result: %w", err)
	}
	return written, nil
}

// UpsertOptions aliases the store-level options for call-site brevity.
type UpsertOptions = store.UpsertOptions

func buildUpsert(rows []jobs.PostingRow, opts UpsertOptions) (string, []any) {
	cols := []string{"title", "company", "location", "description", "source_url", "pdf_url", "posted_at"}
	if opts.IncludeStatus {
		cols = append(cols, "status")
	}

	args := make([]any, 0, len(rows)*len(cols))
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		rowArgs := []any{
			row.Title,
			row.Company,
			row.Location,
			row.Description,
			row.SourceURL,
			nullableString(row.PDFURL),
			nullableTime(row),
		}
		if opts.IncludeStatus {
			rowArgs = append(rowArgs, string(row.Status))
		}
		placeholders := make([]string, len(rowArgs))
		for i := range rowArgs {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+i+1)
		}
		args = append(args, rowArgs...)
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
	}

	conflict := "DO NOTHING"
	if !opts.IgnoreDuplicates {
		set := []string{
			"title = EXCLUDED.title",
			"company = EXCLUDED.company",
			"location = EXCLUDED.location",
			"description = EXCLUDED.description",
			"pdf_url = EXCLUDED.pdf_url",
			"posted_at = EXCLUDED.posted_at",
		}
		if opts.IncludeStatus {
			set = append(set, "status = EXCLUDED.status")
		}
		set = append(set, "updated_at = NOW()")
		conflict = "DO UPDATE SET " + strings.Join(set, ", ")
	}

	query := fmt.Sprintf(
		"INSERT INTO job_postings (%s) VALUES %s ON CONFLICT (source_url) %s RETURNING source_url",
		strings.Join(cols, ", "),
		strings.Join(values, ", "),
		conflict,
	)
	return query, args
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(row jobs.PostingRow) any {
	if row.PostedAt.IsZero() {
		return nil
	}
	return row.PostedAt
}

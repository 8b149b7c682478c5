// Package writer persists scraped posting batches without creating
// duplicates, keyed on the source URL natural key.
package writer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jobgrid/scrape-service/internal/jobs"
	"github.com/jobgrid/scrape-service/internal/retry"
	"github.com/jobgrid/scrape-service/internal/store"
)

// DuplicatePolicy selects the conflict behavior for pre-existing rows.
type DuplicatePolicy string

// Duplicate policies.
const (
	DuplicateSkip	DuplicatePolicy	= "skip"
	DuplicateUpdate	DuplicatePolicy	= "update"
)

// Options controls one Save call.
type Options struct {
	OnDuplicate DuplicatePolicy
}

// Result reports exact per-batch accounting. After normalization-stage
// collapsing, Attempted = Inserted + Updated + SkippedDuplicates.
type Result struct {
	Attempted		int	`json:"attemptedCount"`
	Inserted		int	`json:"insertedCount"`
	Updated			int	`json:"updatedCount"`
	SkippedDuplicates	int	`json:"skippedDuplicateCount"`
}

// Config tunes chunking and retry behavior.
type Config struct {
	// ChunkSize bounds the number of rows per store round trip.
	ChunkSize int
	// RetryAttempts bounds retries per logical store operation.
	RetryAttempts int
	// RetryBackoff is the linear backoff base between attempts.
	RetryBackoff time.Duration
}

const (
	defaultChunkSize	= 100
	defaultRetryAttempts	= 3
	defaultRetryBackoff	= 200 * time.Millisecond
)

// Writer performs duplicate-safe bulk persistence of posting rows.
type Writer struct {
	store	store.PostingStore
	cfg	Config
	logger	*zap.Logger
}

// New constructs a Writer with config defaults applied.
func New(st store.PostingStore, cfg Config, logger *zap.Logger) *Writer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: st, cfg: cfg, logger: logger}
}

// Save normalizes and collapses the batch, then upserts it in independent
// chunks. A chunk failure does not roll back prior chunks; the partial Result
// is returned alongside the error, and re-running the same batch is safe
// because upserts are keyed on source_url.
func (w *Writer) Save(ctx context.Context, rows []jobs.PostingRow, opts Options) (Result, error) {
	if opts.OnDuplicate == "" {
		opts.OnDuplicate = DuplicateSkip
	}
	batch := jobs.NormalizeBatch(rows)
	res := Result{Attempted: len(batch)}

	for start := 0; start < len(batch); start += w.cfg.ChunkSize {
		end := start + w.cfg.ChunkSize
		if end > len(batch) {
			end = len(batch)
		}
		if err := w.saveChunk(ctx, batch[start:end], opts, &res); err != nil {
			return res, fmt.Errorf("save chunk [%d:%d]: %w", start, end, err)
		}
	}
	return res, nil
}

func (w *Writer) saveChunk(ctx context.Context, chunk []jobs.PostingRow, opts Options, res *Result) error {
	urls := make([]string, len(chunk))
	for i, row := range chunk {
		urls[i] = row.SourceURL
	}

	var existing []store.ExistingPosting
	err := retry.Do(ctx, w.cfg.RetryAttempts, retry.Linear(w.cfg.RetryBackoff), func() error {
		var opErr error
		existing, opErr = w.store.SelectBySourceURLs(ctx, urls)
		return opErr
	})
	if err != nil {
		return fmt.Errorf("select existing: %w", err)
	}
	existingStatus := make(map[string]jobs.PostingStatus, len(existing))
	for _, p := range existing {
		existingStatus[p.SourceURL] = p.Status
	}

	candidates := make([]jobs.PostingRow, 0, len(chunk))
	for _, row := range chunk {
		status, exists := existingStatus[row.SourceURL]
		if exists && opts.OnDuplicate == DuplicateSkip {
			res.SkippedDuplicates++
			continue
		}
		// A manually deactivated posting must not be reactivated by a
		// re-scrape.
		if exists && status == jobs.StatusInactive {
			row.Status = jobs.StatusInactive
		}
		candidates = append(candidates, row)
	}
	if len(candidates) == 0 {
		return nil
	}

	written, err := w.upsert(ctx, candidates, store.UpsertOptions{
		IgnoreDuplicates:	opts.OnDuplicate == DuplicateSkip,
		IncludeStatus:		true,
	})
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}

	writtenSet := make(map[string]struct{}, len(written))
	for _, u := range written {
		writtenSet[u] = struct{}{}
	}
	for _, row := range candidates {
		if _, ok := writtenSet[row.SourceURL]; !ok {
			// Row appeared between the existence check and the upsert; the
			// conflict clause dropped it.
			res.SkippedDuplicates++
			continue
		}
		if _, ok := existingStatus[row.SourceURL]; ok {
			res.Updated++
		} else {
			res.Inserted++
		}
	}
	return nil
}

// upsert retries transient errors and degrades gracefully when the store
// reports the optional status column missing by stripping it from the
// payload and retrying.
func (w *Writer) upsert(ctx context.Context, rows []jobs.PostingRow, opts store.UpsertOptions) ([]string, error) {
	written, err := w.upsertWithRetry(ctx, rows, opts)
	if err != nil && opts.IncludeStatus && store.IsUndefinedColumn(err, "status") {
		w.logger.Warn("status column missing, retrying upsert without it", zap.Error(err))
		opts.IncludeStatus = false
		written, err = w.upsertWithRetry(ctx, rows, opts)
	}
	return written, err
}

func (w *Writer) upsertWithRetry(ctx context.Context, rows []jobs.PostingRow, opts store.UpsertOptions) ([]string, error) {
	var written []string
	err := retry.Do(ctx, w.cfg.RetryAttempts, retry.Linear(w.cfg.RetryBackoff), func() error {
		var opErr error
		written, opErr = w.store.Upsert(ctx, rows, opts)
		return opErr
	})
	return written, err
}

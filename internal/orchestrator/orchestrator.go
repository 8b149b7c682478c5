// Package orchestrator coordinates scrape runs: single-flight admission,
// per-source progress, cooperative cancellation and terminal accounting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jobgrid/scrape-service/internal/jobs"
	"github.com/jobgrid/scrape-service/internal/metrics"
	"github.com/jobgrid/scrape-service/internal/publisher"
	"github.com/jobgrid/scrape-service/internal/scraper"
	"github.com/jobgrid/scrape-service/internal/store"
	"github.com/jobgrid/scrape-service/internal/writer"
)

// EventTopicRunCompleted is the topic for run completion events.
const EventTopicRunCompleted = "scrape.run.completed"

// BulkWriter is the slice of the writer the orchestrator needs.
type BulkWriter interface {
	Save(ctx context.Context, rows []jobs.PostingRow, opts writer.Options) (writer.Result, error)
}

// DocumentMirror caches a remote PDF and returns its durable URL, or "".
type DocumentMirror interface {
	Cache(ctx context.Context, pdfURL string) string
}

// Config carries the run-level knobs.
type Config struct {
	Sources		[]jobs.SourceConfig
	Interval	time.Duration
	LookbackDays	int
	OnDuplicate	writer.DuplicatePolicy
	// AutoEnabled gates the scheduler-driven trigger; manual runs always work.
	AutoEnabled bool
}

// StartResult reports the admission decision for a run request.
type StartResult struct {
	Accepted	bool	`json:"accepted"`
	AlreadyRunning	bool	`json:"alreadyRunning,omitempty"`
	Skipped		bool	`json:"skipped,omitempty"`
	SkipReason	string	`json:"skipReason,omitempty"`
	RunID		string	`json:"runId,omitempty"`
}

// Orchestrator owns the run lifecycle. At most one run executes at a time;
// the in-process flag is the lock and the durable snapshot is the record.
type Orchestrator struct {
	cfg	Config
	runs	store.RunStateStore
	writer	BulkWriter
	mirror	DocumentMirror
	scraper	scraper.Scraper
	events	publisher.Publisher
	clock	jobs.Clock
	ids	jobs.IDGenerator
	logger	*zap.Logger

	mu	sync.Mutex
	running	bool
	wg	sync.WaitGroup

	baseCtx	context.Context
	cancel	context.CancelFunc
}

// New constructs an Orchestrator. events and mirror may be nil.
func New(
	cfg Config,
	runs store.RunStateStore,
	bw BulkWriter,
	mirror DocumentMirror,
	sc scraper.Scraper,
	events publisher.Publisher,
	clock jobs.Clock,
	ids jobs.IDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:		cfg,
		runs:		runs,
		writer:		bw,
		mirror:		mirror,
		scraper:	sc,
		events:		events,
		clock:		clock,
		ids:		ids,
		logger:		logger,
		baseCtx:	baseCtx,
		cancel:		cancel,
	}
}

// Start admits a run and, when accepted, executes it in the background.
// force bypasses the auto-trigger schedule gate; a forced manual trigger
// additionally takes over a durable running record, which is the escape
// hatch when a dead process left one behind.
func (o *Orchestrator) Start(ctx context.Context, trigger jobs.Trigger, force bool) (StartResult, error) {
	res, snap, err := o.admit(ctx, trigger, force)
	if err != nil || !res.Accepted {
		return res, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		// Detached from the request context; the run outlives the HTTP call.
		o.execute(o.baseCtx, snap)
	}()
	return res, nil
}

// RunSync admits and executes a run inline, returning its statistics. Used
// by the cron trigger, whose caller wants the outcome in the response.
func (o *Orchestrator) RunSync(ctx context.Context, trigger jobs.Trigger, force bool) (jobs.RunStats, error) {
	res, snap, err := o.admit(ctx, trigger, force)
	if err != nil {
		return jobs.RunStats{}, err
	}
	if res.AlreadyRunning {
		return jobs.RunStats{Skipped: true, SkipReason: "a run is already in progress"}, nil
	}
	if res.Skipped {
		return jobs.RunStats{Skipped: true, SkipReason: res.SkipReason}, nil
	}

	o.wg.Add(1)
	defer o.wg.Done()
	return o.execute(ctx, snap), nil
}

// admit takes the single-flight lock, applies the schedule gate and writes
// the initial running snapshot. Rejections leave the stored record untouched.
func (o *Orchestrator) admit(ctx context.Context, trigger jobs.Trigger, force bool) (StartResult, jobs.RunSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return StartResult{AlreadyRunning: true}, jobs.RunSnapshot{}, nil
	}

	now := o.clock.Now()

	if prev, err := o.runs.Get(ctx); err == nil {
		if prev.State == jobs.RunRunning {
			// Another instance may hold the run, or a crash left the record
			// behind. Only a forced manual trigger may take it over.
			if trigger != jobs.TriggerManual || !force {
				return StartResult{AlreadyRunning: true}, jobs.RunSnapshot{}, nil
			}
			o.logger.Warn("overriding running record",
				zap.String("run_id", prev.RunID),
				zap.Time("started_at", prev.StartedAt),
			)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return StartResult{}, jobs.RunSnapshot{}, fmt.Errorf("load run state: %w", err)
	}

	if trigger == jobs.TriggerAuto && !force {
		if !o.cfg.AutoEnabled {
			return StartResult{Skipped: true, SkipReason: "automatic runs are disabled"}, jobs.RunSnapshot{}, nil
		}
		due, err := o.runs.NextDueAt(ctx)
		if err != nil {
			return StartResult{}, jobs.RunSnapshot{}, fmt.Errorf("load schedule: %w", err)
		}
		if !due.IsZero() && now.Before(due) {
			reason := fmt.Sprintf("not due until %s", due.UTC().Format(time.RFC3339))
			return StartResult{Skipped: true, SkipReason: reason}, jobs.RunSnapshot{}, nil
		}
	}

	runID, err := o.ids.NewID()
	if err != nil {
		return StartResult{}, jobs.RunSnapshot{}, fmt.Errorf("generate run id: %w", err)
	}

	snap := jobs.RunSnapshot{
		RunID:		runID,
		Trigger:	trigger,
		State:		jobs.RunRunning,
		StartedAt:	now,
		UpdatedAt:	now,
		TotalSources:	len(o.cfg.Sources),
		LookbackDays:	o.cfg.LookbackDays,
	}
	if err := o.runs.Put(ctx, snap); err != nil {
		return StartResult{}, jobs.RunSnapshot{}, fmt.Errorf("persist run start: %w", err)
	}

	o.running = true
	return StartResult{Accepted: true, RunID: runID}, snap, nil
}

// execute walks the configured sources and drives the snapshot through to a
// terminal state. Per-source failures are contained; the cancel flag, a dead
// context or a run-state store failure stops the walk early.
func (o *Orchestrator) execute(ctx context.Context, snap jobs.RunSnapshot) jobs.RunStats {
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	log := o.logger.With(zap.String("run_id", snap.RunID), zap.String("trigger", string(snap.Trigger)))
	log.Info("scrape run started", zap.Int("sources", snap.TotalSources))

	var stats jobs.RunStats
	var sourceErrs []string
	var ctrlErr error
	cancelled := false

	for _, src := range o.cfg.Sources {
		flagged, err := o.cancelRequested(ctx, &snap)
		if err != nil {
			ctrlErr = err
			break
		}
		if flagged || ctx.Err() != nil {
			cancelled = true
			break
		}

		name := src.Name
		snap.CurrentSource = &name
		snap.UpdatedAt = o.clock.Now()
		if err := o.persist(ctx, &snap); err != nil {
			ctrlErr = err
			break
		}

		stat, err := o.processSource(ctx, src, &stats)
		if err != nil {
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			stat.Error = err.Error()
			sourceErrs = append(sourceErrs, fmt.Sprintf("%s: %v", src.Name, err))
			log.Warn("source failed", zap.String("source", src.Name), zap.Error(err))
		}
		stats.SourceStats = append(stats.SourceStats, stat)
		stats.SourcesProcessed++

		snap.ProcessedSources++
		snap.LastCompletedSource = &name
		snap.CurrentSource = nil
		snap.Inserted = intPtr(stats.Inserted)
		snap.Updated = intPtr(stats.Updated)
		snap.SkippedDuplicates = intPtr(stats.SkippedDuplicates)
		snap.UpdatedAt = o.clock.Now()
		if err := o.persist(ctx, &snap); err != nil {
			ctrlErr = err
			break
		}
	}

	state := jobs.RunSuccess
	switch {
	case ctrlErr != nil:
		// Losing the run-state store is a control-loop failure: progress can
		// no longer be published and cancellation can no longer be observed.
		state = jobs.RunFailed
		sourceErrs = append(sourceErrs, ctrlErr.Error())
		log.Error("run state store unavailable, aborting run", zap.Error(ctrlErr))
	case cancelled:
		state = jobs.RunCancelled
	case len(sourceErrs) > 0 && len(sourceErrs) == len(o.cfg.Sources):
		state = jobs.RunFailed
	}
	o.finish(ctx, &snap, state, sourceErrs, log)

	metrics.ObserveRun(string(snap.Trigger), string(state))
	log.Info("scrape run finished",
		zap.String("state", string(state)),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped_duplicates", stats.SkippedDuplicates),
	)
	return stats
}

// processSource scrapes, filters, mirrors and persists one source's batch.
func (o *Orchestrator) processSource(ctx context.Context, src jobs.SourceConfig, stats *jobs.RunStats) (jobs.SourceStat, error) {
	stat := jobs.SourceStat{Source: src.Name}
	started := o.clock.Now()
	defer func() {
		metrics.ObserveSourceScrape(src.Name, o.clock.Now().Sub(started))
	}()

	rows, err := o.scraper.Scrape(ctx, src)
	if err != nil {
		return stat, fmt.Errorf("scrape: %w", err)
	}
	stat.Scraped = len(rows)

	kept, droppedLoc := jobs.FilterByLocation(rows, src.LocationScope)
	stats.FilteredByLocation += droppedLoc
	kept, droppedDate := jobs.FilterByDate(kept, o.cfg.LookbackDays, o.clock.Now())
	stats.FilteredByDate += droppedDate

	if o.mirror != nil {
		for i := range kept {
			if kept[i].PDFURL == "" {
				continue
			}
			if mirrored := o.mirror.Cache(ctx, kept[i].PDFURL); mirrored != "" {
				kept[i].PDFURL = mirrored
			}
		}
	}

	res, err := o.writer.Save(ctx, kept, writer.Options{OnDuplicate: o.cfg.OnDuplicate})
	// Partial counts are real writes even when the batch errored out midway.
	stat.Inserted = res.Inserted
	stat.Updated = res.Updated
	stat.SkippedDuplicates = res.SkippedDuplicates
	stats.Inserted += res.Inserted
	stats.Updated += res.Updated
	stats.SkippedDuplicates += res.SkippedDuplicates
	metrics.ObservePostings("inserted", res.Inserted)
	metrics.ObservePostings("updated", res.Updated)
	metrics.ObservePostings("skipped", res.SkippedDuplicates)
	if err != nil {
		return stat, fmt.Errorf("persist batch: %w", err)
	}
	return stat, nil
}

// cancelRequested re-reads the durable record so cancellation works across
// processes, not just within this one. A read failure is surfaced rather
// than treated as "no cancel": a run that cannot see the flag must not keep
// going.
func (o *Orchestrator) cancelRequested(ctx context.Context, snap *jobs.RunSnapshot) (bool, error) {
	stored, err := o.runs.Get(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read run state: %w", err)
	}
	if stored.RunID == snap.RunID && stored.CancelRequested {
		snap.CancelRequested = true
		return true, nil
	}
	return false, nil
}

// finish writes the terminal snapshot, advances the schedule on success and
// publishes the completion event. It uses a context that survives request
// cancellation so terminal state is never lost to a dropped connection.
func (o *Orchestrator) finish(ctx context.Context, snap *jobs.RunSnapshot, state jobs.RunState, sourceErrs []string, log *zap.Logger) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	now := o.clock.Now()
	snap.State = state
	snap.FinishedAt = &now
	snap.UpdatedAt = now
	snap.CurrentSource = nil
	if len(sourceErrs) > 0 {
		msg := strings.Join(sourceErrs, "; ")
		snap.Message = &msg
	}
	if err := o.runs.Put(writeCtx, *snap); err != nil {
		log.Error("persist terminal run state", zap.Error(err))
	}

	if state == jobs.RunSuccess && o.cfg.Interval > 0 {
		if err := o.runs.SetNextDueAt(writeCtx, now.Add(o.cfg.Interval)); err != nil {
			log.Error("persist next due time", zap.Error(err))
		}
	}

	if o.events != nil {
		payload := map[string]any{
			"runId":		snap.RunID,
			"trigger":		snap.Trigger,
			"state":		state,
			"startedAt":		snap.StartedAt,
			"finishedAt":		now,
			"processedSources":	snap.ProcessedSources,
			"inserted":		derefInt(snap.Inserted),
			"updated":		derefInt(snap.Updated),
			"skippedDuplicates":	derefInt(snap.SkippedDuplicates),
		}
		if _, err := o.events.Publish(writeCtx, EventTopicRunCompleted, payload); err != nil {
			log.Warn("publish run completion", zap.Error(err))
		}
	}
}

func (o *Orchestrator) persist(ctx context.Context, snap *jobs.RunSnapshot) error {
	if err := o.runs.Put(ctx, *snap); err != nil {
		return fmt.Errorf("persist run progress: %w", err)
	}
	return nil
}

// RequestCancel flags the current run for cooperative cancellation. The run
// stops at its next checkpoint, after the in-flight source completes.
func (o *Orchestrator) RequestCancel(ctx context.Context) (bool, error) {
	flagged, err := o.runs.RequestCancel(ctx)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	return flagged, nil
}

// Snapshot returns the current durable run record.
func (o *Orchestrator) Snapshot(ctx context.Context) (jobs.RunSnapshot, error) {
	return o.runs.Get(ctx)
}

// Shutdown stops background runs and waits for them up to ctx's deadline.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for runs: %w", ctx.Err())
	}
}

func intPtr(v int) *int { return &v }

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// Package schedule wires up the cron job that periodically triggers
// automatic scrape runs.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jobgrid/scrape-service/internal/jobs"
	"github.com/jobgrid/scrape-service/internal/orchestrator"
)

// Starter is the slice of the orchestrator the scheduler needs.
type Starter interface {
	Start(ctx context.Context, trigger jobs.Trigger, force bool) (orchestrator.StartResult, error)
}

// Scheduler wraps robfig/cron and fires the auto trigger on an interval.
// The orchestrator's durable not-due gate makes extra ticks harmless, so
// the cron interval can be shorter than the run interval.
type Scheduler struct {
	cron	*cron.Cron
	orch	Starter
	spec	string
	logger	*zap.Logger
}

// New creates a Scheduler that fires every tick interval.
func New(orch Starter, tick time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:	cron.New(),
		orch:	orch,
		spec:	fmt.Sprintf("@every %s", tick),
		logger:	logger,
	}
}

// Start registers the job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.tick(ctx)
	})
	if err != nil {
		return fmt.Errorf("register cron job: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("spec", s.spec))
	return nil
}

// Stop shuts the scheduler down and waits for a running job callback.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.orch.Start(ctx, jobs.TriggerAuto, false)
	switch {
	case err != nil:
		s.logger.Error("auto run failed to start", zap.Error(err))
	case res.AlreadyRunning:
		s.logger.Debug("auto run skipped, already running")
	case res.Skipped:
		s.logger.Debug("auto run skipped", zap.String("reason", res.SkipReason))
	default:
		s.logger.Info("auto run started", zap.String("run_id", res.RunID))
	}
}

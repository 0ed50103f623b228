package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/robfig/cron/v3"
)

// Dataset is one fire dataset processed on every scheduled round.
type Dataset struct {
	Tag    string
	Source string
}

// Runner runs the pipeline for one dataset.
type Runner interface {
	Run(ctx context.Context, tag, source string) domain.RunReport
}

// Scheduler runs every dataset through the pipeline on a cron schedule and
// keeps the reports of the latest round for health checks.
type Scheduler struct {
	runner   Runner
	datasets []Dataset
	logger   *slog.Logger

	cron       *cron.Cron
	background sync.WaitGroup

	mu   sync.Mutex
	last []domain.RunReport
}

// NewScheduler creates a Scheduler for datasets.
func NewScheduler(runner Runner, datasets []Dataset, logger *slog.Logger) *Scheduler {
	return &Scheduler{runner: runner, datasets: datasets, logger: logger}
}

// RunOnce runs every dataset in order and records the round.
func (s *Scheduler) RunOnce(ctx context.Context) []domain.RunReport {
	reports := make([]domain.RunReport, 0, len(s.datasets))
	for _, ds := range s.datasets {
		if ctx.Err() != nil {
			break
		}
		reports = append(reports, s.runner.Run(ctx, ds.Tag, ds.Source))
	}
	s.mu.Lock()
	s.last = reports
	s.mu.Unlock()
	return reports
}

// RunInBackground starts a round without waiting for it. Stop waits for it.
func (s *Scheduler) RunInBackground(ctx context.Context) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.RunOnce(ctx)
	}()
}

// Start runs RunOnce on schedule (standard cron syntax or a descriptor such
// as "@daily"). A round still running when the next one is due is skipped.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		s.logger.Info("scheduled run starting", "datasets", len(s.datasets))
		s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule %q: %w: %w", schedule, domain.ErrConfig, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("scheduler started", "schedule", schedule)
	return nil
}

// Stop stops scheduling and waits for running rounds, scheduled or started
// by RunInBackground, to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastRound returns every dataset report of the latest completed round, in
// dataset order. ok is false before the first round.
func (s *Scheduler) LastRound() (reports []domain.RunReport, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, false
	}
	return append([]domain.RunReport{}, s.last...), true
}

// CheckReadiness returns nil once a round has completed with no failed
// stage.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return errors.New("no pipeline run has completed yet")
	}
	for _, r := range s.last {
		if stage, failed := r.FailedStage(); failed {
			return fmt.Errorf("run %s for %s failed at %s: %s", r.RunID, r.Dataset, stage.Stage, stage.Cause)
		}
	}
	return nil
}

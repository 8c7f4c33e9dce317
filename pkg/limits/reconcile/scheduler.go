package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule replays the queue every 30 seconds.
const DefaultSchedule = "@every 30s"

// Scheduler runs a Reconciler on a cron schedule.
type Scheduler struct {
	reconciler *Reconciler
	schedule   string
	cron       *cron.Cron
	mu         sync.Mutex
	logger     *slog.Logger
	running    bool
}

// NewScheduler creates a scheduler. The schedule uses standard cron syntax
// or a descriptor such as "@every 30s". An empty schedule disables it.
func NewScheduler(reconciler *Reconciler, schedule string) *Scheduler {
	return &Scheduler{
		reconciler: reconciler,
		schedule:   schedule,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:     slog.Default().With("component", "reconcile.scheduler"),
	}
}

// Start schedules reconciliation runs until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("reconcile schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.run(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule reconciliation: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("reconcile scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	result, err := s.reconciler.RunOnce(ctx)
	if err != nil {
		s.logger.Error("scheduled reconciliation failed", "error", err)
		return
	}
	if result.Applied+result.Failed+result.Dead == 0 {
		s.logger.Debug("scheduled reconciliation completed, queue empty")
	}
}

// Stop stops the scheduler and waits for a running replay to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("reconcile scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled run, or nil if none is scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}

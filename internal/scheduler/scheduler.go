// Package scheduler triggers pipeline runs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
)

// Job is one scheduled unit of work. The context is cancelled when the
// scheduler stops.
type Job func(ctx context.Context) error

// Scheduler runs a Job on a cron expression, evaluated in UTC. A run that
// would start while the previous run is still active is skipped.
type Scheduler struct {
	cron       *gocron.Scheduler
	expr       string
	job        Job
	logger     *slog.Logger
	runOnStart bool
	running    atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunOnStart makes Start trigger one run right away instead of waiting
// for the first cron tick.
func WithRunOnStart() Option {
	return func(s *Scheduler) { s.runOnStart = true }
}

// New creates a Scheduler. Nothing runs until Start.
func New(expr string, job Job, logger *slog.Logger, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   gocron.NewScheduler(time.UTC),
		expr:   expr,
		job:    job,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	s.cron.SingletonModeAll()
	if _, err := s.cron.Cron(s.expr).Do(s.run); err != nil {
		return fmt.Errorf("schedule %q: %w", s.expr, err)
	}
	s.cron.StartAsync()
	s.logger.Info("scheduler started", "cron", s.expr, "run_on_start", s.runOnStart)
	if s.runOnStart {
		go s.run()
	}
	return nil
}

// Stop cancels an active run and stops future ticks.
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run() {
	if s.ctx.Err() != nil {
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous run still active, skipping")
		return
	}
	defer s.running.Store(false)

	start := time.Now()
	s.logger.Info("scheduled run starting")
	if err := s.job(s.ctx); err != nil {
		s.logger.Error("scheduled run failed", "error", err, "duration", time.Since(start).String())
		return
	}
	s.logger.Info("scheduled run finished", "duration", time.Since(start).String())
}

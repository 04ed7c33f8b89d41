package scheduler

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/atomic"
)

// Config holds the loop cadences and bounds.
type Config struct {
	ExecutionInterval time.Duration
	NarrowCron        string
	NarrowWindow      time.Duration
	BroadCron         string
	BroadWindow       time.Duration
	PassTimeout       time.Duration
}

// Scheduler runs the Execution Loop and the periodic Adjustment Loops.
// A firing that finds the previous run of the same job still in progress is
// skipped, not queued.
type Scheduler struct {
	scheduler *gocron.Scheduler
	executor  *Executor
	adjuster  *Adjuster
	cfg       Config
}

// New creates a new Scheduler. loc is the time zone cron expressions are
// evaluated in.
func New(loc *time.Location, cfg Config, executor *Executor, adjuster *Adjuster) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	s := gocron.NewScheduler(loc)
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 5 * time.Minute
	}
	return &Scheduler{
		scheduler: s,
		executor:  executor,
		adjuster:  adjuster,
		cfg:       cfg,
	}
}

// Start schedules the jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	interval := s.cfg.ExecutionInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	if _, err := s.scheduler.Every(interval).Tag("execution").Do(s.job("execution", func(ctx context.Context) {
		s.executor.RunOnce(ctx)
	})); err != nil {
		return fmt.Errorf("schedule execution loop: %w", err)
	}

	if _, err := s.scheduler.Cron(s.cfg.NarrowCron).Tag(PassNarrow).Do(s.job(PassNarrow, func(ctx context.Context) {
		s.adjuster.RunPass(ctx, PassNarrow, s.cfg.NarrowWindow)
	})); err != nil {
		return fmt.Errorf("schedule narrow pass: %w", err)
	}

	if _, err := s.scheduler.Cron(s.cfg.BroadCron).Tag(PassBroad).Do(s.job(PassBroad, func(ctx context.Context) {
		s.adjuster.RunPass(ctx, PassBroad, s.cfg.BroadWindow)
	})); err != nil {
		return fmt.Errorf("schedule broad pass: %w", err)
	}

	log.Printf("scheduler: execution every %s, narrow pass %q (%s), broad pass %q (%s)",
		interval, s.cfg.NarrowCron, s.cfg.NarrowWindow, s.cfg.BroadCron, s.cfg.BroadWindow)
	s.scheduler.StartAsync()
	return nil
}

// job wraps a loop body so that overlapping firings are skipped. Each run is
// bounded by the pass timeout, and a panic never stops the next firing.
func (s *Scheduler) job(name string, body func(ctx context.Context)) func() {
	var running atomic.Bool
	return func() {
		if !running.CAS(false, true) {
			log.Printf("WARN: scheduler: %s job still running; skipping this firing", name)
			return
		}
		defer running.Store(false)

		defer func() {
			if r := recover(); r != nil {
				log.Printf("ERROR: scheduler: %s job panicked: %v\n%s", name, r, debug.Stack())
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PassTimeout)
		defer cancel()
		body(ctx)
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

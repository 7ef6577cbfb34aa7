package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/resonate-gg/resonate/pkg/logger"
	"github.com/resonate-gg/resonate/pkg/metrics"
)

// DefaultInterval is how often a cycle fires when not configured.
const DefaultInterval = 24 * time.Hour

// Scheduler drives the reconciler on a fixed interval. A tick that fires
// while the previous cycle is still running is skipped, not queued, and a
// failed cycle never stops future ticks.
type Scheduler struct {
	rec      *Reconciler
	interval time.Duration
	log      logger.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// SchedulerOption applies a configuration option to the Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSchedulerLogger sets a custom logger.
func WithSchedulerLogger(log logger.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// NewScheduler constructs a scheduler over a reconciler.
func NewScheduler(rec *Reconciler, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		rec:      rec,
		interval: DefaultInterval,
		log:      logger.Get().Named("reconcile-scheduler"),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop. It returns immediately; the loop stops when
// ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

// Stop halts the tick loop and waits for it to exit. A cycle already in
// flight finishes on its own.
func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.wg.Wait()
}

// runOnce executes one guarded cycle. Panics and errors are contained here
// so the schedule survives any single bad cycle.
func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordReconcileCycle("panic", 0)
			s.log.Warn(ctx, "reconciliation cycle panicked",
				logger.Any("panic", rec),
			)
		}
	}()

	start := time.Now()
	sum, err := s.rec.Run(ctx)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, ErrAlreadyRunning):
		metrics.RecordReconcileSkipped()
		s.log.Info(ctx, "reconciliation tick skipped; previous cycle still running")
	case err != nil:
		metrics.RecordReconcileCycle("failed", elapsed)
		s.log.Warn(ctx, "reconciliation cycle failed",
			logger.Error(fmt.Errorf("cycle: %w", err)),
			logger.Duration("elapsed", elapsed),
		)
	default:
		metrics.RecordReconcileCycle("ok", elapsed)
		s.log.Info(ctx, "reconciliation cycle succeeded",
			logger.Int("corrections", sum.Corrections),
			logger.Int("failures", sum.Failures),
			logger.Duration("elapsed", elapsed),
		)
	}
}

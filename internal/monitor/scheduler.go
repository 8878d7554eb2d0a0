package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs a task once immediately and then on a fixed interval.
// A tick that arrives while the previous run is still in flight is
// skipped and counted, slow cycles never stack.
type Scheduler struct {
	interval time.Duration
	ticks    <-chan time.Time
	logger   *slog.Logger

	running atomic.Bool
	skipped atomic.Uint64
	wg      sync.WaitGroup
}

// NewScheduler returns a scheduler driven by a real ticker.
func NewScheduler(interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{interval: interval, logger: logger}
}

// NewSchedulerWithTicks returns a scheduler driven by the given channel.
// Used by tests to step time by hand.
func NewSchedulerWithTicks(ticks <-chan time.Time, logger *slog.Logger) *Scheduler {
	return &Scheduler{ticks: ticks, logger: logger}
}

// Run blocks until ctx is cancelled, then waits for any in-flight run
// to finish before returning.
func (s *Scheduler) Run(ctx context.Context, task func(context.Context)) {
	ticks := s.ticks
	if ticks == nil {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	s.launch(ctx, task)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticks:
			s.launch(ctx, task)
		}
	}
}

func (s *Scheduler) launch(ctx context.Context, task func(context.Context)) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Warn("previous cycle still running, skipping tick",
			"skipped_total", s.skipped.Load(),
		)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		task(ctx)
	}()
}

// Skipped reports how many ticks were dropped due to overlap.
func (s *Scheduler) Skipped() uint64 {
	return s.skipped.Load()
}

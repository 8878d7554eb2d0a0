package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsImmediately(t *testing.T) {
	ticks := make(chan time.Time)
	s := NewSchedulerWithTicks(ticks, discardLogger())

	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, func(context.Context) { runs.Add(1) })
		close(done)
	}()

	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })
	cancel()
	<-done

	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
	if got := s.Skipped(); got != 0 {
		t.Errorf("Skipped = %d, want 0", got)
	}
}

func TestSchedulerRunsOnEachTick(t *testing.T) {
	ticks := make(chan time.Time)
	s := NewSchedulerWithTicks(ticks, discardLogger())

	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, func(context.Context) { runs.Add(1) })
		close(done)
	}()

	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })
	for i := 0; i < 3; i++ {
		ticks <- time.Now()
		want := int32(i + 2)
		waitFor(t, time.Second, func() bool { return runs.Load() == want })
	}

	cancel()
	<-done

	if got := runs.Load(); got != 4 {
		t.Errorf("runs = %d, want 4", got)
	}
}

func TestSchedulerSkipsTicksWhileRunning(t *testing.T) {
	ticks := make(chan time.Time)
	s := NewSchedulerWithTicks(ticks, discardLogger())

	release := make(chan struct{})
	var started atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, func(context.Context) {
			started.Add(1)
			<-release
		})
		close(done)
	}()

	waitFor(t, time.Second, func() bool { return started.Load() == 1 })

	ticks <- time.Now()
	ticks <- time.Now()
	waitFor(t, time.Second, func() bool { return s.Skipped() == 2 })

	close(release)
	cancel()
	<-done

	if got := started.Load(); got != 1 {
		t.Errorf("task started %d times, want 1", got)
	}
}

func TestSchedulerWaitsForInflightRunOnShutdown(t *testing.T) {
	ticks := make(chan time.Time)
	s := NewSchedulerWithTicks(ticks, discardLogger())

	release := make(chan struct{})
	var started atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, func(context.Context) {
			started.Add(1)
			<-release
		})
		close(done)
	}()

	waitFor(t, time.Second, func() bool { return started.Load() == 1 })
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while the task was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the task finished")
	}
}

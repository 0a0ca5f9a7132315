package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runAsync(s *Scheduler, ctx context.Context, fn TickFunc) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, fn) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not return")
		return nil
	}
}

func TestNewPanicsOnInvalidInterval(t *testing.T) {
	assert.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}

func TestSlowCycleSkipsTicks(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond, RunOnStart: true}, zerolog.Nop())

	var running, peak, calls atomic.Int32
	fn := func(ctx context.Context, _ time.Time) (Outcome, error) {
		n := running.Add(1)
		defer running.Add(-1)
		if n > peak.Load() {
			peak.Store(n)
		}
		calls.Add(1)
		time.Sleep(55 * time.Millisecond)
		return Outcome{Records: 1}, nil
	}

	done := runAsync(s, context.Background(), fn)
	time.Sleep(200 * time.Millisecond)
	s.Stop()
	require.NoError(t, waitDone(t, done))

	snap := s.Stats()
	assert.Equal(t, int32(1), peak.Load(), "cycles must never overlap")
	assert.Greater(t, snap.SkippedCount, uint64(0), "ticks during a slow cycle are skipped")
	assert.Equal(t, uint64(calls.Load()), snap.UpdateCount)
	assert.LessOrEqual(t, calls.Load(), int32(5), "skipped ticks are not queued")
	assert.False(t, snap.InFlight)
}

func TestCountersByOutcome(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond, RunOnStart: true}, zerolog.Nop())

	var calls atomic.Int32
	fn := func(ctx context.Context, _ time.Time) (Outcome, error) {
		switch calls.Add(1) {
		case 1:
			return Outcome{Records: 3}, nil
		case 2:
			return Outcome{Records: 0, Failures: 3}, nil
		case 3:
			return Outcome{Records: 1}, errors.New("orchestration fault")
		default:
			s.Stop()
			panic("unexpected")
		}
	}

	done := runAsync(s, context.Background(), fn)
	require.NoError(t, waitDone(t, done))

	snap := s.Stats()
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, uint64(2), snap.UpdateCount, "a failed cycle with a partial batch still counts as an update")
	assert.Equal(t, uint64(1), snap.EmptyCount)
	assert.Equal(t, uint64(2), snap.ErrorCount, "errors and panics are both cycle errors")
}

func TestStopWaitsForInFlightCycle(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())

	started := make(chan struct{})
	var finished atomic.Bool
	var cycleErr error
	fn := func(ctx context.Context, _ time.Time) (Outcome, error) {
		close(started)
		time.Sleep(80 * time.Millisecond)
		cycleErr = ctx.Err()
		finished.Store(true)
		return Outcome{Records: 1}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(s, ctx, fn)
	<-started
	cancel()

	err := waitDone(t, done)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, finished.Load(), "in-flight cycle completes before Run returns")
	assert.NoError(t, cycleErr, "cycle context is not cancelled by shutdown")
	assert.Equal(t, uint64(1), s.Stats().UpdateCount)
}

func TestGracePeriodAbandonsCycle(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunOnStart: true, GracePeriod: 30 * time.Millisecond}, zerolog.Nop())

	started := make(chan struct{})
	abandoned := make(chan struct{})
	fn := func(ctx context.Context, _ time.Time) (Outcome, error) {
		close(started)
		<-ctx.Done()
		close(abandoned)
		return Outcome{}, ctx.Err()
	}

	done := runAsync(s, context.Background(), fn)
	<-started
	s.Stop()
	s.Stop()

	require.NoError(t, waitDone(t, done))
	select {
	case <-abandoned:
	case <-time.After(time.Second):
		t.Fatal("cycle context should be cancelled after the grace period")
	}
}

func TestStartupDelayHonoursStop(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour, RunOnStart: true}, zerolog.Nop())

	var calls atomic.Int32
	done := runAsync(s, context.Background(), func(context.Context, time.Time) (Outcome, error) {
		calls.Add(1)
		return Outcome{}, nil
	})
	s.Stop()
	require.NoError(t, waitDone(t, done))
	assert.Zero(t, calls.Load())
}

func TestNextTickAlignment(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 7, 0, time.UTC)

	aligned := New(Options{Interval: 15 * time.Second, AlignToStart: true}, zerolog.Nop())
	assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 15, 0, time.UTC), aligned.nextTick(base))
	onBoundary := time.Date(2026, 1, 1, 12, 0, 15, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC), aligned.nextTick(onBoundary))

	free := New(Options{Interval: 15 * time.Second}, zerolog.Nop())
	assert.Equal(t, base.Add(15*time.Second), free.nextTick(base))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLogSnapshot(t *testing.T) {
	var out syncBuffer
	logger := zerolog.New(&out)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	LogSnapshot(logger, Snapshot{UpdateCount: 6, ErrorCount: 1, SkippedCount: 2, StartedAt: start}, start.Add(2*time.Hour))

	line := out.String()
	for _, want := range []string{`"updates":6`, `"errors":1`, `"skipped":2`, `"updates_per_hour":3`, `"uptime":"2h0m0s"`} {
		assert.True(t, strings.Contains(line, want), "missing %s in %s", want, line)
	}
}

func TestReportStopsWithContext(t *testing.T) {
	var out syncBuffer
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		s.Report(ctx, 10*time.Millisecond, zerolog.New(&out))
		close(finished)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()
	<-finished
	assert.Contains(t, out.String(), "relay status")
}

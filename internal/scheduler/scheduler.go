package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gas-price-relay/internal/metrics"
)

// Outcome summarises one cycle for the counters.
type Outcome struct {
	Records  int
	Failures int
}

// TickFunc is invoked for every tick that acquires the cycle slot.
type TickFunc func(ctx context.Context, tick time.Time) (Outcome, error)

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	RunOnStart   bool
	// GracePeriod bounds how long Run waits for an in-flight cycle after stop.
	// Zero waits until it finishes.
	GracePeriod time.Duration
}

// Snapshot is a point-in-time copy of the cycle counters.
type Snapshot struct {
	UpdateCount  uint64
	ErrorCount   uint64
	EmptyCount   uint64
	SkippedCount uint64
	StartedAt    time.Time
	InFlight     bool
}

// Scheduler drives cycles on a fixed period, running at most one at a time.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger

	slot     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	startedAt atomic.Int64
	updates   atomic.Uint64
	errors    atomic.Uint64
	empty     atomic.Uint64
	skipped   atomic.Uint64
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	s := &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		slot:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	s.startedAt.Store(time.Now().UTC().UnixNano())
	return s
}

// Stop prevents new cycles from starting. It does not interrupt a running cycle.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Run blocks, triggering tick on every interval until ctx is cancelled or Stop is called.
// In-flight cycles run on a context detached from ctx and are awaited before returning.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	s.startedAt.Store(time.Now().UTC().UnixNano())

	cycleCtx, abandon := context.WithCancel(context.WithoutCancel(ctx))
	defer abandon()

	err := s.loop(ctx, cycleCtx, tick)
	s.drain(abandon)
	return err
}

func (s *Scheduler) loop(ctx, cycleCtx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.stop:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}

	if s.opts.RunOnStart {
		s.trigger(cycleCtx, tick, time.Now().UTC())
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.stop:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		// a stop racing with the timer wins
		select {
		case <-s.stop:
			return nil
		default:
		}

		s.trigger(cycleCtx, tick, next)
		next = next.Add(s.opts.Interval)
	}
}

// trigger starts a cycle if the slot is free; otherwise the tick is dropped.
func (s *Scheduler) trigger(ctx context.Context, tick TickFunc, at time.Time) {
	select {
	case s.slot <- struct{}{}:
	default:
		s.skipped.Add(1)
		metrics.RecordSkippedTick()
		s.logger.Warn().Time("tick", at).Msg("previous cycle still running; tick skipped")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.slot }()
		s.execute(ctx, tick, at)
	}()
}

func (s *Scheduler) execute(ctx context.Context, tick TickFunc, at time.Time) {
	s.logger.Debug().Time("tick", at).Msg("executing scheduled cycle")

	out, err := s.safeTick(ctx, tick, at)
	// a failed cycle may still have published a partial batch; count both
	if err != nil {
		s.errors.Add(1)
		metrics.RecordCycle("error")
		s.logger.Error().Err(err).Time("tick", at).Int("records", out.Records).Msg("cycle failed")
	}
	if out.Records > 0 {
		s.updates.Add(1)
		metrics.RecordCycle("updated")
		return
	}
	if err == nil {
		s.empty.Add(1)
		metrics.RecordCycle("empty")
		s.logger.Warn().Time("tick", at).Int("failures", out.Failures).Msg("cycle produced no records")
	}
}

func (s *Scheduler) safeTick(ctx context.Context, tick TickFunc, at time.Time) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return tick(ctx, at)
}

func (s *Scheduler) drain(abandon context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if s.opts.GracePeriod <= 0 {
		<-done
		return
	}

	timer := time.NewTimer(s.opts.GracePeriod)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn().Dur("grace_period", s.opts.GracePeriod).Msg("abandoning in-flight cycle")
		abandon()
	}
}

// Stats returns the current counters.
func (s *Scheduler) Stats() Snapshot {
	return Snapshot{
		UpdateCount:  s.updates.Load(),
		ErrorCount:   s.errors.Load(),
		EmptyCount:   s.empty.Load(),
		SkippedCount: s.skipped.Load(),
		StartedAt:    time.Unix(0, s.startedAt.Load()).UTC(),
		InFlight:     len(s.slot) > 0,
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

// Package cycle runs one fetch round across all sources and feeds the rolling windows.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gas-price-relay/internal/history"
	"gas-price-relay/internal/metrics"
	"gas-price-relay/internal/source"
	"gas-price-relay/internal/stats"
)

var (
	// ErrSourceFetch marks a recoverable failure of a single source.
	ErrSourceFetch = errors.New("source fetch failed")
	// ErrCycle marks a fault in cycle orchestration itself.
	ErrCycle = errors.New("cycle failed")
)

// SourceError describes why a source was left out of a cycle.
type SourceError struct {
	SourceID string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.SourceID, e.Err)
}

// Unwrap exposes both ErrSourceFetch and the underlying cause.
func (e *SourceError) Unwrap() []error { return []error{ErrSourceFetch, e.Err} }

// Options bound a cycle.
type Options struct {
	WindowSize     int
	FetchTimeout   time.Duration
	MaxConcurrency int
}

// Result is the outcome of one cycle. Records may be in any order.
type Result struct {
	ID         uuid.UUID
	Records    []stats.Record
	Failures   []*SourceError
	StartedAt  time.Time
	FinishedAt time.Time
}

// Cycle owns the sources and their windows.
type Cycle struct {
	sources []source.Source
	windows map[string]*history.Window
	engine  *stats.Engine
	opts    Options
	logger  zerolog.Logger
}

// New builds a cycle with one window per source.
func New(sources []source.Source, engine *stats.Engine, opts Options, logger zerolog.Logger) (*Cycle, error) {
	if engine == nil {
		engine = stats.NewEngine(stats.DefaultThresholdPct)
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = len(sources)
	}

	windows := make(map[string]*history.Window, len(sources))
	for _, src := range sources {
		id := src.ID()
		if id == "" {
			return nil, errors.New("source with empty id")
		}
		if _, dup := windows[id]; dup {
			return nil, fmt.Errorf("duplicate source id %q", id)
		}
		windows[id] = history.New(opts.WindowSize)
	}

	return &Cycle{
		sources: sources,
		windows: windows,
		engine:  engine,
		opts:    opts,
		logger:  logger.With().Str("component", "cycle").Logger(),
	}, nil
}

// Engine returns the statistics engine used for records.
func (c *Cycle) Engine() *stats.Engine { return c.engine }

// Sources lists the source ids in configuration order.
func (c *Cycle) Sources() []string {
	ids := make([]string, 0, len(c.sources))
	for _, src := range c.sources {
		ids = append(ids, src.ID())
	}
	return ids
}

// Window returns the rolling history for a source.
func (c *Cycle) Window(id string) (*history.Window, bool) {
	w, ok := c.windows[id]
	return w, ok
}

// Warm seeds a window with historical values, oldest first. Must not run concurrently with Run.
func (c *Cycle) Warm(id string, values []*big.Int) error {
	w, ok := c.windows[id]
	if !ok {
		return fmt.Errorf("unknown source %q", id)
	}
	for _, v := range values {
		w.Append(v)
	}
	return nil
}

type fetchResult struct {
	sample source.Sample
	err    error
}

// Run fetches every source concurrently and summarises the survivors.
// Source failures never produce an error; the returned error wraps ErrCycle
// and comes with whatever partial result was built.
func (c *Cycle) Run(ctx context.Context) (res Result, err error) {
	res = Result{ID: uuid.New(), StartedAt: time.Now().UTC()}
	log := c.logger.With().Str("cycle_id", res.ID.String()).Logger()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrCycle, r)
		}
		res.FinishedAt = time.Now().UTC()
		metrics.RecordCycleDuration(res.FinishedAt.Sub(res.StartedAt))
	}()

	results := make([]fetchResult, len(c.sources))

	var group errgroup.Group
	group.SetLimit(c.opts.MaxConcurrency)
	for i, src := range c.sources {
		group.Go(func() error {
			results[i] = c.fetch(ctx, src)
			return nil
		})
	}
	_ = group.Wait()

	for i, src := range c.sources {
		id := src.ID()
		fr := results[i]
		if fr.err != nil {
			serr := &SourceError{SourceID: id, Err: fr.err}
			res.Failures = append(res.Failures, serr)
			metrics.RecordSourceFetch(id, false)
			log.Warn().Err(fr.err).Str("source", id).Msg("source omitted from cycle")
			continue
		}

		w, ok := c.windows[id]
		if !ok {
			return res, fmt.Errorf("%w: no window for source %q", ErrCycle, id)
		}

		rec, sumErr := c.engine.Summarize(fr.sample, w)
		if sumErr != nil {
			res.Failures = append(res.Failures, &SourceError{SourceID: id, Err: sumErr})
			metrics.RecordSourceFetch(id, false)
			log.Warn().Err(sumErr).Str("source", id).Msg("source omitted from cycle")
			continue
		}
		res.Records = append(res.Records, rec)
		metrics.RecordSourceFetch(id, true)
		metrics.RecordGasPrice(id, stats.Gwei(rec.Price).InexactFloat64())
	}

	log.Debug().
		Int("records", len(res.Records)).
		Int("failures", len(res.Failures)).
		Msg("cycle finished")
	return res, nil
}

func (c *Cycle) fetch(ctx context.Context, src source.Source) fetchResult {
	if c.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.FetchTimeout)
		defer cancel()
	}

	sample, err := c.fetchWithDeadline(ctx, src)
	if err != nil {
		return fetchResult{err: err}
	}
	if err := validate(src.ID(), sample); err != nil {
		return fetchResult{err: err}
	}
	if sample.ObservedAt.IsZero() {
		sample.ObservedAt = time.Now().UTC()
	}
	return fetchResult{sample: sample}
}

// fetchWithDeadline returns once ctx expires even if the source ignores it.
func (c *Cycle) fetchWithDeadline(ctx context.Context, src source.Source) (source.Sample, error) {
	type outcome struct {
		sample source.Sample
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		s, err := src.Fetch(ctx)
		done <- outcome{sample: s, err: err}
	}()

	select {
	case out := <-done:
		return out.sample, out.err
	case <-ctx.Done():
		return source.Sample{}, fmt.Errorf("fetch aborted: %w", ctx.Err())
	}
}

func validate(id string, s source.Sample) error {
	if s.Value == nil {
		return errors.New("empty gas price")
	}
	if s.Value.Sign() < 0 {
		return fmt.Errorf("negative gas price %s", s.Value)
	}
	if s.SourceID != id {
		return fmt.Errorf("sample tagged %q, expected %q", s.SourceID, id)
	}
	return nil
}

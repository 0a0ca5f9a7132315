package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gas-price-relay/internal/alerting"
	"gas-price-relay/internal/config"
	"gas-price-relay/internal/cycle"
	"gas-price-relay/internal/metrics"
	"gas-price-relay/internal/scheduler"
	"gas-price-relay/internal/sink"
	"gas-price-relay/internal/stats"
	"gas-price-relay/internal/storage"
)

// SnapshotCache stores the latest record per source for external readers.
type SnapshotCache interface {
	SetLatest(ctx context.Context, cycleID uuid.UUID, records []stats.Record) error
}

// Deps groups the optional collaborators. Nil members are skipped.
type Deps struct {
	Records  storage.RecordStore
	Signals  storage.SignalStore
	Locker   storage.AdvisoryLocker
	Cache    SnapshotCache
	Notifier alerting.Notifier
}

// Service orchestrates a cycle, its signals, publishing and persistence.
type Service struct {
	scheduler *scheduler.Scheduler
	cycle     *cycle.Cycle
	sink      sink.Sink
	deps      Deps
	logger    zerolog.Logger

	channels []string
	alertsOn bool
	cooldown *alerting.Cooldown
	lockKey  int64
	now      func() time.Time
}

// New constructs the relay service.
func New(cfg *config.Config, sched *scheduler.Scheduler, c *cycle.Cycle, out sink.Sink, deps Deps, logger zerolog.Logger) *Service {
	return &Service{
		scheduler: sched,
		cycle:     c,
		sink:      out,
		deps:      deps,
		logger:    logger.With().Str("component", "service").Logger(),
		channels:  cfg.Alerting.Channels,
		alertsOn:  cfg.Alerting.Enabled,
		cooldown:  alerting.NewCooldown(cfg.Alerting.Cooldown),
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		now:       time.Now,
	}
}

// Run begins the update loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// Warm seeds every source window with up to limit persisted prices.
func (s *Service) Warm(ctx context.Context, limit int) error {
	if s.deps.Records == nil || limit <= 0 {
		return nil
	}
	for _, id := range s.cycle.Sources() {
		prices, err := s.deps.Records.RecentPrices(ctx, id, limit)
		if err != nil {
			return fmt.Errorf("load history for %s: %w", id, err)
		}
		if err := s.cycle.Warm(id, prices); err != nil {
			return err
		}
		s.logger.Info().Str("source", id).Int("samples", len(prices)).Msg("window warmed from storage")
	}
	return nil
}

// ProcessTick 执行单次更新周期。
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) (scheduler.Outcome, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return scheduler.Outcome{}, err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip tick because advisory lock held elsewhere")
		return scheduler.Outcome{}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	res, cycleErr := s.cycle.Run(ctx)
	out := scheduler.Outcome{Records: len(res.Records), Failures: len(res.Failures)}
	if len(res.Records) == 0 {
		return out, cycleErr
	}

	s.evaluateSignals(ctx, res.Records)
	hashes, pubErr := s.publish(ctx, res)
	batched := pubErr == nil && len(hashes) == 1 && len(res.Records) > 1
	s.persist(ctx, res, hashes, batched)

	return out, cycleErr
}

func (s *Service) evaluateSignals(ctx context.Context, records []stats.Record) {
	engine := s.cycle.Engine()
	for _, rec := range records {
		sig := engine.DetectBuySignal(rec)
		if !sig.IsSignal {
			continue
		}
		metrics.RecordBuySignal(rec.SourceID)
		s.logger.Info().
			Str("source", rec.SourceID).
			Str("price_gwei", stats.Gwei(rec.Price).String()).
			Str("average_gwei", stats.Gwei(stats.Average(rec)).String()).
			Int64("savings_pct", sig.SavingsPercent).
			Msg("buy signal")

		if !s.alertsOn || !s.cooldown.Allow(rec.SourceID, s.now()) {
			continue
		}
		s.dispatchSignal(ctx, rec, sig, engine.ThresholdPct())
	}
}

func (s *Service) dispatchSignal(ctx context.Context, rec stats.Record, sig stats.Signal, threshold int64) {
	avg := stats.Average(rec)
	if s.deps.Signals != nil {
		row := storage.SignalRow{
			SourceID:     rec.SourceID,
			ObservedAt:   rec.ObservedAt,
			PriceWei:     rec.Price,
			AverageWei:   avg,
			SavingsPct:   sig.SavingsPercent,
			ThresholdPct: threshold,
			Channels:     s.channels,
		}
		if _, err := s.deps.Signals.InsertSignal(ctx, row); err != nil {
			s.logger.Error().Err(err).Str("source", rec.SourceID).Msg("failed to persist signal record")
		}
	}
	if s.deps.Notifier != nil {
		note := alerting.Notification{
			SourceID:     rec.SourceID,
			ObservedAt:   rec.ObservedAt,
			PriceGwei:    stats.Gwei(rec.Price),
			AverageGwei:  stats.Gwei(avg),
			HighGwei:     stats.Gwei(rec.High),
			LowGwei:      stats.Gwei(rec.Low),
			SavingsPct:   sig.SavingsPercent,
			ThresholdPct: threshold,
			Channels:     s.channels,
		}
		if err := s.deps.Notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("source", rec.SourceID).Msg("failed to dispatch signal")
		}
	}
}

// publish submits the batch once; failures are logged and never retried here.
func (s *Service) publish(ctx context.Context, res cycle.Result) ([]string, error) {
	if s.sink == nil {
		return nil, nil
	}
	hashes, err := s.sink.Submit(ctx, res.Records)
	metrics.RecordPublish(err == nil)
	if err != nil {
		s.logger.Error().Err(err).
			Str("cycle_id", res.ID.String()).
			Int("records", len(res.Records)).
			Int("sent", len(hashes)).
			Msg("publish failed")
	}
	return hashes, err
}

func (s *Service) persist(ctx context.Context, res cycle.Result, hashes []string, batched bool) {
	if s.deps.Cache != nil {
		if err := s.deps.Cache.SetLatest(ctx, res.ID, res.Records); err != nil {
			s.logger.Warn().Err(err).Msg("failed to refresh latest cache")
		}
	}
	if s.deps.Records == nil {
		return
	}

	rows := make([]storage.PriceRow, 0, len(res.Records))
	for i, rec := range res.Records {
		row := storage.PriceRow{
			CycleID:    res.ID,
			SourceID:   rec.SourceID,
			PriceWei:   rec.Price,
			HighWei:    rec.High,
			LowWei:     rec.Low,
			MeanWei:    rec.Price,
			ObservedAt: rec.ObservedAt,
			TxHash:     txHashFor(hashes, i, batched),
		}
		if w, ok := s.cycle.Window(rec.SourceID); ok {
			if st, ok := w.Stats(); ok {
				row.MeanWei = st.Mean
				row.VolatilityPct = stats.Volatility(st)
				row.WindowSize = st.Count
			}
		}
		rows = append(rows, row)
	}
	if err := s.deps.Records.InsertRecords(ctx, rows); err != nil {
		s.logger.Error().Err(err).Str("cycle_id", res.ID.String()).Msg("failed to persist records")
	}
}

// txHashFor maps sink hashes onto records: a batched submission shares one
// hash, otherwise hashes line up with records in order.
func txHashFor(hashes []string, i int, batched bool) *string {
	switch {
	case batched:
		return &hashes[0]
	case i < len(hashes):
		return &hashes[i]
	default:
		return nil
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

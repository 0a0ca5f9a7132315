package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gas-price-relay/internal/alerting"
	"gas-price-relay/internal/api"
	"gas-price-relay/internal/cache"
	"gas-price-relay/internal/config"
	"gas-price-relay/internal/cycle"
	"gas-price-relay/internal/metrics"
	"gas-price-relay/internal/scheduler"
	"gas-price-relay/internal/service"
	"gas-price-relay/internal/sink"
	"gas-price-relay/internal/source"
	"gas-price-relay/internal/stats"
	"gas-price-relay/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newCycle(srcs []source.Source) (*cycle.Cycle, error) {
	engine := stats.NewEngine(a.Config.Signal.ThresholdPct)
	return cycle.New(srcs, engine, cycle.Options{
		WindowSize:     a.Config.History.WindowSize,
		FetchTimeout:   a.Config.Cycle.FetchTimeout,
		MaxConcurrency: a.Config.Cycle.MaxConcurrency,
	}, a.Logger)
}

// newSink returns the oracle publisher, or a dry-run sink when it is disabled.
// Errors wrap sink.ErrConfig and are fatal before the loop starts.
func (a *App) newSink(ctx context.Context) (sink.Sink, error) {
	if !a.Config.Oracle.Enabled {
		a.Logger.Warn().Msg("oracle disabled; records are only logged")
		return sink.NewLog(a.Logger), nil
	}
	oc := a.Config.Oracle
	oracle, err := sink.NewOracle(ctx, sink.OracleOptions{
		RPCURL:          oc.RPCURL,
		ChainID:         oc.ChainID,
		ContractAddress: oc.ContractAddress,
		PrivateKey:      oc.PrivateKey,
		BatchThreshold:  oc.BatchThreshold,
		GasLimit:        oc.GasLimit,
		TxTimeout:       oc.TxTimeout,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	a.Logger.Info().Str("from", oracle.From().Hex()).Str("contract", oc.ContractAddress).Msg("oracle sink ready")
	return oracle, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openCache(ctx context.Context) (*cache.Redis, func(), error) {
	if a.Config.Redis.Addr == "" {
		return nil, nil, nil
	}
	client, err := cache.NewClient(ctx, a.Config.Redis)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		_ = client.Close()
	}
	return cache.NewRedis(client, a.Config.Redis.KeyPrefix, a.Config.Redis.TTL), closer, nil
}

// Run executes the long-running relay service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out, err := a.newSink(ctx)
	if err != nil {
		return err
	}

	srcs, err := source.FromConfig(a.Config.EnabledSources(), a.Logger)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	c, err := a.newCycle(srcs)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	latest, closeCache, err := a.openCache(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("redis unavailable; latest cache disabled")
	}
	if closeCache != nil {
		defer closeCache()
	}

	deps := service.Deps{Notifier: a.newNotifier()}
	if store != nil {
		deps.Records = store
		deps.Signals = store
		deps.Locker = store
	}
	if latest != nil {
		deps.Cache = latest
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
		GracePeriod:  a.Config.Scheduler.GracePeriod,
	}, a.Logger)

	svc := service.New(a.Config, sched, c, out, deps, a.Logger)
	if a.Config.History.WarmStart {
		if err := svc.Warm(ctx, a.Config.History.WindowSize); err != nil {
			a.Logger.Warn().Err(err).Msg("window warm-up failed; starting cold")
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	if a.Config.API.Enabled {
		metrics.Init()
		server := api.New(api.Config{
			Addr:      a.Config.API.ListenAddr,
			Scheduler: sched,
			Windows:   c,
			Engine:    c.Engine(),
		}, a.Logger)
		group.Go(func() error {
			return server.Run(gctx)
		})
	}
	group.Go(func() error {
		sched.Report(gctx, a.Config.Scheduler.ReportInterval, a.Logger)
		return nil
	})
	group.Go(func() error {
		a.Logger.Info().
			Strs("sources", c.Sources()).
			Dur("interval", a.Config.Scheduler.Interval).
			Msg("starting relay service")
		err := svc.Run(gctx)
		scheduler.LogSnapshot(a.Logger, sched.Stats(), time.Now().UTC())
		return err
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("relay service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical records.
type ExportOptions struct {
	Source    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Source  string
	Limit   int
	Signals bool
}

// PruneOptions configure the retention job.
type PruneOptions struct {
	OlderThan time.Duration
	DryRun    bool
}

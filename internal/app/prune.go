package app

import (
	"context"
	"errors"
	"time"
)

// pruner is the retention slice of storage.Store.
type pruner interface {
	CountRecordsBefore(ctx context.Context, olderThan time.Time) (int64, error)
	CountSignalsBefore(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteRecordsBefore(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteSignalsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// Prune deletes records and signals older than the retention window.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	if opts.OlderThan <= 0 {
		return errors.New("--older-than 必须大于 0")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法清理")
	}
	if closeStore != nil {
		defer closeStore()
	}

	cutoff := time.Now().UTC().Add(-opts.OlderThan)
	_, _, err = a.prune(ctx, store, cutoff, opts.DryRun)
	return err
}

// prune returns the records and signals removed, or that would be removed on a dry run.
func (a *App) prune(ctx context.Context, store pruner, cutoff time.Time, dryRun bool) (int64, int64, error) {
	if dryRun {
		records, err := store.CountRecordsBefore(ctx, cutoff)
		if err != nil {
			return 0, 0, err
		}
		signals, err := store.CountSignalsBefore(ctx, cutoff)
		if err != nil {
			return 0, 0, err
		}
		a.Logger.Warn().
			Time("cutoff", cutoff).
			Int64("records", records).
			Int64("signals", signals).
			Msg("prune dry-run：不会删除数据")
		return records, signals, nil
	}

	records, err := store.DeleteRecordsBefore(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}
	signals, err := store.DeleteSignalsBefore(ctx, cutoff)
	if err != nil {
		return records, 0, err
	}

	a.Logger.Info().
		Time("cutoff", cutoff).
		Int64("records", records).
		Int64("signals", signals).
		Msg("清理完成")
	return records, signals, nil
}

// Migrate applies the SQL migrations from database.migrations_path.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法迁移")
	}
	if closeStore != nil {
		defer closeStore()
	}

	applied, err := store.Migrate(ctx, a.Config.Database.MigrationsPath)
	if err != nil {
		return err
	}
	a.Logger.Info().Int("files", applied).Str("path", a.Config.Database.MigrationsPath).Msg("migrations applied")
	return nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"gas-price-relay/internal/cache"
	"gas-price-relay/internal/stats"
)

// Latest prints the cached snapshot of every configured source.
func (a *App) Latest(ctx context.Context) error {
	latest, closeCache, err := a.openCache(ctx)
	if err != nil {
		return err
	}
	if latest == nil {
		return errors.New("redis.addr not configured; cannot read latest snapshots")
	}
	if closeCache != nil {
		defer closeCache()
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tObserved (UTC)\tPrice (gwei)\tHigh\tLow\tCycle")
	for _, src := range a.Config.EnabledSources() {
		snap, err := latest.GetLatest(ctx, src.ID)
		if errors.Is(err, cache.ErrMiss) {
			fmt.Fprintf(writer, "%s\t-\t-\t-\t-\t-\n", src.ID)
			continue
		}
		if err != nil {
			return err
		}
		rec, err := snap.Record()
		if err != nil {
			return err
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			src.ID,
			rec.ObservedAt.UTC().Format(time.RFC3339),
			formatDecimal(stats.Gwei(rec.Price), 3),
			formatDecimal(stats.Gwei(rec.High), 3),
			formatDecimal(stats.Gwei(rec.Low), 3),
			snap.CycleID.String(),
		)
	}
	return writer.Flush()
}

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"gas-price-relay/internal/stats"
	"gas-price-relay/internal/storage"
)

// Show prints recent records, or recent buy signals.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Signals {
		return a.showSignals(ctx, store, opts.Limit)
	}

	records, err := store.ListRecentRecords(ctx, opts.Source, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no records found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSource\tPrice (gwei)\tHigh\tLow\tMean\tVol%\tWindow\tTx")

	for _, rec := range records {
		tx := ""
		if rec.TxHash != nil {
			tx = shortHash(*rec.TxHash)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.ObservedAt.UTC().Format(time.RFC3339),
			rec.SourceID,
			formatDecimal(stats.Gwei(rec.PriceWei), 3),
			formatDecimal(stats.Gwei(rec.HighWei), 3),
			formatDecimal(stats.Gwei(rec.LowWei), 3),
			formatDecimal(stats.Gwei(rec.MeanWei), 3),
			formatDecimal(rec.VolatilityPct, 2),
			rec.WindowSize,
			tx,
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showSignals(ctx context.Context, store storage.SignalStore, limit int) error {
	signals, err := store.ListRecentSignals(ctx, limit)
	if err != nil {
		return err
	}
	if len(signals) == 0 {
		fmt.Fprintln(os.Stdout, "no signals found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSource\tPrice (gwei)\tAverage\tSavings%\tThreshold%\tChannels")
	for _, sig := range signals {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			sig.ObservedAt.UTC().Format(time.RFC3339),
			sig.SourceID,
			formatDecimal(stats.Gwei(sig.PriceWei), 3),
			formatDecimal(stats.Gwei(sig.AverageWei), 3),
			sig.SavingsPct,
			sig.ThresholdPct,
			sanitizeInline(strings.Join(sig.Channels, ",")),
		)
	}
	writer.Flush()
	return nil
}

func shortHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:10] + "…" + h[len(h)-4:]
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"gas-price-relay/internal/stats"
	"gas-price-relay/internal/storage"
)

// Export renders a source's historical records as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Source == "" {
		return errors.New("--source is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	from, to, err := exportWindow(opts, a.Config.Scheduler.Interval, time.Now().UTC())
	if err != nil {
		return err
	}

	records, err := store.ListRecordsBetween(ctx, opts.Source, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Str("source", opts.Source).Msg("no records found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Str("source", opts.Source).Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting records")

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRecordsPNG(opts.PNGPath, opts.Source, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func exportWindow(opts ExportOptions, interval time.Duration, now time.Time) (time.Time, time.Time, error) {
	to := now
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func downsampleRecords(records []storage.PriceRow, max int) []storage.PriceRow {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.PriceRow, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeRecordsCSV(path string, records []storage.PriceRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "source", "price_wei", "high_wei", "low_wei", "mean_wei", "price_gwei", "volatility_pct", "window_size", "cycle_id", "tx_hash"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		tx := ""
		if rec.TxHash != nil {
			tx = *rec.TxHash
		}
		row := []string{
			rec.ObservedAt.UTC().Format(time.RFC3339),
			rec.SourceID,
			rec.PriceWei.String(),
			rec.HighWei.String(),
			rec.LowWei.String(),
			rec.MeanWei.String(),
			stats.Gwei(rec.PriceWei).String(),
			rec.VolatilityPct.String(),
			strconv.Itoa(rec.WindowSize),
			rec.CycleID.String(),
			tx,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRecordsPNG(path, source string, records []storage.PriceRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	price := make([]float64, len(records))
	high := make([]float64, len(records))
	low := make([]float64, len(records))
	volatility := make([]float64, len(records))

	for i, rec := range records {
		x[i] = rec.ObservedAt
		price[i] = stats.Gwei(rec.PriceWei).InexactFloat64()
		high[i] = stats.Gwei(rec.HighWei).InexactFloat64()
		low[i] = stats.Gwei(rec.LowWei).InexactFloat64()
		volatility[i] = rec.VolatilityPct.InexactFloat64()
	}

	gweiFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Title:  source + " gas price",
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Gas price (gwei)",
			ValueFormatter: gweiFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Volatility (%)",
			ValueFormatter: gweiFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{Name: "Price", XValues: x, YValues: price},
			chart.TimeSeries{Name: "High", XValues: x, YValues: high},
			chart.TimeSeries{Name: "Low", XValues: x, YValues: low},
			chart.TimeSeries{
				Name:    "Volatility %",
				XValues: x,
				YValues: volatility,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

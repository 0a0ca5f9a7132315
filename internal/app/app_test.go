package app

import (
	"context"
	"encoding/csv"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gas-price-relay/internal/config"
	"gas-price-relay/internal/sink"
	"gas-price-relay/internal/storage"
)

func testApp() *App {
	cfg := &config.Config{}
	cfg.History.WindowSize = 1000
	cfg.Signal.ThresholdPct = 10
	cfg.Scheduler.Interval = time.Minute
	cfg.Export.MaxDataPoints = 100
	return NewApp(cfg, zerolog.Nop())
}

func TestSimulateSignal(t *testing.T) {
	a := testApp()
	ctx := context.Background()

	series := []decimal.Decimal{decimal.NewFromInt(120), decimal.NewFromInt(80), decimal.NewFromInt(85)}
	sig, err := a.SimulateSignal(ctx, "ethereum", series)
	require.NoError(t, err)
	assert.True(t, sig.IsSignal)
	assert.Equal(t, int64(15), sig.SavingsPercent)

	series[2] = decimal.NewFromInt(95)
	sig, err = a.SimulateSignal(ctx, "ethereum", series)
	require.NoError(t, err)
	assert.False(t, sig.IsSignal)
	assert.Equal(t, int64(5), sig.SavingsPercent)

	_, err = a.SimulateSignal(ctx, "", nil)
	assert.Error(t, err)
	_, err = a.SimulateSignal(ctx, "", []decimal.Decimal{decimal.NewFromInt(-1)})
	assert.Error(t, err)
}

func TestGweiToWei(t *testing.T) {
	v, err := gweiToWei(decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.Equal(t, "1500000000", v.String())

	v, err = gweiToWei(decimal.RequireFromString("0.0000000019"))
	require.NoError(t, err)
	assert.Equal(t, "1", v.String())
}

func TestNewSinkDisabledFallsBackToLog(t *testing.T) {
	a := testApp()
	out, err := a.newSink(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &sink.Log{}, out)

	a.Config.Oracle.Enabled = true
	_, err = a.newSink(context.Background())
	assert.ErrorIs(t, err, sink.ErrConfig)
}

func TestExportWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	from, to, err := exportWindow(ExportOptions{MaxPoints: 60}, time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, now, to)
	assert.Equal(t, now.Add(-time.Hour), from)

	later := now.Add(time.Hour)
	_, _, err = exportWindow(ExportOptions{From: &later, MaxPoints: 10}, time.Minute, now)
	assert.Error(t, err)
}

func makeRows(n int) []storage.PriceRow {
	rows := make([]storage.PriceRow, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range rows {
		v := big.NewInt(int64(i+1) * 1e9)
		rows[i] = storage.PriceRow{
			CycleID:       uuid.New(),
			SourceID:      "ethereum",
			PriceWei:      v,
			HighWei:       v,
			LowWei:        big.NewInt(1e9),
			MeanWei:       v,
			VolatilityPct: decimal.RequireFromString("1.25"),
			WindowSize:    i + 1,
			ObservedAt:    start.Add(time.Duration(i) * time.Minute),
		}
	}
	return rows
}

func TestDownsampleRecordsKeepsEnds(t *testing.T) {
	rows := makeRows(10)
	out := downsampleRecords(rows, 4)
	require.Len(t, out, 4)
	assert.Equal(t, rows[0].ObservedAt, out[0].ObservedAt)
	assert.Equal(t, rows[9].ObservedAt, out[3].ObservedAt)

	assert.Len(t, downsampleRecords(rows, 20), 10)
	assert.Len(t, downsampleRecords(rows, 1), 1)
}

func TestWriteRecordsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "eth.csv")
	rows := makeRows(3)
	hash := "0xabc"
	rows[1].TxHash = &hash

	require.NoError(t, writeRecordsCSV(path, rows))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	lines, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 4)
	assert.Equal(t, "observed_at", lines[0][0])
	assert.Equal(t, "2000000000", lines[2][2])
	assert.Equal(t, "2", lines[2][6])
	assert.Equal(t, "0xabc", lines[2][10])
	assert.Equal(t, "", lines[1][10])
}

func TestWriteRecordsPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eth.png")
	require.NoError(t, writeRecordsPNG(path, "ethereum", makeRows(5)))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestShortHash(t *testing.T) {
	assert.Equal(t, "0xabc", shortHash("0xabc"))
	assert.Equal(t, "0x12345678…cdef", shortHash("0x1234567890abcdef1234567890abcdef"))
}

type fakePruner struct {
	cutoff  time.Time
	records []time.Time
	signals []time.Time
	deleted bool
}

func countBefore(ts []time.Time, cutoff time.Time) int64 {
	var n int64
	for _, t := range ts {
		if t.Before(cutoff) {
			n++
		}
	}
	return n
}

func (f *fakePruner) CountRecordsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return countBefore(f.records, cutoff), nil
}

func (f *fakePruner) CountSignalsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return countBefore(f.signals, cutoff), nil
}

func (f *fakePruner) DeleteRecordsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.deleted = true
	return countBefore(f.records, cutoff), nil
}

func (f *fakePruner) DeleteSignalsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.deleted = true
	return countBefore(f.signals, cutoff), nil
}

func TestPruneDryRunCountsOnlyRowsPastCutoff(t *testing.T) {
	cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store := &fakePruner{
		records: []time.Time{cutoff.Add(-48 * time.Hour), cutoff.Add(-time.Hour), cutoff, cutoff.Add(time.Hour)},
		signals: []time.Time{cutoff.Add(-time.Minute), cutoff.Add(time.Minute)},
	}

	records, signals, err := testApp().prune(context.Background(), store, cutoff, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), records)
	assert.Equal(t, int64(1), signals)
	assert.Equal(t, cutoff, store.cutoff)
	assert.False(t, store.deleted, "dry run must not delete")

	records, signals, err = testApp().prune(context.Background(), store, cutoff, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), records)
	assert.Equal(t, int64(1), signals)
	assert.True(t, store.deleted)
}

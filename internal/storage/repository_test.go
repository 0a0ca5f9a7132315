package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRow replays column values through pgx.Row's Scan contract.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d dest for %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = r.values[i].(int64)
		case *int:
			*p = r.values[i].(int)
		case *string:
			*p = r.values[i].(string)
		case *uuid.UUID:
			*p = r.values[i].(uuid.UUID)
		case *time.Time:
			*p = r.values[i].(time.Time)
		case *[]string:
			*p = r.values[i].([]string)
		case *sql.NullString:
			if v, ok := r.values[i].(string); ok {
				*p = sql.NullString{String: v, Valid: true}
			} else {
				*p = sql.NullString{}
			}
		default:
			return fmt.Errorf("scan: unsupported dest %T", d)
		}
	}
	return nil
}

func recordValues(price string, txHash any) []any {
	observed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []any{
		int64(7),
		uuid.MustParse("6f1c2a4e-8b0d-4c1e-9a53-2f7d7e1b9c10"),
		"ethereum",
		price,
		"340282366920938463463374607431768211457",
		"1",
		"170141183460469231731687303715884105729",
		"16.33",
		3,
		observed,
		txHash,
		observed.Add(time.Second),
	}
}

func TestParseBig(t *testing.T) {
	v, err := parseBig("340282366920938463463374607431768211457") // 2^128 + 1
	require.NoError(t, err)
	want := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	assert.Zero(t, v.Cmp(want))

	v, err = parseBig("0")
	require.NoError(t, err)
	assert.Zero(t, v.Sign())

	for _, raw := range []string{"", "12.5", "1e9", "0x10", "abc"} {
		_, err := parseBig(raw)
		assert.Error(t, err, raw)
	}
}

func TestBigString(t *testing.T) {
	assert.Equal(t, "0", bigString(nil))
	assert.Equal(t, "21000000000", bigString(big.NewInt(21_000_000_000)))

	huge, ok := new(big.Int).SetString("18446744073709551617", 10)
	require.True(t, ok)
	back, err := parseBig(bigString(huge))
	require.NoError(t, err)
	assert.Zero(t, back.Cmp(huge))
}

func TestScanRecord(t *testing.T) {
	rec, err := scanRecord(fakeRow{values: recordValues("21000000000", "0xabc")})
	require.NoError(t, err)

	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, "ethereum", rec.SourceID)
	assert.Equal(t, "21000000000", rec.PriceWei.String())
	assert.Equal(t, "340282366920938463463374607431768211457", rec.HighWei.String())
	assert.Equal(t, "1", rec.LowWei.String())
	assert.Equal(t, "170141183460469231731687303715884105729", rec.MeanWei.String())
	assert.Equal(t, "16.33", rec.VolatilityPct.String())
	assert.Equal(t, 3, rec.WindowSize)
	require.NotNil(t, rec.TxHash)
	assert.Equal(t, "0xabc", *rec.TxHash)

	rec, err = scanRecord(fakeRow{values: recordValues("1", nil)})
	require.NoError(t, err)
	assert.Nil(t, rec.TxHash)
}

func TestScanRecordRejectsMalformedNumerics(t *testing.T) {
	_, err := scanRecord(fakeRow{values: recordValues("not-a-number", nil)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse price")

	values := recordValues("1", nil)
	values[7] = "n/a"
	_, err = scanRecord(fakeRow{values: values})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse volatility")

	_, err = scanRecord(fakeRow{err: sql.ErrNoRows})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestScanSignal(t *testing.T) {
	observed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	row := fakeRow{values: []any{
		int64(3),
		"polygon",
		observed,
		"80000000000",
		"100000000000",
		int64(20),
		int64(10),
		[]string{"telegram"},
		observed,
	}}

	rec, err := scanSignal(row)
	require.NoError(t, err)
	assert.Equal(t, "polygon", rec.SourceID)
	assert.Equal(t, "80000000000", rec.PriceWei.String())
	assert.Equal(t, "100000000000", rec.AverageWei.String())
	assert.Equal(t, int64(20), rec.SavingsPct)
	assert.Equal(t, []string{"telegram"}, rec.Channels)

	row.values[4] = "-"
	_, err = scanSignal(row)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse average")
}

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	_, err := s.CountRecordsBefore(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewStore(nil).CountSignalsBefore(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

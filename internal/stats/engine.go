// Package stats derives price records and buy signals from rolling history.
package stats

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"gas-price-relay/internal/history"
	"gas-price-relay/internal/source"
)

// ErrInvalidSample reports a sample without a non-negative price.
var ErrInvalidSample = errors.New("stats: invalid sample")

// DefaultThresholdPct is the savings percentage a price must exceed to be a buy signal.
const DefaultThresholdPct = 10

var (
	bigTwo     = big.NewInt(2)
	bigHundred = big.NewInt(100)
)

// Record is the derived observation relayed to the oracle.
// High and Low cover the window including Price itself.
type Record struct {
	SourceID   string
	Price      *big.Int
	High       *big.Int
	Low        *big.Int
	ObservedAt time.Time
}

// Signal reports whether a record is priced meaningfully below its recent average.
type Signal struct {
	IsSignal       bool
	SavingsPercent int64
}

// Engine turns samples into records.
type Engine struct {
	thresholdPct int64
}

// NewEngine returns an engine flagging savings strictly above thresholdPct.
// A negative threshold selects the default.
func NewEngine(thresholdPct int64) *Engine {
	if thresholdPct < 0 {
		thresholdPct = DefaultThresholdPct
	}
	return &Engine{thresholdPct: thresholdPct}
}

// ThresholdPct returns the configured signal threshold.
func (e *Engine) ThresholdPct() int64 { return e.thresholdPct }

// Summarize appends the sample to w and builds a record from the updated window.
// Nil or negative prices are rejected and leave w untouched.
func (e *Engine) Summarize(sample source.Sample, w *history.Window) (Record, error) {
	if sample.Value == nil || sample.Value.Sign() < 0 {
		return Record{}, fmt.Errorf("%w: source %q price %v", ErrInvalidSample, sample.SourceID, sample.Value)
	}
	w.Append(sample.Value)

	rec := Record{
		SourceID:   sample.SourceID,
		Price:      new(big.Int).Set(sample.Value),
		ObservedAt: sample.ObservedAt,
	}

	st, ok := w.Stats()
	if !ok {
		rec.High = new(big.Int).Set(sample.Value)
		rec.Low = new(big.Int).Set(sample.Value)
		return rec, nil
	}
	rec.High = st.Max
	rec.Low = st.Min
	return rec, nil
}

// DetectBuySignal compares the price against the midpoint of high and low.
// Percentages are rounded half-up in the integer domain.
func (e *Engine) DetectBuySignal(r Record) Signal {
	if r.Price == nil || r.High == nil || r.Low == nil {
		return Signal{}
	}

	avg := new(big.Int).Add(r.High, r.Low)
	avg.Quo(avg, bigTwo)

	if avg.Sign() == 0 || r.Price.Cmp(avg) >= 0 {
		return Signal{}
	}

	num := new(big.Int).Sub(avg, r.Price)
	num.Mul(num, bigHundred)

	pct, rem := new(big.Int).QuoRem(num, avg, new(big.Int))
	if rem.Lsh(rem, 1).Cmp(avg) >= 0 {
		pct.Add(pct, big.NewInt(1))
	}

	savings := pct.Int64() // Price ≥ 0 bounds this to [0, 100]
	return Signal{IsSignal: savings > e.thresholdPct, SavingsPercent: savings}
}

// Average returns floor((High+Low)/2).
func Average(r Record) *big.Int {
	avg := new(big.Int).Add(r.High, r.Low)
	return avg.Quo(avg, bigTwo)
}

// Gwei converts a wei magnitude to gwei for display.
func Gwei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -9)
}

// Volatility expresses the window's standard deviation as a percentage of its mean.
// It is informational and never relayed on-chain.
func Volatility(st history.Stats) decimal.Decimal {
	if st.Mean == nil || st.Mean.Sign() == 0 || st.StdDev == nil {
		return decimal.Zero
	}
	std, err := decimal.NewFromString(st.StdDev.Text('f', 6))
	if err != nil {
		return decimal.Zero
	}
	return std.Div(decimal.NewFromBigInt(st.Mean, 0)).Mul(decimal.NewFromInt(100)).Round(2)
}

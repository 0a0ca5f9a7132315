package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"gas-price-relay/internal/cycle"
	"gas-price-relay/internal/service"
	"gas-price-relay/internal/source"
	"gas-price-relay/internal/stats"
)

// SimulateSignal 以给定的 gwei 序列驱动一次模拟，最后一个值触发买入信号检测与告警流程。
func (a *App) SimulateSignal(ctx context.Context, sourceID string, seriesGwei []decimal.Decimal) (stats.Signal, error) {
	if len(seriesGwei) == 0 {
		return stats.Signal{}, errors.New("至少需要一个价格")
	}
	if sourceID == "" {
		sourceID = "simulated"
	}

	static := &source.Static{SourceID: sourceID}
	c, err := cycle.New([]source.Source{static}, stats.NewEngine(a.Config.Signal.ThresholdPct), cycle.Options{
		WindowSize:   a.Config.History.WindowSize,
		FetchTimeout: time.Second,
	}, a.Logger)
	if err != nil {
		return stats.Signal{}, err
	}

	prefix := make([]*big.Int, 0, len(seriesGwei)-1)
	for _, g := range seriesGwei[:len(seriesGwei)-1] {
		v, err := gweiToWei(g)
		if err != nil {
			return stats.Signal{}, err
		}
		prefix = append(prefix, v)
	}
	if err := c.Warm(sourceID, prefix); err != nil {
		return stats.Signal{}, err
	}

	last, err := gweiToWei(seriesGwei[len(seriesGwei)-1])
	if err != nil {
		return stats.Signal{}, err
	}
	static.Value = last

	// no persistence, cache or lock: only the notifier is real
	svc := service.New(a.Config, nil, c, nil, service.Deps{Notifier: a.newNotifier()}, a.Logger)
	if _, err := svc.ProcessTick(ctx, time.Now().UTC()); err != nil {
		return stats.Signal{}, err
	}

	w, _ := c.Window(sourceID)
	st, _ := w.Stats()
	sig := c.Engine().DetectBuySignal(stats.Record{SourceID: sourceID, Price: last, High: st.Max, Low: st.Min})
	a.Logger.Info().
		Str("source", sourceID).
		Bool("signal", sig.IsSignal).
		Int64("savings_pct", sig.SavingsPercent).
		Int64("threshold_pct", c.Engine().ThresholdPct()).
		Msg("simulation finished")
	return sig, nil
}

func gweiToWei(g decimal.Decimal) (*big.Int, error) {
	if g.IsNegative() {
		return nil, fmt.Errorf("价格不能为负: %s", g)
	}
	return g.Shift(9).Floor().BigInt(), nil
}

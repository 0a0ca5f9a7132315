package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateSource string
	simulatePrices []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-signal",
	Short: "用给定的 gwei 序列模拟一次买入信号检测",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(simulatePrices) == 0 {
			return fmt.Errorf("--prices 不能为空")
		}
		series := make([]decimal.Decimal, 0, len(simulatePrices))
		for _, raw := range simulatePrices {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("非法价格 %q: %w", raw, err)
			}
			series = append(series, d)
		}

		sig, err := getApp().SimulateSignal(cmd.Context(), simulateSource, series)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "signal: %t\nsavings_pct: %d\n", sig.IsSignal, sig.SavingsPercent)
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSource, "source", "simulated", "来源标识")
	simulateCmd.Flags().StringSliceVar(&simulatePrices, "prices", nil, "gwei 价格序列，最后一个为当前价格，如 120,80,85")
}

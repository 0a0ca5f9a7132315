package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gas-price-relay/internal/app"
)

var (
	showLimit   int
	showSource  string
	showSignals bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent gas price records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Source:  showSource,
			Limit:   showLimit,
			Signals: showSignals,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().StringVar(&showSource, "source", "", "Only show records of this source")
	showCmd.Flags().BoolVar(&showSignals, "signals", false, "Show buy signals instead of records")
}

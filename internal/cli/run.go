package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gas price relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the latest cached record per source",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Latest(cmd.Context())
	},
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/femasync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "femasync",
	Short: "FEMA disaster declarations sync",
	Long: `Downloads every disaster declaration summary from the OpenFEMA API,
normalizes the records, and replaces the incident_data table in the
configured store. Running with no arguments performs one full sync.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	RunE: runSync,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

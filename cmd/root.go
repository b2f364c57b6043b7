package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/supervision-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "supervision-cli",
	Short: "Supervision normalization and period classification",
	Long:  "Resolves raw branch names, classifies branches as Local or Foránea, buckets supervisions into operating periods and reconciles scores into one normalized view.",
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
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "write JSON instead of a table")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

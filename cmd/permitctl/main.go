// Command permitctl estimates permit fees and summarizes the permit dataset
// from the command line.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/couchcryptid/permit-data-service/internal/config"
	"github.com/couchcryptid/permit-data-service/internal/observability"
	"github.com/spf13/cobra"
)

var (
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics

	sourceFlag  string
	archiveFlag string
)

var rootCmd = &cobra.Command{
	Use:   "permitctl",
	Short: "Estimate commercial permit fees from historical permits",
	Long: "Loads the commercial permits export (or an archived snapshot), then prices a " +
		"prospective permit from its nearest historical permits or summarizes the dataset.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		// Logs go to stderr so command output stays pipeable.
		logger = observability.NewLoggerTo(os.Stderr, cfg.LogLevel, "text")
		metrics = observability.NewMetrics()
		if sourceFlag == "" {
			sourceFlag = cfg.DatasetURL
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sourceFlag, "source", "", "CSV URL or path (default $DATASET_URL)")
	rootCmd.PersistentFlags().StringVar(&archiveFlag, "archive", "", "read the snapshot from this SQLite archive instead of the CSV")
	rootCmd.AddCommand(estimateCmd, summaryCmd, exportCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

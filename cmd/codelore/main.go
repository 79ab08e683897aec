// codelore is the CLI for the enrichment pipeline: it ranks chunks into
// the queue, runs the background enrichment loop, serves on-demand
// enrichment, and maintains cache validity.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codelore/codelore/internal/config"
	"github.com/codelore/codelore/internal/storage"
)

var (
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
	store  storage.Store
)

var rootCmd = &cobra.Command{
	Use:   "codelore",
	Short: "Background code-understanding pipeline",
	Long: `codelore schedules and runs LLM research over a codebase's chunks,
building a durable layer of enrichments: summaries, side effects,
design patterns and more, kept fresh as the code changes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}

		if verbose {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		store, err = storage.NewStore(cmd.Context(), &storage.Config{Path: cfg.DatabasePath})
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		// Record the operational analysis version so external queries can
		// see which version enrichments are judged against.
		if err := store.SetConfig(cmd.Context(), "analysis_version", cfg.AnalysisVersion); err != nil {
			return fmt.Errorf("failed to record analysis version: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default .codelore/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codelore/codelore/internal/ranker"
)

var queueLimit int

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Rank candidate chunks into the enrichment queue",
	Long: `Score unenriched chunks by centrality, fan-in/out, location and size,
and queue every chunk scoring above zero. Idempotent: chunks already
queued or already carrying a valid enrichment are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := ranker.New(store, cfg.Ranker, logger)
		queued, err := r.SelectAndQueue(cmd.Context(), queueLimit)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s queued %d chunks\n", green("✓"), queued)
		return nil
	},
}

func init() {
	queueCmd.Flags().IntVar(&queueLimit, "limit", 0, "candidate cap (default from config)")
	rootCmd.AddCommand(queueCmd)
}

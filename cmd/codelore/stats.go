package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codelore/codelore/internal/cache"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue and enrichment status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== codelore status ==="))

		queue, err := store.QueueStats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", yellow("Queue:"))
		fmt.Printf("  Pending:    %d\n", queue.Pending)
		fmt.Printf("  Processing: %d\n", queue.Processing)
		fmt.Printf("  Complete:   %s\n", green(fmt.Sprintf("%d", queue.Complete)))
		if queue.Failed > 0 {
			fmt.Printf("  Failed:     %s\n", red(fmt.Sprintf("%d", queue.Failed)))
		} else {
			fmt.Printf("  Failed:     %d\n", queue.Failed)
		}
		fmt.Printf("  Total:      %d\n\n", queue.Total())

		oracle := cache.New(store, cfg.Cache, logger)
		enrichments, err := oracle.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", yellow("Enrichments:"))
		fmt.Printf("  Valid:    %s\n", green(fmt.Sprintf("%d", enrichments.Valid)))
		fmt.Printf("  Stale:    %d\n", enrichments.Stale)
		fmt.Printf("  Orphaned: %s\n", gray(fmt.Sprintf("%d", enrichments.Orphaned)))
		fmt.Printf("  Total:    %d\n\n", enrichments.Total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

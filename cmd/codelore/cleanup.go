package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codelore/codelore/internal/cache"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned and expired records",
	Long: `Delete enrichments, partial findings, embeddings and queue entries
whose chunk no longer exists, and completed queue entries older than
the retention window.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		oracle := cache.New(store, cfg.Cache, logger)
		removed, err := oracle.CleanupOrphans(cmd.Context())
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s removed %d records\n", green("✓"), removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

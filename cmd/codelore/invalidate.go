package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codelore/codelore/internal/cache"
)

var (
	invalidateStale bool
	invalidateFile  string
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Discard stale enrichments and re-queue their chunks",
	Long: `With --stale, scan every enrichment and discard the ones whose content
hash or analysis version no longer matches, re-queueing each chunk.
With --file, discard enrichments for one file's chunks at a higher
priority (use after a known edit).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !invalidateStale && invalidateFile == "" {
			return fmt.Errorf("specify --stale or --file <file-id>")
		}

		oracle := cache.New(store, cfg.Cache, logger)
		green := color.New(color.FgGreen).SprintFunc()

		if invalidateStale {
			n, err := oracle.InvalidateStale(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s invalidated %d stale enrichments\n", green("✓"), n)
		}

		if invalidateFile != "" {
			n, err := oracle.InvalidateFile(cmd.Context(), invalidateFile)
			if err != nil {
				return err
			}
			fmt.Printf("%s invalidated %d chunks of file %s\n", green("✓"), n, invalidateFile)
		}
		return nil
	},
}

func init() {
	invalidateCmd.Flags().BoolVar(&invalidateStale, "stale", false, "sweep all stale enrichments")
	invalidateCmd.Flags().StringVar(&invalidateFile, "file", "", "invalidate one file's chunks")
	rootCmd.AddCommand(invalidateCmd)
}

package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var enrichForce bool

var enrichCmd = &cobra.Command{
	Use:   "enrich <chunk-id> [chunk-id...]",
	Short: "Enrich chunks on demand",
	Long: `Research the given chunks synchronously. A chunk with a valid cached
enrichment is served from the cache unless --force is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, err := buildPipeline()
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		if len(args) == 1 {
			e, err := pipe.enricher.EnrichChunk(cmd.Context(), args[0], enrichForce)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", green("✓"), args[0])
			fmt.Printf("  Summary:    %s\n", e.Summary)
			if e.Purpose != "" {
				fmt.Printf("  Purpose:    %s\n", e.Purpose)
			}
			fmt.Printf("  Complexity: %s\n", e.Complexity)
			fmt.Printf("  Tags:       %s\n", gray(strings.Join(e.Tags, ", ")))
			return nil
		}

		results := pipe.enricher.EnrichChunks(cmd.Context(), args)
		failed := 0
		for _, r := range results {
			if r.Success {
				fmt.Printf("%s %s: %s\n", green("✓"), r.ChunkID, r.Enrichment.Summary)
			} else {
				failed++
				fmt.Printf("%s %s: %s\n", red("✗"), r.ChunkID, r.Error)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d chunks failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichForce, "force", false, "bypass the cache and re-research")
	rootCmd.AddCommand(enrichCmd)
}

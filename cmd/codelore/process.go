package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one synchronous queue batch",
	Long: `Process a single batch of pending enrichment work and exit. Useful
for cron-driven setups and for manually draining the queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, err := buildPipeline()
		if err != nil {
			return err
		}

		result, err := pipe.runner.ProcessOnce(cmd.Context())
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		if result.Reason == "daily_limit" {
			fmt.Printf("%s daily quota exhausted, nothing processed\n", yellow("⚠"))
			return nil
		}
		fmt.Printf("%s processed %d, failed %d\n", green("✓"), result.Processed, result.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
}

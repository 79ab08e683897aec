package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the background enrichment loop",
	Long: `Start the queue runner. It processes pending enrichment work in
priority order, respecting the daily model-call quota, until interrupted
with Ctrl-C or SIGTERM. The in-flight item finishes before shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, err := buildPipeline()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s codelore runner started (batch %d, daily limit %d)\n",
			green("●"), cfg.Scheduler.BatchSize, cfg.Scheduler.DailyLimit)
		fmt.Println("  Press Ctrl-C to stop")

		pipe.runner.Start(ctx)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down, waiting for the current item...")
		pipe.runner.Stop()

		stats, err := pipe.runner.GetStats(cmd.Context())
		if err == nil {
			fmt.Printf("Session: %d enriched, %d failed\n",
				stats.SessionProcessed, stats.SessionFailed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

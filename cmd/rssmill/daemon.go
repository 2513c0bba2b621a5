package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func daemonCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the full pipeline in a loop with configurable interval",
		Long: `Continuously poll, ingest, and enrich on a timer. Designed for running
inside a container or as a background service. Handles SIGINT/SIGTERM for
graceful shutdown (finishes the current cycle).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if interval == 0 {
				interval = settings.PollInterval
			}
			log.Printf("rssmill daemon: starting with interval %s", interval)

			cycle := 1
			for {
				start := time.Now()
				log.Printf("rssmill daemon: cycle %d starting", cycle)

				if stats, err := engine.RunChain(ctx); err != nil {
					log.Printf("rssmill daemon: cycle %d error: %v", cycle, err)
				} else {
					log.Printf("rssmill daemon: cycle %d completed in %s (%d feeds, %d batches)",
						cycle, time.Since(start).Round(time.Millisecond),
						stats.FeedsIngested, stats.BatchesEnriched)
				}

				cycle++

				// Wait for the next tick or a shutdown signal.
				timer := time.NewTimer(interval)
				select {
				case <-sig:
					timer.Stop()
					log.Println("rssmill daemon: received shutdown signal, exiting")
					return nil
				case <-timer.C:
				}
			}
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "duration between cycles (default: poll_interval setting)")
	return cmd
}

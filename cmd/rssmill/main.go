package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rbarrimond/rssmill"
	"github.com/rbarrimond/rssmill/internal/config"
)

var (
	configPath string
	settings   config.Settings
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rssmill",
		Short: "RSS/Atom feed ingestion pipeline with AI enrichment",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			settings, err = config.Load(configPath)
			return err
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.yaml", "config file path")

	rootCmd.AddCommand(pollCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(enrichCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newEngine() (*rssmill.Engine, error) {
	return rssmill.NewEngine(rssmill.EngineConfig{Settings: settings})
}

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Check configured feeds for changes and enqueue the changed ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.Poll(cmd.Context()); err != nil {
				return fmt.Errorf("poll failed: %w", err)
			}
			fmt.Println("Poll complete")
			return nil
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [feed-url]",
		Short: "Ingest a feed URL, or drain the feed queue when no URL is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if len(args) == 1 {
				if err := engine.Ingest(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("ingest failed: %w", err)
				}
				fmt.Printf("Ingested %s\n", args[0])
				return nil
			}

			n, err := engine.IngestQueued(cmd.Context())
			if err != nil {
				return fmt.Errorf("ingest failed after %d feeds: %w", n, err)
			}
			fmt.Printf("Ingested %d queued feeds\n", n)
			return nil
		},
	}
}

func enrichCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enrich",
		Short: "Drain the entry queue, enriching every batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			n, err := engine.EnrichQueued(cmd.Context())
			if err != nil {
				return fmt.Errorf("enrich failed after %d batches: %w", n, err)
			}
			fmt.Printf("Enriched %d batches\n", n)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one full poll, ingest, and enrich pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			stats, err := engine.RunChain(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Run complete: %d feeds ingested, %d batches enriched\n",
				stats.FeedsIngested, stats.BatchesEnriched)
			return nil
		},
	}
}

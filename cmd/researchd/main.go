package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/splitleasesharath/slack-deep-research/internal/cmd/runner"
)

func main() {
	var opts runner.Options

	rootCmd := &cobra.Command{
		Use:   "researchd",
		Short: "Slack deep-research orchestrator",
		Long: "researchd watches a Slack channel for research requests, launches the\n" +
			"external deep-research job for each, and delivers finished reports back\n" +
			"to the requesting thread.",
	}
	rootCmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", os.Getenv("RESEARCHD_CONFIG"), "Path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "Data directory (defaults to the OS application data directory)")
	rootCmd.PersistentFlags().StringVar(&opts.Channel, "channel", "", "Slack channel ID to watch (overrides config)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Process at most one pending research request",
		RunE: func(cmd *cobra.Command, args []string) error {
			wait, _ := cmd.Flags().GetBool("wait")
			opts.Wait = wait
			return runner.RunOnce(context.Background(), opts)
		},
	}
	runCmd.Flags().Bool("wait", false, "Block until the deferred delivery completes or the wait ceiling elapses")
	rootCmd.AddCommand(runCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Run passes on the configured interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runner.Watch(context.Background(), opts)
		},
	}
	rootCmd.AddCommand(watchCmd)

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Pull recent channel history into the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runner.Ingest(context.Background(), opts, cmd.OutOrStdout())
		},
	}
	rootCmd.AddCommand(ingestCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show lifecycle counters for the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runner.Stats(context.Background(), opts, cmd.OutOrStdout())
		},
	}
	rootCmd.AddCommand(statsCmd)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and print effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runner.Check(opts, cmd.OutOrStdout())
		},
	}
	rootCmd.AddCommand(checkCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

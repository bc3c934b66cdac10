package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "traderadar",
		Short: "Collect and monitor trading research content from analyst feeds",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(runCmd())
	root.AddCommand(collectCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(jobsCmd())
	root.AddCommand(alertsCmd())
	root.AddCommand(symbolsCmd())
	root.AddCommand(checkCmd())

	return root
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the daemon: collectors, transcription worker, alerting and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func collectCmd() *cobra.Command {
	var sources []string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(sources)
		},
	}

	cmd.Flags().StringSliceVar(&sources, "source", nil, "specific sources to collect (e.g., kt_youtube,discord)")
	return cmd
}

func statusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show source health and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func jobsCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List transcription jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(status, limit)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, processing, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "max jobs to show")

	var retryAll bool
	retry := &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Reset failed jobs for another attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsRetry(args, retryAll)
		},
	}
	retry.Flags().BoolVar(&retryAll, "all", false, "retry every failed job")
	cmd.AddCommand(retry)

	return cmd
}

func alertsCmd() *cobra.Command {
	var (
		all   bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List pipeline alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlerts(all, limit)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include acknowledged alerts")
	cmd.Flags().IntVar(&limit, "limit", 20, "max alerts to show")

	var by string
	ack := &cobra.Command{
		Use:   "ack <alert-id>",
		Short: "Acknowledge an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlertsAck(args[0], by)
		},
	}
	ack.Flags().StringVar(&by, "by", "cli", "who is acknowledging")
	cmd.AddCommand(ack)

	return cmd
}

func symbolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "symbols [symbol]",
		Short: "Show confluence state for tracked symbols",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runSymbolDetail(args[0])
			}
			return runSymbols()
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Evaluate alert rules once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck()
		},
	}
}

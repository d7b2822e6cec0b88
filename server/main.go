package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "aisr-gateway: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aisr-gateway",
		Short: "Quota-enforcing gateway for the AI super-resolution service",
		Long: `aisr-gateway accepts base64 image uploads, enforces a per-client daily quota
backed by a durable ledger, and forwards valid images to the enhancement service.
Running it without a subcommand starts the HTTP server.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.AddCommand(
		newServeCmd(),
		newUsageCmd(),
		newMigrateCmd(),
		newConsumeUsageCmd(),
	)
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newUsageCmd() *cobra.Command {
	var listRecords bool
	cmd := &cobra.Command{
		Use:   "usage <identity>",
		Short: "Print today's usage for a client identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsage(cmd.Context(), cmd.OutOrStdout(), args[0], listRecords)
		},
	}
	cmd.Flags().BoolVar(&listRecords, "records", false, "Also list today's committed records")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}
}

func newConsumeUsageCmd() *cobra.Command {
	var consumerID string
	cmd := &cobra.Command{
		Use:   "consume-usage",
		Short: "Tail usage events from RabbitMQ into the log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsumeUsage(cmd.Context(), consumerID)
		},
	}
	cmd.Flags().StringVar(&consumerID, "consumer", "usage-audit", "AMQP consumer tag")
	return cmd
}

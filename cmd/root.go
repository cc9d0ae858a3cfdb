// Package cmd defines and implements the CLI commands for the starcrawler
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-star-crawler/internal/config"
	"github.com/JakeFAU/github-star-crawler/internal/logging"
)

var (
	cfgFile string

	// cfg and logger are populated by the root PersistentPreRunE before any
	// subcommand runs.
	cfg    config.Config
	logger *zap.Logger
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "starcrawler",
		Short: "Collects GitHub repository star counts at scale.",
		Long: `starcrawler enumerates public GitHub repositories through the GraphQL
search API, working around the 1000-result query cap by recursively
partitioning the search space, and records repositories and their star
counts in Postgres.`,

		SilenceUsage: true,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logger, err = logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if logger != nil {
				logger.Sync() //nolint:errcheck
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (defaults and CRAWLER_* env vars apply when unset)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newInitDBCmd())
	cmd.AddCommand(newExportCmd())

	return cmd
}

// Execute is the main entry point. The root context is cancelled on SIGINT
// or SIGTERM so an in-flight run can finalize its database record.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

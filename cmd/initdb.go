package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/github-star-crawler/internal/store/postgres"
)

// newInitDBCmd creates the 'initdb' subcommand, which applies the database
// schema and exits.
func newInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Applies the database schema",
		Long:  `Creates the crawl schema, tables, and indexes. Safe to re-run.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.DB.DSN == "" {
				return errors.New("db.dsn is required (set CRAWLER_DB_DSN)")
			}
			st, err := postgres.New(cmd.Context(), cfg.DB.DSN)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer st.Close()

			if err := st.InitSchema(cmd.Context()); err != nil {
				return fmt.Errorf("initialize schema: %w", err)
			}
			logger.Info("Database schema applied")
			return nil
		},
	}
}

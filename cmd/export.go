package cmd

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-star-crawler/internal/export"
)

// newExportCmd creates the 'export' subcommand, which dumps the crawl tables
// to CSV files plus a summary manifest.
func newExportCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dumps crawl tables to CSV",
		Long: `Exports the repositories, star snapshots, and crawl runs tables as
CSV files, with a summary.json manifest describing the dump.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.DB.DSN == "" {
				return errors.New("db.dsn is required (set CRAWLER_DB_DSN)")
			}
			pool, err := pgxpool.New(cmd.Context(), cfg.DB.DSN)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			summary, err := export.New(pool, logger).Dump(cmd.Context(), outDir)
			if err != nil {
				return fmt.Errorf("export database: %w", err)
			}
			logger.Info("Export complete",
				zap.String("dir", outDir),
				zap.Int("repositories", summary.RowCounts["repositories"]),
				zap.Int("snapshots", summary.RowCounts["repo_star_snapshots"]),
				zap.Int("runs", summary.RowCounts["crawl_runs"]),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "data/export", "output directory for CSV files")
	return cmd
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/github-star-crawler/internal/api"
	"github.com/JakeFAU/github-star-crawler/internal/crawler"
	"github.com/JakeFAU/github-star-crawler/internal/github"
	"github.com/JakeFAU/github-star-crawler/internal/store/postgres"
)

// maxFailureSleep caps the pause before retrying a failed continuous run, so
// a transient outage does not idle the crawler for a full cycle interval.
const maxFailureSleep = 15 * time.Minute

type crawlOptions struct {
	targetRepos int
	continuous  bool
	interval    time.Duration
	initDB      bool
	serve       bool
}

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs the star crawl",
		Long: `Runs one crawl pass (or a continuous loop) over the GitHub search
space, persisting repositories and star snapshots to Postgres.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.targetRepos, "target-repos", 0, "override crawl.target_repos from config")
	cmd.Flags().BoolVar(&opts.continuous, "continuous", false, "keep crawling on an interval instead of exiting after one run")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "override loop.interval_hours for continuous mode")
	cmd.Flags().BoolVar(&opts.initDB, "init-db", false, "apply the database schema before crawling")
	cmd.Flags().BoolVar(&opts.serve, "serve", false, "expose the HTTP status server while crawling")
	return cmd
}

func runCrawlCommand(ctx context.Context, opts *crawlOptions) error {
	if cfg.GitHub.Token == "" {
		return errors.New("github.token is required (set CRAWLER_GITHUB_TOKEN)")
	}
	if cfg.DB.DSN == "" {
		return errors.New("db.dsn is required (set CRAWLER_DB_DSN)")
	}

	st, err := postgres.New(ctx, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer st.Close()

	if opts.initDB {
		if err := st.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
		logger.Info("Database schema applied")
	}

	client := github.NewClient(cfg.ClientConfig(), logger)

	crawlCfg := cfg.CrawlerConfig()
	if opts.targetRepos > 0 {
		crawlCfg.TargetRepoCount = opts.targetRepos
	}
	c := crawler.New(crawlCfg, client, st, logger)

	interval := cfg.LoopInterval()
	if opts.interval > 0 {
		interval = opts.interval
	}

	g, ctx := errgroup.WithContext(ctx)
	if opts.serve {
		g.Go(func() error {
			return serveStatus(ctx, st)
		})
	}
	g.Go(func() error {
		if opts.continuous {
			return crawlLoop(ctx, c, interval)
		}
		_, err := c.Run(ctx)
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}
	logger.Info("Crawl command finished")
	return nil
}

// crawlLoop runs crawls on a fixed cadence until the context is cancelled:
// each cycle sleeps only the remainder of the interval after the run's own
// elapsed time. A failed run is retried sooner than a successful one.
func crawlLoop(ctx context.Context, c *crawler.Crawler, interval time.Duration) error {
	for {
		start := time.Now()
		_, err := c.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return err
		}
		if err != nil {
			logger.Error("Crawl run failed; will retry", zap.Error(err))
		}

		pause := nextPause(interval, time.Since(start), err != nil)
		logger.Info("Sleeping until next crawl cycle", zap.Duration("pause", pause))
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// nextPause computes the sleep before the next cycle. Successful runs stay
// on the fixed cadence by paying down their own elapsed time; failed runs
// retry after the capped failure pause.
func nextPause(interval, elapsed time.Duration, failed bool) time.Duration {
	if failed {
		return min(interval, maxFailureSleep)
	}
	pause := interval - elapsed
	if pause < 0 {
		return 0
	}
	return pause
}

// serveStatus runs the HTTP status server until the context is cancelled,
// then shuts it down gracefully.
func serveStatus(ctx context.Context, st *postgres.Store) error {
	server := api.NewServer(st, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Status server listening", zap.Int("port", cfg.Server.Port))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown status server: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	}
}

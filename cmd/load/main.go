// cmd/load/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"githarvest/internal/config"
	"githarvest/internal/logging"
	"githarvest/internal/model"
	"githarvest/internal/staging"
	"githarvest/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Load failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logger, logLevel := logging.New()

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ValidateStore(); err != nil {
		return err
	}
	logLevel.Set(logging.ParseLevel(cfg.LogLevel))
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Read the staged crawl output before touching the database
	bundle, err := staging.Read(cfg.StagingDir)
	if err != nil {
		return fmt.Errorf("failed to read staging directory %s: %w", cfg.StagingDir, err)
	}
	logger.Info("Staging files loaded",
		"dir", cfg.StagingDir,
		"repos", len(bundle.Repositories),
		"snapshots", len(bundle.Stats),
		"run_id", bundle.Run.ID.String())

	// 5. Connect and bootstrap the schema if needed
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	if err := dbpool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Database connection established")

	st := store.New(dbpool, logger)
	if err := st.Bootstrap(ctx, cfg.SchemaFile); err != nil {
		return err
	}

	// 6. Write both batches, then refresh the view; always record the run
	loadErr := writeBatches(ctx, st, bundle)
	if err := st.LogCrawlRun(ctx, auditRun(bundle, loadErr)); err != nil {
		logger.Error("Failed to record crawl run", "error", err)
	}
	if loadErr != nil {
		return loadErr
	}

	// 7. Export and summarize
	if err := st.ExportLatestStatsCSV(ctx, cfg.ExportFile); err != nil {
		return err
	}
	summary, err := st.Summary(ctx)
	if err != nil {
		return err
	}
	logger.Info("Load finished",
		"total_repos", summary.TotalRepos,
		"total_stats", summary.TotalStats,
		"avg_stars", summary.AvgStars,
		"max_stars", summary.MaxStars,
		"min_stars", summary.MinStars)

	return nil
}

// writeBatches performs the two independent batch writes concurrently, then
// refreshes the latest-stats view once both committed.
func writeBatches(ctx context.Context, st *store.Store, bundle *staging.Bundle) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := st.UpsertRepositories(gctx, bundle.Repositories)
		return err
	})
	g.Go(func() error {
		_, err := st.InsertSnapshots(gctx, bundle.Stats)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return st.RefreshLatestStats(ctx)
}

// auditRun maps a staged crawl manifest onto the two-state audit enum. A
// crawl that ended early and a load that broke are both recorded as failed,
// keeping whichever error message applies.
func auditRun(bundle *staging.Bundle, loadErr error) model.CrawlRun {
	run := bundle.Run
	if loadErr != nil {
		run.Status = model.RunStatusFailed
		run.ReposCrawled = 0
		run.ReposFailed = len(bundle.Repositories)
		msg := loadErr.Error()
		run.ErrorMessage = &msg
		return run
	}
	if run.Status != model.RunStatusCompleted {
		run.Status = model.RunStatusFailed
	}
	return run
}

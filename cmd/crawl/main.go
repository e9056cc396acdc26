// cmd/crawl/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"githarvest/internal/config"
	"githarvest/internal/crawler"
	"githarvest/internal/github"
	"githarvest/internal/logging"
	"githarvest/internal/model"
	"githarvest/internal/staging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Crawl failed", "error", err)
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
	if err := cfg.ValidateCrawler(); err != nil {
		return err
	}
	logLevel.Set(logging.ParseLevel(cfg.LogLevel))
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Crawl
	client := github.NewClient(cfg.GithubToken, cfg.GithubAPIURL, cfg.SearchQuery, logger)
	c := crawler.NewCrawler(client, logger, cfg.TargetRepoCount)
	result, crawlErr := c.Run(ctx)

	// 5. Stage whatever was collected. A failed run stages an empty bundle
	// so the load phase still records it in the audit table.
	manifest := model.CrawlRun{
		ID:           result.RunID,
		StartedAt:    result.StartedAt,
		CompletedAt:  result.CompletedAt,
		ReposCrawled: len(result.Repositories),
		ReposFailed:  result.Skipped,
		Status:       string(result.Status),
	}
	if crawlErr != nil {
		msg := crawlErr.Error()
		manifest.ErrorMessage = &msg
	}

	bundle := &staging.Bundle{
		Repositories: result.Repositories,
		Stats:        result.Stats,
		Run:          manifest,
	}
	if err := staging.Write(cfg.StagingDir, bundle); err != nil {
		return fmt.Errorf("failed to write staging files: %w", err)
	}
	logger.Info("Staged crawl output",
		"dir", cfg.StagingDir,
		"repos", len(result.Repositories),
		"run_id", manifest.ID.String(),
		"status", manifest.Status)

	if result.Status == crawler.StatusFailed {
		return crawlErr
	}
	if crawlErr != nil {
		logger.Warn("Crawl ended early, partial results staged", "error", crawlErr)
	}
	return nil
}

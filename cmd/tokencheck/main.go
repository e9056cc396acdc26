// cmd/tokencheck/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"githarvest/internal/config"
	"githarvest/internal/logging"
)

// tokencheck verifies the configured GitHub credential before a crawl is
// scheduled: it authenticates, reports who the token belongs to and how much
// quota is left, and exits non-zero on a rejected token.
func main() {
	if err := run(); err != nil {
		slog.Error("Token check failed", "error", err)
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

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Authenticate and fetch the token's identity
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: cfg.GithubToken},
	)
	gh := github.NewClient(oauth2.NewClient(ctx, ts))

	user, _, err := gh.Users.Get(ctx, "")
	if err != nil {
		return fmt.Errorf("token rejected by GitHub: %w", err)
	}
	logger.Info("Token accepted", "login", user.GetLogin())

	// 5. Report the remaining quota per API family
	limits, _, err := gh.RateLimit.Get(ctx)
	if err != nil {
		return fmt.Errorf("fetching rate limits: %w", err)
	}
	if core := limits.GetCore(); core != nil {
		logger.Info("REST quota",
			"remaining", core.Remaining,
			"limit", core.Limit,
			"reset_at", core.Reset.Time)
	}
	if gql := limits.GetGraphQL(); gql != nil {
		logger.Info("GraphQL quota",
			"remaining", gql.Remaining,
			"limit", gql.Limit,
			"reset_at", gql.Reset.Time)
	}
	return nil
}

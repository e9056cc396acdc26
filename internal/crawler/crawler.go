// internal/crawler/crawler.go
package crawler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"githarvest/internal/github"
	"githarvest/internal/mapper"
	"githarvest/internal/model"
)

// Courtesy pause between successful pages, independent of quota state.
const pageDelay = 500 * time.Millisecond

// Status describes how a crawl finished.
type Status string

const (
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusFailed             Status = "failed"
)

// PageFetcher is the slice of the GitHub client the crawler depends on.
type PageFetcher interface {
	FetchPage(ctx context.Context, cursor string) (*github.Page, error)
}

// Crawler walks the paginated repository search until the target count is
// reached or the result set is exhausted, accumulating mapped records along
// the way.
type Crawler struct {
	fetcher PageFetcher
	logger  *slog.Logger
	target  int

	// Injected for tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Result carries everything a crawl produced. Partial output from a run that
// ended early is returned here as well, never discarded. The run ID ties the
// crawl logs to the staged manifest and the audit row written later.
type Result struct {
	RunID        uuid.UUID
	Repositories []model.Repository
	Stats        []model.StatsSnapshot
	StartedAt    time.Time
	CompletedAt  time.Time
	PagesFetched int
	Skipped      int
	Status       Status
}

// NewCrawler creates a new Crawler instance.
func NewCrawler(fetcher PageFetcher, logger *slog.Logger, target int) *Crawler {
	return &Crawler{
		fetcher: fetcher,
		logger:  logger,
		target:  target,
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// Run crawls pages until the target count is collected, the search is
// exhausted, or a page fetch fails for good. The returned Result is never
// nil; when an error is returned alongside it, the Result still holds
// whatever was accumulated before the failure.
//
// The loop checks the target only after mapping a full page, so the final
// count may overshoot by up to one page width. The overshoot is kept.
func (c *Crawler) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.New(), StartedAt: c.now()}
	crawledAt := c.now().UTC()

	c.logger.Info("Starting crawl", "run_id", res.RunID.String(), "target", c.target)

	cursor := ""
	for len(res.Repositories) < c.target {
		if res.PagesFetched > 0 {
			if err := c.sleep(ctx, pageDelay); err != nil {
				return c.finish(res, err)
			}
		}

		page, err := c.fetcher.FetchPage(ctx, cursor)
		if err != nil {
			c.logger.Error("Page fetch failed, stopping crawl",
				"pages_fetched", res.PagesFetched,
				"repos_collected", len(res.Repositories),
				"error", err)
			return c.finish(res, err)
		}

		if len(page.Nodes) == 0 {
			c.logger.Info("Search returned no more repositories")
			break
		}

		repos, stats, skipped := mapper.MapNodes(page.Nodes, crawledAt)
		res.Repositories = append(res.Repositories, repos...)
		res.Stats = append(res.Stats, stats...)
		res.Skipped += skipped
		res.PagesFetched++

		c.logger.Info("Fetched page",
			"page", res.PagesFetched,
			"repos_collected", len(res.Repositories),
			"rate_remaining", page.RateRemaining)

		if !page.HasNextPage {
			c.logger.Info("Search exhausted")
			break
		}
		cursor = page.EndCursor
	}

	return c.finish(res, nil)
}

// finish stamps the completion time and derives the final state. A failed
// run that collected nothing is Failed; one that collected anything is
// PartiallyCompleted.
func (c *Crawler) finish(res *Result, err error) (*Result, error) {
	res.CompletedAt = c.now()

	if err == nil {
		res.Status = StatusCompleted
		c.logger.Info("Crawl completed",
			"repos", len(res.Repositories),
			"pages", res.PagesFetched,
			"skipped", res.Skipped,
			"elapsed", res.CompletedAt.Sub(res.StartedAt).String())
		return res, nil
	}

	if len(res.Repositories) > 0 {
		res.Status = StatusPartiallyCompleted
	} else {
		res.Status = StatusFailed
	}
	return res, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

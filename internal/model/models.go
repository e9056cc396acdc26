// internal/model/models.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// Crawl run statuses persisted to crawl_runs.
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Repository holds the identity of a GitHub repository, keyed by GitHub's
// stable numeric id. Mutable metadata is overwritten on every crawl; repo_id
// and created_at never change once observed.
type Repository struct {
	RepoID      int64     `json:"repo_id"`
	FullName    string    `json:"full_name"`
	OwnerLogin  string    `json:"owner_login"`
	RepoName    string    `json:"repo_name"`
	Description *string   `json:"description"`
	HTMLURL     string    `json:"html_url"`
	CreatedAt   time.Time `json:"created_at"`
	IsFork      bool      `json:"is_fork"`
	IsArchived  bool      `json:"is_archived"`
	Language    *string   `json:"language"`
}

// StatsSnapshot is one timestamped observation of a repository's counters.
// Snapshots are append-only; (RepoID, CrawledAt) identifies a row and every
// snapshot from the same run carries the same CrawledAt.
type StatsSnapshot struct {
	RepoID          int64     `json:"repo_id"`
	CrawledAt       time.Time `json:"crawled_at"`
	StarCount       int       `json:"star_count"`
	ForkCount       int       `json:"fork_count"`
	WatcherCount    int       `json:"watcher_count"`
	OpenIssuesCount int       `json:"open_issues_count"`
}

// CrawlRun records the outcome of a single crawl for auditing.
type CrawlRun struct {
	ID           uuid.UUID `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	ReposCrawled int       `json:"repos_crawled"`
	ReposFailed  int       `json:"repos_failed"`
	Status       string    `json:"status"`
	ErrorMessage *string   `json:"error_message"`
}

// LatestStat is a repository joined with its most recent snapshot, as
// exposed by the latest_repo_stats materialized view.
type LatestStat struct {
	RepoID          int64     `json:"repo_id"`
	FullName        string    `json:"full_name"`
	Language        *string   `json:"language"`
	StarCount       int       `json:"star_count"`
	ForkCount       int       `json:"fork_count"`
	WatcherCount    int       `json:"watcher_count"`
	OpenIssuesCount int       `json:"open_issues_count"`
	CrawledAt       time.Time `json:"crawled_at"`
}

// Summary aggregates the state of the database after a load.
type Summary struct {
	TotalRepos int64 `json:"total_repos"`
	TotalStats int64 `json:"total_stats"`
	AvgStars   int   `json:"avg_stars"`
	MaxStars   int   `json:"max_stars"`
	MinStars   int   `json:"min_stars"`
}

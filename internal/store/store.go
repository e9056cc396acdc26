// internal/store/store.go
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"githarvest/internal/model"
)

const (
	// Rows submitted to Postgres in one pipelined round trip.
	batchSize = 1000

	schemaName = "github_data"
)

const upsertRepositorySQL = `
	INSERT INTO github_data.repositories
		(repo_id, full_name, owner_login, repo_name, description,
		 html_url, created_at, is_fork, is_archived, language,
		 last_crawled_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	ON CONFLICT (repo_id)
	DO UPDATE SET
		full_name = EXCLUDED.full_name,
		owner_login = EXCLUDED.owner_login,
		repo_name = EXCLUDED.repo_name,
		description = EXCLUDED.description,
		html_url = EXCLUDED.html_url,
		is_fork = EXCLUDED.is_fork,
		is_archived = EXCLUDED.is_archived,
		language = EXCLUDED.language,
		last_crawled_at = EXCLUDED.last_crawled_at,
		updated_at = EXCLUDED.updated_at`

const insertSnapshotSQL = `
	INSERT INTO github_data.repo_statistics
		(repo_id, crawled_at, star_count, fork_count, watcher_count, open_issues_count)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (repo_id, crawled_at) DO NOTHING`

// Store persists crawl output to Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store on top of an existing connection pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// Bootstrap applies the schema file when the github_data schema does not
// exist yet. An existing schema is left untouched; this is an existence
// check, not a migration.
func (s *Store) Bootstrap(ctx context.Context, schemaFile string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.schemata
			WHERE schema_name = $1
		)`, schemaName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking for schema %s: %w", schemaName, err)
	}
	if exists {
		s.logger.Info("Schema already exists, skipping creation", "schema", schemaName)
		return nil
	}

	ddl, err := os.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("reading schema file: %w", err)
	}
	if _, err := s.pool.Exec(ctx, string(ddl)); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	s.logger.Info("Schema created", "schema", schemaName, "file", schemaFile)
	return nil
}

// UpsertRepositories inserts or refreshes repository rows inside a single
// transaction and returns the number of rows written. Mutable metadata and
// both bookkeeping timestamps are overwritten on conflict; repo_id and
// created_at never are.
func (s *Store) UpsertRepositories(ctx context.Context, repos []model.Repository) (int64, error) {
	if len(repos) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) // Rollback is a no-op if the transaction is already committed.

	var written int64
	for start := 0; start < len(repos); start += batchSize {
		chunk := repos[start:min(start+batchSize, len(repos))]
		batch := &pgx.Batch{}
		for _, r := range chunk {
			batch.Queue(upsertRepositorySQL,
				r.RepoID, r.FullName, r.OwnerLogin, r.RepoName, r.Description,
				r.HTMLURL, r.CreatedAt, r.IsFork, r.IsArchived, r.Language)
		}
		n, err := flushRepositoryBatch(ctx, tx, batch, chunk)
		if err != nil {
			return 0, err
		}
		written += n
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	s.logger.Info("Upserted repositories", "count", written)
	return written, nil
}

// InsertSnapshots appends statistics rows inside a single transaction and
// returns the number of rows actually inserted. A snapshot that already
// exists for (repo_id, crawled_at) is dropped silently, which keeps reruns
// idempotent.
func (s *Store) InsertSnapshots(ctx context.Context, stats []model.StatsSnapshot) (int64, error) {
	if len(stats) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var inserted int64
	for start := 0; start < len(stats); start += batchSize {
		chunk := stats[start:min(start+batchSize, len(stats))]
		batch := &pgx.Batch{}
		for _, st := range chunk {
			batch.Queue(insertSnapshotSQL,
				st.RepoID, st.CrawledAt, st.StarCount, st.ForkCount, st.WatcherCount, st.OpenIssuesCount)
		}
		n, err := flushSnapshotBatch(ctx, tx, batch, chunk)
		if err != nil {
			return 0, err
		}
		inserted += n
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	s.logger.Info("Inserted statistics snapshots", "submitted", len(stats), "inserted", inserted)
	return inserted, nil
}

// RefreshLatestStats recomputes the latest_repo_stats materialized view.
// Must run after every batch write that can change a repository's most
// recent snapshot.
func (s *Store) RefreshLatestStats(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `SELECT github_data.refresh_latest_stats()`); err != nil {
		return fmt.Errorf("refreshing latest stats: %w", err)
	}
	s.logger.Info("Materialized view refreshed")
	return nil
}

// LogCrawlRun appends one row to the crawl run audit table.
func (s *Store) LogCrawlRun(ctx context.Context, run model.CrawlRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO github_data.crawl_runs
			(id, started_at, completed_at, repos_crawled, repos_failed, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.StartedAt, run.CompletedAt, run.ReposCrawled, run.ReposFailed, run.Status, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("logging crawl run: %w", err)
	}
	return nil
}

// TopRepositories returns the limit most-starred repositories according to
// the latest refresh.
func (s *Store) TopRepositories(ctx context.Context, limit int) ([]model.LatestStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.repo_id, r.full_name, r.language,
		       s.star_count, s.fork_count, s.watcher_count, s.open_issues_count, s.crawled_at
		FROM github_data.repositories r
		JOIN github_data.latest_repo_stats s ON r.repo_id = s.repo_id
		ORDER BY s.star_count DESC, r.repo_id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []model.LatestStat
	for rows.Next() {
		var ls model.LatestStat
		if err := rows.Scan(&ls.RepoID, &ls.FullName, &ls.Language,
			&ls.StarCount, &ls.ForkCount, &ls.WatcherCount, &ls.OpenIssuesCount, &ls.CrawledAt); err != nil {
			return nil, err
		}
		stats = append(stats, ls)
	}
	return stats, rows.Err()
}

// Summary reports aggregate counts over the stored data.
func (s *Store) Summary(ctx context.Context) (*model.Summary, error) {
	var sum model.Summary
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM github_data.repositories),
			(SELECT COUNT(*) FROM github_data.repo_statistics),
			(SELECT COALESCE(AVG(star_count), 0)::INTEGER FROM github_data.latest_repo_stats),
			(SELECT COALESCE(MAX(star_count), 0) FROM github_data.latest_repo_stats),
			(SELECT COALESCE(MIN(star_count), 0) FROM github_data.latest_repo_stats)`,
	).Scan(&sum.TotalRepos, &sum.TotalStats, &sum.AvgStars, &sum.MaxStars, &sum.MinStars)
	if err != nil {
		return nil, fmt.Errorf("computing summary: %w", err)
	}
	return &sum, nil
}

// flushRepositoryBatch executes a queued repository batch and surfaces the
// first failing repo_id, so a broken load can be resumed by hand.
func flushRepositoryBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, chunk []model.Repository) (int64, error) {
	br := tx.SendBatch(ctx, batch)
	var written int64
	for _, r := range chunk {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("upserting repository %d (batch of %d): %w", r.RepoID, len(chunk), err)
		}
		written += tag.RowsAffected()
	}
	return written, br.Close()
}

func flushSnapshotBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, chunk []model.StatsSnapshot) (int64, error) {
	br := tx.SendBatch(ctx, batch)
	var inserted int64
	for _, st := range chunk {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("inserting snapshot for repository %d (batch of %d): %w", st.RepoID, len(chunk), err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, br.Close()
}

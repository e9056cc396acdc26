// internal/store/export.go
package store

import (
	"context"
	"fmt"
	"os"
)

const exportCopySQL = `COPY (
	SELECT
		r.repo_id,
		r.full_name,
		r.owner_login,
		r.repo_name,
		r.language,
		s.star_count,
		s.fork_count,
		s.watcher_count,
		s.open_issues_count,
		s.crawled_at
	FROM github_data.repositories r
	JOIN github_data.latest_repo_stats s ON r.repo_id = s.repo_id
	ORDER BY s.star_count DESC
) TO STDOUT WITH CSV HEADER`

// ExportLatestStatsCSV streams every repository joined with its latest
// snapshot into path as CSV, most-starred first.
func (s *Store) ExportLatestStatsCSV(ctx context.Context, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		f.Close()
		return err
	}
	defer conn.Release()

	tag, err := conn.Conn().PgConn().CopyTo(ctx, f, exportCopySQL)
	if err != nil {
		f.Close()
		return fmt.Errorf("exporting latest stats: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing export file: %w", err)
	}

	s.logger.Info("Exported latest stats", "file", path, "rows", tag.RowsAffected())
	return nil
}

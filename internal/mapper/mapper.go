// internal/mapper/mapper.go
package mapper

import (
	"time"

	"githarvest/internal/github"
	"githarvest/internal/model"
)

// MapNodes translates raw search nodes into repository rows and statistics
// snapshots stamped with the run's crawl timestamp. The API occasionally
// returns incomplete nodes; any node without a databaseId cannot be keyed
// and is dropped silently. The number of dropped nodes is returned.
func MapNodes(nodes []github.RepoNode, crawledAt time.Time) ([]model.Repository, []model.StatsSnapshot, int) {
	repos := make([]model.Repository, 0, len(nodes))
	stats := make([]model.StatsSnapshot, 0, len(nodes))
	skipped := 0

	for _, node := range nodes {
		if node.DatabaseID == 0 {
			skipped++
			continue
		}
		repos = append(repos, toRepository(node))
		stats = append(stats, toSnapshot(node, crawledAt))
	}

	return repos, stats, skipped
}

// toRepository translates a search node to our internal model.Repository.
// Missing optional fields stay nil; absent booleans default to false.
func toRepository(node github.RepoNode) model.Repository {
	var language *string
	if node.PrimaryLanguage != nil {
		name := node.PrimaryLanguage.Name
		language = &name
	}

	return model.Repository{
		RepoID:      node.DatabaseID,
		FullName:    node.NameWithOwner,
		OwnerLogin:  node.Owner.Login,
		RepoName:    node.Name,
		Description: node.Description,
		HTMLURL:     node.URL,
		CreatedAt:   node.CreatedAt,
		IsFork:      node.IsFork,
		IsArchived:  node.IsArchived,
		Language:    language,
	}
}

// toSnapshot translates a search node's counters to a model.StatsSnapshot.
// Absent counters default to zero.
func toSnapshot(node github.RepoNode, crawledAt time.Time) model.StatsSnapshot {
	return model.StatsSnapshot{
		RepoID:          node.DatabaseID,
		CrawledAt:       crawledAt,
		StarCount:       node.StargazerCount,
		ForkCount:       node.ForkCount,
		WatcherCount:    node.Watchers.TotalCount,
		OpenIssuesCount: node.Issues.TotalCount,
	}
}

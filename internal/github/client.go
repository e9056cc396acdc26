// internal/github/client.go
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"

	custom_errors "githarvest/internal/errors"
)

const (
	// Repositories requested per search page, the GraphQL maximum.
	pageSize = 100

	// Suspend the crawl when the reported quota drops below this many points.
	quotaFloor = 100
	// Safety margin added on top of the reported quota reset time.
	quotaResetMargin = 5 * time.Second
	// Fixed cooldown before retrying a 403, which GitHub uses for secondary
	// rate limits even when the quota counters disagree.
	forbiddenCooldown = 60 * time.Second

	// Each page is attempted at most this many times.
	maxAttempts = 3

	defaultBackoffInterval = 4 * time.Second
	defaultBackoffCap      = 10 * time.Second
)

const searchDocument = `
query($query: String!, $first: Int!, $after: String) {
  search(query: $query, type: REPOSITORY, first: $first, after: $after) {
    pageInfo {
      hasNextPage
      endCursor
    }
    nodes {
      ... on Repository {
        databaseId
        nameWithOwner
        owner {
          login
        }
        name
        description
        url
        createdAt
        isFork
        isArchived
        primaryLanguage {
          name
        }
        stargazerCount
        forkCount
        watchers {
          totalCount
        }
        issues(states: OPEN) {
          totalCount
        }
      }
    }
  }
  rateLimit {
    remaining
    resetAt
  }
}`

// Client executes paginated repository searches against the GitHub GraphQL
// API. It tracks the quota reported by each response and suspends before the
// next request when the budget runs low, so a single Client must drive at
// most one crawl at a time.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	searchQuery string
	logger      *slog.Logger

	rateRemaining int
	rateResetAt   time.Time

	backoffInterval time.Duration
	backoffCap      time.Duration

	// Injected for tests so waits can run against a controlled clock.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Page is one page of search results together with the quota state the API
// reported alongside it.
type Page struct {
	Nodes         []RepoNode
	HasNextPage   bool
	EndCursor     string
	RateRemaining int
	RateResetAt   time.Time
}

// RepoNode is the raw shape of a repository node in the search response.
type RepoNode struct {
	DatabaseID    int64  `json:"databaseId"`
	NameWithOwner string `json:"nameWithOwner"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
	Name            string    `json:"name"`
	Description     *string   `json:"description"`
	URL             string    `json:"url"`
	CreatedAt       time.Time `json:"createdAt"`
	IsFork          bool      `json:"isFork"`
	IsArchived      bool      `json:"isArchived"`
	PrimaryLanguage *struct {
		Name string `json:"name"`
	} `json:"primaryLanguage"`
	StargazerCount int `json:"stargazerCount"`
	ForkCount      int `json:"forkCount"`
	Watchers       struct {
		TotalCount int `json:"totalCount"`
	} `json:"watchers"`
	Issues struct {
		TotalCount int `json:"totalCount"`
	} `json:"issues"`
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token, endpoint, searchQuery string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		httpClient:  tc,
		endpoint:    endpoint,
		searchQuery: searchQuery,
		logger:      logger,
		// Full GraphQL budget until the first response says otherwise.
		rateRemaining:   5000,
		backoffInterval: defaultBackoffInterval,
		backoffCap:      defaultBackoffCap,
		now:             time.Now,
		sleep:           sleepCtx,
	}
}

// FetchPage fetches one page of the repository search, waiting out the rate
// limit first if the previous response reported the quota as nearly
// exhausted. An empty cursor fetches the first page. Transient failures are
// retried with exponential backoff; a GraphQL errors body is terminal and
// returned immediately.
func (c *Client) FetchPage(ctx context.Context, cursor string) (*Page, error) {
	if err := c.waitForQuota(ctx); err != nil {
		return nil, err
	}

	c.logger.Debug("Fetching search page", "cursor", cursor)

	var page *Page
	operation := func() error {
		p, err := c.executeOnce(ctx, cursor)
		if err != nil {
			var gqlErr *custom_errors.ErrGraphQL
			if errors.As(err, &gqlErr) {
				return backoff.Permanent(err)
			}
			var httpErr *custom_errors.ErrHTTPStatus
			if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusForbidden {
				c.logger.Warn("Received 403 from GitHub API, cooling down", "cooldown", forbiddenCooldown.String())
				if serr := c.sleep(ctx, forbiddenCooldown); serr != nil {
					return backoff.Permanent(serr)
				}
			}
			return err
		}
		page = p
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Retrying page fetch", "error", err, "backoff", wait.String())
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoffInterval
	b.MaxInterval = c.backoffCap
	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx)

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}

	c.rateRemaining = page.RateRemaining
	c.rateResetAt = page.RateResetAt
	return page, nil
}

// waitForQuota blocks until the quota reported by the previous response
// allows another request. If the reset time has already passed, the request
// goes through immediately.
func (c *Client) waitForQuota(ctx context.Context) error {
	if c.rateRemaining >= quotaFloor {
		return nil
	}
	wait := c.rateResetAt.Sub(c.now())
	if wait <= 0 {
		return nil
	}
	wait += quotaResetMargin
	c.logger.Warn("Rate limit low, waiting for reset",
		"remaining", c.rateRemaining,
		"reset_at", c.rateResetAt.Format(time.RFC3339),
		"wait", wait.String())
	return c.sleep(ctx, wait)
}

// executeOnce performs a single request/parse cycle without any retry or
// quota handling.
func (c *Client) executeOnce(ctx context.Context, cursor string) (*Page, error) {
	body, err := json.Marshal(graphQLRequest{
		Query: searchDocument,
		Variables: map[string]any{
			"query": c.searchQuery,
			"first": pageSize,
			"after": cursorValue(cursor),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &custom_errors.ErrHTTPStatus{StatusCode: resp.StatusCode, Body: truncateBody(payload)}
	}

	var decoded graphQLResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		messages := make([]string, len(decoded.Errors))
		for i, e := range decoded.Errors {
			messages[i] = e.Message
		}
		return nil, &custom_errors.ErrGraphQL{Messages: messages}
	}

	search := decoded.Data.Search
	return &Page{
		Nodes:         search.Nodes,
		HasNextPage:   search.PageInfo.HasNextPage,
		EndCursor:     search.PageInfo.EndCursor,
		RateRemaining: decoded.Data.RateLimit.Remaining,
		RateResetAt:   decoded.Data.RateLimit.ResetAt,
	}, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data struct {
		Search struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Nodes []RepoNode `json:"nodes"`
		} `json:"search"`
		RateLimit struct {
			Remaining int       `json:"remaining"`
			ResetAt   time.Time `json:"resetAt"`
		} `json:"rateLimit"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// cursorValue turns the empty first-page cursor into a GraphQL null.
func cursorValue(cursor string) any {
	if cursor == "" {
		return nil
	}
	return cursor
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
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

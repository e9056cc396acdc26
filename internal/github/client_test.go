// internal/github/client_test.go
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custom_errors "githarvest/internal/errors"
)

const testNode = `{
	"databaseId": 101,
	"nameWithOwner": "golang/go",
	"owner": {"login": "golang"},
	"name": "go",
	"description": "The Go programming language",
	"url": "https://github.com/golang/go",
	"createdAt": "2014-08-19T04:33:40Z",
	"isFork": false,
	"isArchived": false,
	"primaryLanguage": {"name": "Go"},
	"stargazerCount": 120000,
	"forkCount": 17000,
	"watchers": {"totalCount": 3300},
	"issues": {"totalCount": 9000}
}`

func searchPage(nodes string, hasNext bool, cursor string, remaining int, resetAt time.Time) string {
	return fmt.Sprintf(`{
		"data": {
			"search": {
				"pageInfo": {"hasNextPage": %t, "endCursor": %q},
				"nodes": [%s]
			},
			"rateLimit": {"remaining": %d, "resetAt": %q}
		}
	}`, hasNext, cursor, nodes, remaining, resetAt.UTC().Format(time.RFC3339))
}

// setupTestClient creates a httptest server and a client pointing to it.
// Waits are recorded rather than slept so failure cases stay fast.
func setupTestClient(t *testing.T, handler http.Handler) (*Client, *[]time.Duration) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	// We can pass an empty token because we are not authenticating to the real GitHub.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := NewClient("", server.URL, "stars:>1", logger)

	client.backoffInterval = time.Millisecond
	client.backoffCap = 5 * time.Millisecond

	slept := &[]time.Duration{}
	client.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}

	return client, slept
}

func TestClient_FetchPage(t *testing.T) {
	t.Run("parses a page and tracks quota state", func(t *testing.T) {
		resetAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			fmt.Fprint(w, searchPage(testNode, true, "CURSOR1", 4321, resetAt))
		})
		client, _ := setupTestClient(t, handler)

		page, err := client.FetchPage(context.Background(), "")

		require.NoError(t, err)
		require.Len(t, page.Nodes, 1)
		node := page.Nodes[0]
		assert.Equal(t, int64(101), node.DatabaseID)
		assert.Equal(t, "golang/go", node.NameWithOwner)
		assert.Equal(t, "golang", node.Owner.Login)
		require.NotNil(t, node.PrimaryLanguage)
		assert.Equal(t, "Go", node.PrimaryLanguage.Name)
		assert.Equal(t, 120000, node.StargazerCount)
		assert.Equal(t, 3300, node.Watchers.TotalCount)
		assert.Equal(t, 9000, node.Issues.TotalCount)

		assert.True(t, page.HasNextPage)
		assert.Equal(t, "CURSOR1", page.EndCursor)
		assert.Equal(t, 4321, page.RateRemaining)
		assert.Equal(t, 4321, client.rateRemaining)
		assert.True(t, client.rateResetAt.Equal(resetAt))
	})

	t.Run("sends a null cursor first, then the returned one", func(t *testing.T) {
		var afters []any
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Variables map[string]any `json:"variables"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			afters = append(afters, req.Variables["after"])
			assert.Equal(t, "stars:>1", req.Variables["query"])
			assert.Equal(t, float64(100), req.Variables["first"])
			fmt.Fprint(w, searchPage(testNode, true, "CURSOR1", 4999, time.Now().Add(time.Hour)))
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.FetchPage(context.Background(), "")
		require.NoError(t, err)
		_, err = client.FetchPage(context.Background(), "CURSOR1")
		require.NoError(t, err)

		require.Len(t, afters, 2)
		assert.Nil(t, afters[0])
		assert.Equal(t, "CURSOR1", afters[1])
	})

	t.Run("retries on a server error and succeeds", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&requestCount, 1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable) // Fail first time
				return
			}
			fmt.Fprint(w, searchPage(testNode, false, "", 4999, time.Now().Add(time.Hour)))
		})
		client, _ := setupTestClient(t, handler)

		page, err := client.FetchPage(context.Background(), "")

		require.NoError(t, err)
		assert.Len(t, page.Nodes, 1)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount), "should have made two requests")
	})

	t.Run("fails after max attempts on a persistent server error", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.WriteHeader(http.StatusInternalServerError)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.FetchPage(context.Background(), "")

		require.Error(t, err)
		var httpErr *custom_errors.ErrHTTPStatus
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
		assert.Equal(t, int32(maxAttempts), atomic.LoadInt32(&requestCount))
	})

	t.Run("does not retry a graphql errors body", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			fmt.Fprint(w, `{"errors": [{"message": "Something went wrong"}]}`)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.FetchPage(context.Background(), "")

		require.Error(t, err)
		var gqlErr *custom_errors.ErrGraphQL
		require.ErrorAs(t, err, &gqlErr)
		assert.Equal(t, []string{"Something went wrong"}, gqlErr.Messages)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount), "graphql errors must be terminal")
	})

	t.Run("cools down after a 403 and retries", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&requestCount, 1) == 1 {
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprint(w, `{"message": "API rate limit exceeded"}`)
				return
			}
			fmt.Fprint(w, searchPage(testNode, false, "", 4999, time.Now().Add(time.Hour)))
		})
		client, slept := setupTestClient(t, handler)

		_, err := client.FetchPage(context.Background(), "")

		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount))
		assert.Contains(t, *slept, forbiddenCooldown)
	})

	t.Run("waits for the quota reset before fetching", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		resetAt := now.Add(30 * time.Minute)
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, searchPage(testNode, true, "CURSOR1", 50, resetAt))
		})
		client, slept := setupTestClient(t, handler)
		client.now = func() time.Time { return now }

		// First page reports the quota as nearly exhausted.
		_, err := client.FetchPage(context.Background(), "")
		require.NoError(t, err)
		assert.Empty(t, *slept)

		// The next fetch must wait until the reset plus the safety margin.
		_, err = client.FetchPage(context.Background(), "CURSOR1")
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{30*time.Minute + quotaResetMargin}, *slept)
	})

	t.Run("skips the quota wait when the reset has passed", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, searchPage(testNode, true, "CURSOR1", 50, now.Add(-time.Minute)))
		})
		client, slept := setupTestClient(t, handler)
		client.now = func() time.Time { return now }

		_, err := client.FetchPage(context.Background(), "")
		require.NoError(t, err)
		_, err = client.FetchPage(context.Background(), "CURSOR1")
		require.NoError(t, err)

		assert.Empty(t, *slept)
	})
}

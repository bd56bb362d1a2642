package xclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper to create client pointed at a test server
func newTestClient(ts *httptest.Server) *HTTPClient {
	c := NewHTTPClient("test", Options{BaseURL: ts.URL, RPS: 1000, Burst: 100, BaseBackoff: 5 * time.Millisecond})
	c.httpClient = ts.Client()
	return c
}

func TestDoWithRetryRetries5xx(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/test", nil)
	resp, err := c.doWithRetry(context.Background(), "/test", req, 3)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestDoWithRetryGivesUpAsUnreachable(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/test", nil)
	_, err := c.doWithRetry(context.Background(), "/test", req, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreachable))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestRateLimitIsNotRetried(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.GetUserByUsername(context.Background(), "solana")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.True(t, IsSoft(err))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 30*time.Second, apiErr.RetryAfter)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestGetUserByUsernameDecodesSnapshot(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/by/username/solana", r.URL.Path)
		assert.Equal(t, "Bearer test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":{"id":"42","username":"solana","name":"Solana",
			"created_at":"2018-02-01T00:00:00.000Z","description":"blockchain protocol",
			"public_metrics":{"followers_count":1500,"following_count":800,"tweet_count":90,"listed_count":3}}}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	snap, err := c.GetUserByUsername(context.Background(), "@solana")
	require.NoError(t, err)
	assert.Equal(t, "42", snap.ID)
	assert.Equal(t, 1500, snap.FollowersCount)
	assert.Equal(t, 800, snap.FollowingCount)
	assert.Equal(t, "blockchain protocol", snap.Bio)
	assert.Equal(t, 2018, snap.CreatedAt.Year())
}

func TestGetUserWithoutDataIsNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"title":"Not Found Error","detail":"Could not find user with username: [ghost]."}]}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.GetUserByUsername(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, IsSoft(err))
}

func TestForbiddenIsSoft(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.GetUserTweets(context.Background(), "42", 20)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.True(t, IsSoft(err))
}

func TestSearchRecentDecodesReplyReferences(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `"riddle me this" -is:retweet is:reply`, r.URL.Query().Get("query"))
		assert.NotEmpty(t, r.URL.Query().Get("start_time"))
		_, _ = w.Write([]byte(`{
			"data":[{"id":"100","text":"@bot riddle me this","author_id":"1","in_reply_to_user_id":"2",
				"referenced_tweets":[{"type":"replied_to","id":"99"}]}],
			"includes":{"users":[{"id":"1","username":"asker"},{"id":"2","username":"target"}]},
			"meta":{"newest_id":"100"}}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	res, err := c.SearchRecentTweetsSince(context.Background(), `"riddle me this" -is:retweet is:reply`, 10, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, res.Posts, 1)
	p := res.Posts[0]
	assert.True(t, p.IsReply())
	assert.Equal(t, "99", p.InReplyToPostID)
	assert.Equal(t, "2", p.InReplyToUserID)
	assert.Equal(t, "target", res.Users["2"].Username)
}

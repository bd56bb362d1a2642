package xclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"rugguard/internal/metrics"
	"rugguard/internal/model"
)

// XClient is the read side of the X API we depend on.
type XClient interface {
	GetUserByUsername(ctx context.Context, username string) (model.AccountSnapshot, error)
	GetUserByID(ctx context.Context, id string) (model.AccountSnapshot, error)
	GetUserTweets(ctx context.Context, userID string, limit int) ([]model.RecentPost, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]model.User, error)
	GetFollowers(ctx context.Context, userID string, limit int) ([]model.User, error)
	SearchRecentTweetsSince(ctx context.Context, query string, limit int, since time.Time) (SearchResult, error)
}

// SearchResult holds matched posts plus the users expanded from author and reply references.
type SearchResult struct {
	Posts []model.Post
	Users map[string]model.User
}

// Options tunes transport behaviour. Zero values select defaults.
type Options struct {
	BaseURL     string
	RPS         float64
	Burst       int
	MaxAttempts int
	BaseBackoff time.Duration
	Timeout     time.Duration
}

// HTTPClient is a bearer-token client for X API v2.
type HTTPClient struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
}

const userFields = "user.fields=public_metrics,created_at,verified,description"

func NewHTTPClient(bearerToken string, opts Options) *HTTPClient {
	c := &HTTPClient{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		bearerToken: bearerToken,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		limiter:     newLimiter(opts.RPS, opts.Burst),
		maxAttempts: opts.MaxAttempts,
		baseBackoff: opts.BaseBackoff,
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.twitter.com/2"
	}
	if c.httpClient.Timeout <= 0 {
		c.httpClient.Timeout = 15 * time.Second
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 3
	}
	if c.baseBackoff <= 0 {
		c.baseBackoff = 500 * time.Millisecond
	}
	return c
}

func (c *HTTPClient) auth(req *http.Request) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	req.Header.Set("Accept", "application/json")
}

type apiUser struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Username      string    `json:"username"`
	CreatedAt     time.Time `json:"created_at"`
	Verified      bool      `json:"verified"`
	Description   string    `json:"description"`
	PublicMetrics struct {
		FollowersCount int `json:"followers_count"`
		FollowingCount int `json:"following_count"`
		TweetCount     int `json:"tweet_count"`
		ListedCount    int `json:"listed_count"`
	} `json:"public_metrics"`
}

func (u apiUser) snapshot() model.AccountSnapshot {
	return model.AccountSnapshot{
		ID:             u.ID,
		Username:       u.Username,
		Name:           u.Name,
		Bio:            u.Description,
		CreatedAt:      u.CreatedAt,
		FollowersCount: max(0, u.PublicMetrics.FollowersCount),
		FollowingCount: max(0, u.PublicMetrics.FollowingCount),
		PostCount:      max(0, u.PublicMetrics.TweetCount),
		ListedCount:    max(0, u.PublicMetrics.ListedCount),
		Verified:       u.Verified,
	}
}

func (u apiUser) ref() model.User {
	return model.User{ID: u.ID, Username: u.Username, Name: u.Name}
}

type apiProblem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

// GetUserByUsername looks up a profile snapshot by handle.
func (c *HTTPClient) GetUserByUsername(ctx context.Context, username string) (model.AccountSnapshot, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return model.AccountSnapshot{}, errors.New("empty username")
	}
	u := fmt.Sprintf("%s/users/by/username/%s?%s", c.baseURL, url.PathEscape(username), userFields)
	return c.getUser(ctx, "/users/by/username", u)
}

// GetUserByID looks up a profile snapshot by numeric id.
func (c *HTTPClient) GetUserByID(ctx context.Context, id string) (model.AccountSnapshot, error) {
	if id == "" {
		return model.AccountSnapshot{}, errors.New("empty user id")
	}
	u := fmt.Sprintf("%s/users/%s?%s", c.baseURL, url.PathEscape(id), userFields)
	return c.getUser(ctx, "/users/:id", u)
}

func (c *HTTPClient) getUser(ctx context.Context, endpoint, u string) (model.AccountSnapshot, error) {
	var raw struct {
		Data   apiUser      `json:"data"`
		Errors []apiProblem `json:"errors"`
	}
	if err := c.getJSON(ctx, endpoint, u, &raw); err != nil {
		return model.AccountSnapshot{}, err
	}
	// v2 answers 200 with an errors array for unknown or suspended users
	if raw.Data.ID == "" {
		detail := ""
		if len(raw.Errors) > 0 {
			detail = raw.Errors[0].Detail
		}
		return model.AccountSnapshot{}, &APIError{Endpoint: endpoint, Status: http.StatusOK, Kind: ErrNotFound, Err: errors.New(detail)}
	}
	return raw.Data.snapshot(), nil
}

// GetUserTweets returns the user's own recent tweets, excluding retweets and replies.
func (c *HTTPClient) GetUserTweets(ctx context.Context, userID string, limit int) ([]model.RecentPost, error) {
	u := fmt.Sprintf("%s/users/%s/tweets?max_results=%d&tweet.fields=created_at,public_metrics&exclude=retweets,replies",
		c.baseURL, url.PathEscape(userID), clamp(limit, 5, 100))
	var raw struct {
		Data []struct {
			ID            string    `json:"id"`
			Text          string    `json:"text"`
			CreatedAt     time.Time `json:"created_at"`
			PublicMetrics struct {
				LikeCount    int `json:"like_count"`
				ReplyCount   int `json:"reply_count"`
				RetweetCount int `json:"retweet_count"`
				QuoteCount   int `json:"quote_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/users/:id/tweets", u, &raw); err != nil {
		return nil, err
	}
	out := make([]model.RecentPost, 0, len(raw.Data))
	for _, d := range raw.Data {
		out = append(out, model.RecentPost{
			ID:           d.ID,
			Text:         d.Text,
			CreatedAt:    d.CreatedAt,
			LikeCount:    d.PublicMetrics.LikeCount,
			ReplyCount:   d.PublicMetrics.ReplyCount,
			RetweetCount: d.PublicMetrics.RetweetCount,
			QuoteCount:   d.PublicMetrics.QuoteCount,
		})
	}
	return out, nil
}

// GetUsersByIDs fetches user references for the given ids in one request.
func (c *HTTPClient) GetUsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	// API accepts up to 100 ids per call
	if len(ids) > 100 {
		ids = ids[:100]
	}
	u := fmt.Sprintf("%s/users?ids=%s", c.baseURL, url.QueryEscape(strings.Join(ids, ",")))
	var raw struct {
		Data []apiUser `json:"data"`
	}
	if err := c.getJSON(ctx, "/users", u, &raw); err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(raw.Data))
	for _, d := range raw.Data {
		out = append(out, d.ref())
	}
	return out, nil
}

// GetFollowers returns a single page of the user's followers.
func (c *HTTPClient) GetFollowers(ctx context.Context, userID string, limit int) ([]model.User, error) {
	u := fmt.Sprintf("%s/users/%s/followers?max_results=%d", c.baseURL, url.PathEscape(userID), clamp(limit, 1, 1000))
	var raw struct {
		Data []apiUser `json:"data"`
	}
	if err := c.getJSON(ctx, "/users/:id/followers", u, &raw); err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(raw.Data))
	for _, d := range raw.Data {
		out = append(out, d.ref())
	}
	return out, nil
}

// SearchRecentTweetsSince searches recent tweets created at or after since.
func (c *HTTPClient) SearchRecentTweetsSince(ctx context.Context, query string, limit int, since time.Time) (SearchResult, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("max_results", fmt.Sprint(clamp(limit, 10, 100)))
	q.Set("tweet.fields", "created_at,author_id,conversation_id,in_reply_to_user_id,referenced_tweets,lang")
	q.Set("expansions", "author_id,in_reply_to_user_id")
	if !since.IsZero() {
		q.Set("start_time", since.UTC().Format(time.RFC3339))
	}
	u := c.baseURL + "/tweets/search/recent?" + q.Encode()
	var raw struct {
		Data []struct {
			ID               string    `json:"id"`
			Text             string    `json:"text"`
			AuthorID         string    `json:"author_id"`
			CreatedAt        time.Time `json:"created_at"`
			ConversationID   string    `json:"conversation_id"`
			InReplyToUserID  string    `json:"in_reply_to_user_id"`
			Lang             string    `json:"lang"`
			ReferencedTweets []struct {
				Type string `json:"type"`
				ID   string `json:"id"`
			} `json:"referenced_tweets"`
		} `json:"data"`
		Includes struct {
			Users []apiUser `json:"users"`
		} `json:"includes"`
	}
	if err := c.getJSON(ctx, "/tweets/search/recent", u, &raw); err != nil {
		return SearchResult{}, err
	}
	res := SearchResult{
		Posts: make([]model.Post, 0, len(raw.Data)),
		Users: make(map[string]model.User, len(raw.Includes.Users)),
	}
	for _, d := range raw.Data {
		p := model.Post{
			ID:              d.ID,
			AuthorID:        d.AuthorID,
			Text:            d.Text,
			CreatedAt:       d.CreatedAt,
			ConversationID:  d.ConversationID,
			InReplyToUserID: d.InReplyToUserID,
			Language:        d.Lang,
		}
		for _, ref := range d.ReferencedTweets {
			switch ref.Type {
			case "replied_to":
				p.InReplyToPostID = ref.ID
			case "retweeted":
				p.IsRetweet = true
			}
		}
		res.Posts = append(res.Posts, p)
	}
	for _, u := range raw.Includes.Users {
		res.Users[u.ID] = u.ref()
	}
	return res, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, endpoint, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.auth(req)
	return c.send(ctx, endpoint, req, c.maxAttempts, out)
}

// send waits on the limiter, performs the request and decodes a successful body into out.
func (c *HTTPClient) send(ctx context.Context, endpoint string, req *http.Request, attempts int, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.doWithRetry(ctx, endpoint, req, attempts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := statusError(endpoint, resp); err != nil {
		metrics.IncAPIError(endpoint, kindLabel(err))
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", endpoint, err)
	}
	return nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// doWithRetry retries transport errors and 5xx responses with exponential backoff.
// 429 is handed back untouched: rate limits are deferred to the next poll tick.
func (c *HTTPClient) doWithRetry(ctx context.Context, endpoint string, req *http.Request, attempts int) (*http.Response, error) {
	if attempts <= 0 {
		attempts = 1
	}
	backoff := c.baseBackoff
	var lastErr error
	lastStatus := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			metrics.IncAPIRetry(endpoint)
			// jitter +/-20%
			wait := backoff
			if jitter := time.Duration(float64(wait) * 0.2); jitter > 0 {
				wait = wait - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter))
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
		r := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			r.Body = body
		}
		resp, err := c.httpClient.Do(r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 && resp.StatusCode <= 599 {
			lastStatus = resp.StatusCode
			_ = resp.Body.Close()
			continue
		}
		return resp, nil
	}
	metrics.IncAPIError(endpoint, "unreachable")
	return nil, &APIError{Endpoint: endpoint, Status: lastStatus, Kind: ErrUnreachable, Err: lastErr}
}

func kindLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	default:
		return "other"
	}
}

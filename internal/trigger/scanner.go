package trigger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"rugguard/internal/logging"
	"rugguard/internal/metrics"
	"rugguard/internal/model"
	"rugguard/internal/util"
	"rugguard/internal/xclient"
)

// overlap re-searches a short window before the last cursor; the processed set drops repeats.
const overlap = 30 * time.Second

type ScannerOptions struct {
	// Search page size, 10..100
	MaxResults int
	// Processed ids kept before the oldest is evicted
	Capacity int
	// How far back the first scan looks
	Lookback time.Duration
	// Bot handle; its own posts are never triggers
	SelfUsername string
}

// Scanner searches for new trigger replies since the last successful scan.
type Scanner struct {
	client     xclient.XClient
	det        *Detector
	processed  *lru.Cache[string, time.Time]
	maxResults int
	lookback   time.Duration
	self       string
	now        func() time.Time

	mu    sync.Mutex
	since time.Time
}

func NewScanner(client xclient.XClient, det *Detector, opts ScannerOptions) (*Scanner, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = 1000
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 15 * time.Minute
	}
	cache, err := lru.New[string, time.Time](opts.Capacity)
	if err != nil {
		return nil, fmt.Errorf("processed set: %w", err)
	}
	return &Scanner{
		client:     client,
		det:        det,
		processed:  cache,
		maxResults: opts.MaxResults,
		lookback:   opts.Lookback,
		self:       util.NormalizeUsername(opts.SelfUsername),
		now:        time.Now,
	}, nil
}

// Query is the search expression sent to the API.
func (s *Scanner) Query() string {
	return `"` + s.det.Phrase() + `" -is:retweet is:reply`
}

// Since returns the current search cursor.
func (s *Scanner) Since() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.since
}

// Scan returns unprocessed triggers, oldest first. On any search error (rate limits
// included) the cursor stays put so the next scan covers the same window.
func (s *Scanner) Scan(ctx context.Context) ([]Target, error) {
	start := s.now()
	s.mu.Lock()
	since := s.since
	s.mu.Unlock()
	if since.IsZero() {
		since = start.Add(-s.lookback)
	}

	res, err := s.client.SearchRecentTweetsSince(ctx, s.Query(), s.maxResults, since)
	if err != nil {
		return nil, fmt.Errorf("search triggers: %w", err)
	}

	users := res.Users
	if users == nil {
		users = map[string]model.User{}
	}
	var targets []Target
	missing := map[string]struct{}{}
	for _, p := range res.Posts {
		t, ok := s.det.Match(p)
		if !ok || s.processed.Contains(p.ID) {
			continue
		}
		if u, ok := users[t.AuthorID]; ok {
			t.AuthorUsername = u.Username
		}
		if s.self != "" && util.NormalizeUsername(t.AuthorUsername) == s.self {
			continue
		}
		if u, ok := users[t.UserID]; ok {
			t.Username = u.Username
		} else if t.UserID != "" {
			missing[t.UserID] = struct{}{}
		}
		targets = append(targets, t)
	}

	if len(missing) > 0 {
		resolved, err := s.resolve(ctx, missing)
		if err != nil {
			// targets still carry the user id, which is enough to analyze
			logging.Warn("trigger_resolve_users_failed", map[string]any{"error": err.Error(), "missing": len(missing)})
		}
		for i := range targets {
			if targets[i].Username == "" {
				targets[i].Username = resolved[targets[i].UserID].Username
			}
		}
	}

	sort.SliceStable(targets, func(i, j int) bool {
		if !targets[i].CreatedAt.Equal(targets[j].CreatedAt) {
			return targets[i].CreatedAt.Before(targets[j].CreatedAt)
		}
		return targets[i].TriggerPostID < targets[j].TriggerPostID
	})

	s.mu.Lock()
	s.since = start.Add(-overlap)
	s.mu.Unlock()
	metrics.TriggersDetected.Add(float64(len(targets)))
	return targets, nil
}

// resolve maps user ids to users using batched lookups.
func (s *Scanner) resolve(ctx context.Context, ids map[string]struct{}) (map[string]model.User, error) {
	arr := make([]string, 0, len(ids))
	for id := range ids {
		arr = append(arr, id)
	}
	sort.Strings(arr)
	out := make(map[string]model.User, len(arr))
	for i := 0; i < len(arr); i += 100 {
		end := min(i+100, len(arr))
		users, err := s.client.GetUsersByIDs(ctx, arr[i:end])
		if err != nil {
			return out, err
		}
		for _, u := range users {
			out[u.ID] = u
		}
	}
	return out, nil
}

// MarkProcessed records a trigger as handled; it will not be returned again
// until evicted by newer entries.
func (s *Scanner) MarkProcessed(postID string) {
	s.processed.Add(postID, s.now())
}

func (s *Scanner) IsProcessed(postID string) bool {
	return s.processed.Contains(postID)
}

// ProcessedCount is the number of remembered trigger ids.
func (s *Scanner) ProcessedCount() int {
	return s.processed.Len()
}

package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rugguard/internal/logging"
	"rugguard/internal/model"
	"rugguard/internal/util"
	"rugguard/internal/xclient"
)

const (
	MaxRecentPosts = 20
	MaxFollowers   = 100
)

// ErrNotFound is returned when the account does not exist or is suspended.
var ErrNotFound = errors.New("profile: account not found")

// Identifier names an account by id or by username. ID wins when both are set.
type Identifier struct {
	ID       string
	Username string
}

func ByID(id string) Identifier { return Identifier{ID: strings.TrimSpace(id)} }
func ByUsername(username string) Identifier {
	return Identifier{Username: util.NormalizeUsername(username)}
}

func (i Identifier) String() string {
	if i.ID != "" {
		return "id:" + i.ID
	}
	return "@" + i.Username
}

func (i Identifier) Empty() bool { return i.ID == "" && i.Username == "" }

// Fixture is a canned account used instead of the live API.
type Fixture struct {
	Snapshot  model.AccountSnapshot
	Posts     []model.RecentPost
	Followers []string
}

// OverrideSource is consulted before every live fetch.
type OverrideSource interface {
	Lookup(id Identifier) (Fixture, bool)
}

// Fetcher reads account snapshots and activity through the X client.
type Fetcher struct {
	client    xclient.XClient
	overrides OverrideSource
}

func NewFetcher(client xclient.XClient, overrides OverrideSource) *Fetcher {
	return &Fetcher{client: client, overrides: overrides}
}

func (f *Fetcher) lookup(id Identifier) (Fixture, bool) {
	if f.overrides == nil {
		return Fixture{}, false
	}
	return f.overrides.Lookup(id)
}

// Fetch returns a fresh snapshot of the account.
func (f *Fetcher) Fetch(ctx context.Context, id Identifier) (model.AccountSnapshot, error) {
	if id.Empty() {
		return model.AccountSnapshot{}, errors.New("profile: empty identifier")
	}
	if fx, ok := f.lookup(id); ok {
		logging.Debug("profile_override", map[string]any{"account": id.String()})
		return fx.Snapshot, nil
	}
	if f.client == nil {
		return model.AccountSnapshot{}, fmt.Errorf("%w: %s: no api client", ErrNotFound, id)
	}
	var (
		snap model.AccountSnapshot
		err  error
	)
	if id.ID != "" {
		snap, err = f.client.GetUserByID(ctx, id.ID)
	} else {
		snap, err = f.client.GetUserByUsername(ctx, id.Username)
	}
	if err != nil {
		if errors.Is(err, xclient.ErrNotFound) {
			return model.AccountSnapshot{}, fmt.Errorf("%w: %s: %w", ErrNotFound, id, err)
		}
		return model.AccountSnapshot{}, fmt.Errorf("fetch %s: %w", id, err)
	}
	return sanitize(snap), nil
}

// recentSlack is how many extra posts ListRecent requests to make up for filtered ones.
const recentSlack = 10

// ListRecent returns up to limit of the account's own recent posts. limit is capped at 20.
// An account without qualifying posts yields an empty slice, not an error.
func (f *Fetcher) ListRecent(ctx context.Context, userID string, limit int) ([]model.RecentPost, error) {
	if limit <= 0 || limit > MaxRecentPosts {
		limit = MaxRecentPosts
	}
	var (
		posts []model.RecentPost
		err   error
	)
	if fx, ok := f.lookup(ByID(userID)); ok {
		posts = fx.Posts
	} else if f.client != nil {
		// over-fetch so dropped legacy retweets don't leave the sample short
		posts, err = f.client.GetUserTweets(ctx, userID, min(limit+recentSlack, 100))
		if err != nil {
			return nil, fmt.Errorf("recent posts %s: %w", userID, err)
		}
	}
	out := make([]model.RecentPost, 0, min(limit, len(posts)))
	for _, p := range posts {
		// legacy retweet text that slipped past the exclude filter
		if strings.HasPrefix(p.Text, "RT @") {
			continue
		}
		out = append(out, clampCounts(p))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// FollowerUsernames returns a sample of at most n follower handles (bounded to 100).
func (f *Fetcher) FollowerUsernames(ctx context.Context, userID string, n int) ([]string, error) {
	if n <= 0 || n > MaxFollowers {
		n = MaxFollowers
	}
	if fx, ok := f.lookup(ByID(userID)); ok {
		if len(fx.Followers) > n {
			return fx.Followers[:n], nil
		}
		return fx.Followers, nil
	}
	if f.client == nil {
		return nil, nil
	}
	users, err := f.client.GetFollowers(ctx, userID, n)
	if err != nil {
		return nil, fmt.Errorf("followers %s: %w", userID, err)
	}
	out := make([]string, 0, len(users))
	for _, u := range users {
		if u.Username != "" {
			out = append(out, u.Username)
		}
		if len(out) == n {
			break
		}
	}
	return out, nil
}

func sanitize(s model.AccountSnapshot) model.AccountSnapshot {
	s.FollowersCount = max(0, s.FollowersCount)
	s.FollowingCount = max(0, s.FollowingCount)
	s.PostCount = max(0, s.PostCount)
	s.ListedCount = max(0, s.ListedCount)
	return s
}

func clampCounts(p model.RecentPost) model.RecentPost {
	p.LikeCount = max(0, p.LikeCount)
	p.RetweetCount = max(0, p.RetweetCount)
	p.ReplyCount = max(0, p.ReplyCount)
	p.QuoteCount = max(0, p.QuoteCount)
	return p
}

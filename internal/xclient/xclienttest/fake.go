// Package xclienttest provides an in-memory X API for tests.
package xclienttest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"rugguard/internal/model"
	"rugguard/internal/xclient"
)

// Reply records a CreateReply call.
type Reply struct {
	InReplyTo string
	Text      string
}

// Fake implements xclient.XClient and the reply poster. Errors set in Errs are
// returned by the method of the same name.
type Fake struct {
	mu        sync.Mutex
	users     map[string]model.AccountSnapshot
	tweets    map[string][]model.RecentPost
	followers map[string][]model.User

	// SearchFn answers SearchRecentTweetsSince; nil returns an empty result.
	SearchFn func(query string, since time.Time) (xclient.SearchResult, error)
	Errs     map[string]error
	Replies  []Reply
	calls    map[string]int
	nextID   int
}

func New() *Fake {
	return &Fake{
		users:     map[string]model.AccountSnapshot{},
		tweets:    map[string][]model.RecentPost{},
		followers: map[string][]model.User{},
		Errs:      map[string]error{},
		calls:     map[string]int{},
	}
}

// AddUser registers an account with its recent posts and follower handles.
func (f *Fake) AddUser(s model.AccountSnapshot, posts []model.RecentPost, followers ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[s.ID] = s
	f.tweets[s.ID] = posts
	fs := make([]model.User, 0, len(followers))
	for i, name := range followers {
		fs = append(fs, model.User{ID: fmt.Sprintf("%s-f%d", s.ID, i), Username: name})
	}
	f.followers[s.ID] = fs
}

// SetErr makes the named method fail with err; nil clears it.
func (f *Fake) SetErr(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Errs, method)
		return
	}
	f.Errs[method] = err
}

// Calls returns how often method was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Posted returns a copy of the recorded replies.
func (f *Fake) Posted() []Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Reply(nil), f.Replies...)
}

func (f *Fake) enter(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.Errs[method]
}

func notFound(endpoint string) error {
	return &xclient.APIError{Endpoint: endpoint, Status: 404, Kind: xclient.ErrNotFound}
}

func (f *Fake) GetUserByUsername(ctx context.Context, username string) (model.AccountSnapshot, error) {
	if err := f.enter("GetUserByUsername"); err != nil {
		return model.AccountSnapshot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := strings.ToLower(strings.TrimPrefix(username, "@"))
	for _, u := range f.users {
		if strings.ToLower(u.Username) == name {
			return u, nil
		}
	}
	return model.AccountSnapshot{}, notFound("/users/by/username")
}

func (f *Fake) GetUserByID(ctx context.Context, id string) (model.AccountSnapshot, error) {
	if err := f.enter("GetUserByID"); err != nil {
		return model.AccountSnapshot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return model.AccountSnapshot{}, notFound("/users/:id")
}

func (f *Fake) GetUserTweets(ctx context.Context, userID string, limit int) ([]model.RecentPost, error) {
	if err := f.enter("GetUserTweets"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ps := f.tweets[userID]
	if limit > 0 && len(ps) > limit {
		ps = ps[:limit]
	}
	return append([]model.RecentPost(nil), ps...), nil
}

func (f *Fake) GetUsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if err := f.enter("GetUsersByIDs"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, model.User{ID: u.ID, Username: u.Username, Name: u.Name})
		}
	}
	return out, nil
}

func (f *Fake) GetFollowers(ctx context.Context, userID string, limit int) ([]model.User, error) {
	if err := f.enter("GetFollowers"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fs := f.followers[userID]
	if limit > 0 && len(fs) > limit {
		fs = fs[:limit]
	}
	return append([]model.User(nil), fs...), nil
}

func (f *Fake) SearchRecentTweetsSince(ctx context.Context, query string, limit int, since time.Time) (xclient.SearchResult, error) {
	if err := f.enter("SearchRecentTweetsSince"); err != nil {
		return xclient.SearchResult{}, err
	}
	if f.SearchFn == nil {
		return xclient.SearchResult{}, nil
	}
	return f.SearchFn(query, since)
}

func (f *Fake) CreateReply(ctx context.Context, inReplyToPostID, text string) (string, error) {
	if err := f.enter("CreateReply"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Replies = append(f.Replies, Reply{InReplyTo: inReplyToPostID, Text: text})
	f.nextID++
	return fmt.Sprintf("reply-%d", f.nextID), nil
}

var _ xclient.XClient = (*Fake)(nil)

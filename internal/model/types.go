package model

import "time"

// AccountSnapshot represents the subset of X user fields used to score an account.
// It is fetched fresh for every analysis and never mutated.
type AccountSnapshot struct {
	ID             string
	Username       string
	Name           string
	Bio            string
	CreatedAt      time.Time
	FollowersCount int
	FollowingCount int
	PostCount      int
	ListedCount    int
	Verified       bool
}

// AgeDays returns the account age in whole days. Never negative.
func (s AccountSnapshot) AgeDays(now time.Time) int {
	if s.CreatedAt.IsZero() || now.Before(s.CreatedAt) {
		return 0
	}
	return int(now.Sub(s.CreatedAt) / (24 * time.Hour))
}

// RecentPost is one of the account's own posts (no retweets, no replies).
type RecentPost struct {
	ID           string
	Text         string
	CreatedAt    time.Time
	LikeCount    int
	RetweetCount int
	ReplyCount   int
	QuoteCount   int
}

// Interactions is likes + retweets + replies, the engagement measure used for scoring.
func (p RecentPost) Interactions() int {
	return nonNegative(p.LikeCount) + nonNegative(p.RetweetCount) + nonNegative(p.ReplyCount)
}

// Post is a search result item.
type Post struct {
	ID              string
	AuthorID        string
	Text            string
	CreatedAt       time.Time
	ConversationID  string
	InReplyToUserID string
	InReplyToPostID string
	IsRetweet       bool
	Language        string
}

// IsReply reports whether the post replies to another account's post.
func (p Post) IsReply() bool {
	return p.InReplyToUserID != "" || p.InReplyToPostID != ""
}

// User is the lightweight user reference returned alongside search results and follower lists.
type User struct {
	ID       string
	Username string
	Name     string
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

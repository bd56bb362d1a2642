package trigger

import (
	"strings"
	"time"

	"rugguard/internal/model"
)

// Target is the account a trigger reply points at.
type Target struct {
	TriggerPostID  string    `json:"trigger_post_id"`
	AuthorID       string    `json:"author_id"`
	AuthorUsername string    `json:"author_username,omitempty"`
	UserID         string    `json:"target_user_id"`
	Username       string    `json:"target_username,omitempty"`
	RepliedPostID  string    `json:"replied_post_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Detector matches posts that reply to someone and contain the trigger phrase.
type Detector struct {
	phrase string
}

func NewDetector(phrase string) *Detector {
	return &Detector{phrase: strings.ToLower(strings.TrimSpace(phrase))}
}

func (d *Detector) Phrase() string { return d.phrase }

// Match reports whether p is a trigger: a reply whose lowercased text contains the phrase.
func (d *Detector) Match(p model.Post) (Target, bool) {
	if d.phrase == "" || p.IsRetweet || !p.IsReply() {
		return Target{}, false
	}
	if !strings.Contains(strings.ToLower(p.Text), d.phrase) {
		return Target{}, false
	}
	return Target{
		TriggerPostID: p.ID,
		AuthorID:      p.AuthorID,
		UserID:        p.InReplyToUserID,
		RepliedPostID: p.InReplyToPostID,
		CreatedAt:     p.CreatedAt,
	}, true
}

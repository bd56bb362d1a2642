package reply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rugguard/internal/engage"
	"rugguard/internal/logging"
	"rugguard/internal/metrics"
	"rugguard/internal/xclient"
)

var (
	// ErrSoftFailure wraps failures that are logged and dropped for this cycle.
	ErrSoftFailure = errors.New("reply: soft failure")
	// ErrBudgetExhausted means the hourly or daily reply cap is reached.
	ErrBudgetExhausted = errors.New("reply: budget exhausted")
)

// Poster is the user-context write capability.
type Poster interface {
	CreateReply(ctx context.Context, inReplyToPostID, text string) (string, error)
}

type PublisherOptions struct {
	Limit  int
	Marker string
	// DryRun logs replies instead of posting them.
	DryRun bool
}

// Publisher posts replies within the reply budget.
type Publisher struct {
	poster Poster
	budget *engage.Budget
	opts   PublisherOptions
	now    func() time.Time
}

func NewPublisher(poster Poster, budget *engage.Budget, opts PublisherOptions) *Publisher {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Marker == "" {
		opts.Marker = DefaultMarker
	}
	return &Publisher{poster: poster, budget: budget, opts: opts, now: time.Now}
}

// Publish truncates text and posts it as a reply to inReplyTo. It returns the new post id,
// or "" in dry-run mode. Rate limits, permission errors and an exhausted budget are
// returned wrapped in ErrSoftFailure; no retry happens here.
func (p *Publisher) Publish(ctx context.Context, inReplyTo, text string) (string, error) {
	if inReplyTo == "" {
		return "", errors.New("reply: missing in-reply-to post id")
	}
	text = Truncate(text, p.opts.Limit, p.opts.Marker)
	if p.opts.DryRun || p.poster == nil {
		metrics.IncReply("dry_run")
		logging.Info("reply_dry_run", map[string]any{"in_reply_to": inReplyTo, "text": text})
		return "", nil
	}
	now := p.now()
	if p.budget != nil && !p.budget.TryAcquire(now) {
		metrics.IncReply("budget")
		logging.Warn("reply_budget_exhausted", map[string]any{"in_reply_to": inReplyTo})
		return "", fmt.Errorf("%w: %w", ErrSoftFailure, ErrBudgetExhausted)
	}
	id, err := p.poster.CreateReply(ctx, inReplyTo, text)
	if err != nil {
		if p.budget != nil {
			p.budget.Release(now)
		}
		if xclient.IsSoft(err) {
			metrics.IncReply("soft_fail")
			logging.Warn("reply_soft_fail", map[string]any{"in_reply_to": inReplyTo, "error": err.Error()})
			return "", fmt.Errorf("%w: %w", ErrSoftFailure, err)
		}
		metrics.IncReply("error")
		return "", fmt.Errorf("post reply to %s: %w", inReplyTo, err)
	}
	metrics.IncReply("posted")
	logging.Info("reply_posted", map[string]any{"in_reply_to": inReplyTo, "reply_id": id})
	return id, nil
}

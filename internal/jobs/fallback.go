package jobs

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"rugguard/internal/logging"
	"rugguard/internal/trigger"
)

const (
	FallbackNone    = "none"
	FallbackLog     = "log"
	FallbackWebhook = "webhook"
)

// FallbackEvent describes a trigger that could not be answered in this cycle.
type FallbackEvent struct {
	Target trigger.Target
	// Text is the rendered reply, empty when analysis itself was deferred.
	Text  string
	Cause error
}

// Fallback handles triggers the poller could not answer directly.
type Fallback interface {
	Handle(ctx context.Context, ev FallbackEvent) error
	// TakesOver reports whether a successful Handle answers the trigger,
	// so the poller must not retry it.
	TakesOver() bool
}

// NewFallback builds the strategy named in config.
func NewFallback(strategy, webhookURL, phrase string, client *http.Client) (Fallback, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", FallbackNone:
		return NoFallback{}, nil
	case FallbackLog:
		return LogFallback{}, nil
	case FallbackWebhook:
		if webhookURL == "" {
			return nil, fmt.Errorf("webhook fallback needs a url")
		}
		if client == nil {
			client = http.DefaultClient
		}
		return &WebhookFallback{url: strings.TrimRight(webhookURL, "/") + "/trigger", phrase: phrase, client: client}, nil
	default:
		return nil, fmt.Errorf("unknown fallback strategy %q", strategy)
	}
}

type NoFallback struct{}

func (NoFallback) Handle(context.Context, FallbackEvent) error { return nil }
func (NoFallback) TakesOver() bool                             { return false }

// LogFallback prints the analysis so it can be posted by hand.
type LogFallback struct{}

func (LogFallback) Handle(_ context.Context, ev FallbackEvent) error {
	fields := map[string]any{
		"trigger": ev.Target.TriggerPostID,
		"target":  ev.Target.Username,
		"text":    ev.Text,
	}
	if ev.Cause != nil {
		fields["cause"] = ev.Cause.Error()
	}
	logging.Warn("fallback_manual_reply", fields)
	return nil
}

func (LogFallback) TakesOver() bool { return false }

// WebhookFallback forwards the trigger to another instance's POST /trigger.
type WebhookFallback struct {
	url    string
	phrase string
	client *http.Client
}

type webhookPayload struct {
	TweetID        string `json:"tweet_id"`
	TargetUsername string `json:"target_username"`
	TriggerText    string `json:"trigger_text"`
	Reason         string `json:"reason,omitempty"`
}

func (w *WebhookFallback) Handle(ctx context.Context, ev FallbackEvent) error {
	if ev.Target.Username == "" {
		return fmt.Errorf("webhook fallback: trigger %s has no target username", ev.Target.TriggerPostID)
	}
	p := webhookPayload{TweetID: ev.Target.TriggerPostID, TargetUsername: ev.Target.Username, TriggerText: w.phrase}
	if ev.Cause != nil {
		p.Reason = ev.Cause.Error()
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook fallback: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook fallback: status %d", resp.StatusCode)
	}
	logging.Info("fallback_webhook_ok", map[string]any{"trigger": ev.Target.TriggerPostID, "target": ev.Target.Username})
	return nil
}

func (w *WebhookFallback) TakesOver() bool { return true }

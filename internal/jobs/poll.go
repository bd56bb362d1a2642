package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rugguard/internal/analytics"
	"rugguard/internal/logging"
	"rugguard/internal/metrics"
	"rugguard/internal/model"
	"rugguard/internal/profile"
	"rugguard/internal/reply"
	"rugguard/internal/trigger"
	"rugguard/internal/xclient"
)

type Scanner interface {
	Scan(ctx context.Context) ([]trigger.Target, error)
	MarkProcessed(postID string)
}

type Analyzer interface {
	Analyze(ctx context.Context, id profile.Identifier) (model.Report, error)
}

type Formatter interface {
	Format(r model.Report) (string, error)
	Unverified(username string) string
}

type Publisher interface {
	Publish(ctx context.Context, inReplyTo, text string) (string, error)
}

// RunStats summarizes one poll cycle.
type RunStats struct {
	Triggers int
	Replied  int
	Skipped  int
	Deferred int
	Failed   int
}

// Poller runs the detect, analyze and reply cycle. Triggers are handled one at a time.
type Poller struct {
	scanner   Scanner
	analyzer  Analyzer
	formatter Formatter
	publisher Publisher
	fallback  Fallback
	activity  Activity
	interval  time.Duration
	pause     time.Duration
	sleep     func(ctx context.Context, d time.Duration) error

	// deferred triggers, handled before new ones on the next cycle
	mu      sync.Mutex
	pending []trigger.Target
}

// maxPending bounds the deferred queue; the oldest entries are dropped first.
const maxPending = 500

type PollerOptions struct {
	Interval time.Duration
	// Pause between consecutive triggers
	Pause    time.Duration
	Fallback Fallback
	// Activity receives each trigger's outcome; optional
	Activity Activity
}

// Activity records trigger outcomes; *analytics.Recorder implements it.
type Activity interface {
	Record(outcome string)
}

func NewPoller(s Scanner, a Analyzer, f Formatter, p Publisher, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Fallback == nil {
		opts.Fallback = NoFallback{}
	}
	return &Poller{
		scanner:   s,
		analyzer:  a,
		formatter: f,
		publisher: p,
		fallback:  opts.Fallback,
		activity:  opts.Activity,
		interval:  opts.Interval,
		pause:     opts.Pause,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce scans for new triggers and handles each, deferred ones from earlier cycles
// first. A rate-limited scan is not an error: the cycle ends, the deferred queue is
// kept and the next tick searches the same window.
func (p *Poller) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats
	start := time.Now()
	metrics.PollRuns.Inc()
	defer metrics.ObservePollDuration(start)

	targets, err := p.scanner.Scan(ctx)
	if err != nil {
		if errors.Is(err, xclient.ErrRateLimited) {
			logging.Warn("poll_rate_limited", map[string]any{"error": err.Error()})
			return stats, nil
		}
		metrics.PollErrors.Inc()
		return stats, err
	}
	queue := p.takePending(targets)
	stats.Triggers = len(queue)
	for i, t := range queue {
		if i > 0 {
			if err := p.sleep(ctx, p.pause); err != nil {
				p.requeue(queue[i:])
				return stats, err
			}
		}
		if ctx.Err() != nil {
			p.requeue(queue[i:])
			return stats, ctx.Err()
		}
		p.handle(ctx, t, &stats)
	}
	logging.Info("poll_once", map[string]any{
		"triggers": stats.Triggers, "replied": stats.Replied, "skipped": stats.Skipped,
		"deferred": stats.Deferred, "failed": stats.Failed,
	})
	return stats, nil
}

// takePending empties the deferred queue and returns it followed by the scanned
// targets it does not already hold.
func (p *Poller) takePending(scanned []trigger.Target) []trigger.Target {
	p.mu.Lock()
	queue := p.pending
	p.pending = nil
	p.mu.Unlock()

	seen := make(map[string]struct{}, len(queue))
	for _, t := range queue {
		seen[t.TriggerPostID] = struct{}{}
	}
	for _, t := range scanned {
		if _, ok := seen[t.TriggerPostID]; ok {
			continue
		}
		seen[t.TriggerPostID] = struct{}{}
		queue = append(queue, t)
	}
	return queue
}

func (p *Poller) requeue(ts ...[]trigger.Target) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, batch := range ts {
		p.pending = append(p.pending, batch...)
	}
	if over := len(p.pending) - maxPending; over > 0 {
		logging.Warn("deferred_queue_full", map[string]any{"dropped": over})
		p.pending = append([]trigger.Target(nil), p.pending[over:]...)
	}
}

func targetID(t trigger.Target) profile.Identifier {
	if t.UserID != "" {
		return profile.ByID(t.UserID)
	}
	return profile.ByUsername(t.Username)
}

func (p *Poller) handle(ctx context.Context, t trigger.Target, stats *RunStats) {
	fields := map[string]any{"trigger": t.TriggerPostID, "target": t.Username, "target_id": t.UserID}
	id := targetID(t)
	if id.Empty() {
		logging.Warn("trigger_without_target", fields)
		p.scanner.MarkProcessed(t.TriggerPostID)
		p.count(stats, analytics.OutcomeSkipped)
		return
	}

	report, err := p.analyzer.Analyze(ctx, id)
	var text string
	switch {
	case err == nil:
		text, err = p.formatter.Format(report)
		if err != nil {
			fields["error"] = err.Error()
			logging.Error("reply_format_error", fields)
			text = p.formatter.Unverified(t.Username)
		}
	case errors.Is(err, profile.ErrNotFound):
		fields["error"] = err.Error()
		logging.Info("trigger_target_not_found", fields)
		p.scanner.MarkProcessed(t.TriggerPostID)
		p.count(stats, analytics.OutcomeSkipped)
		return
	case errors.Is(err, xclient.ErrRateLimited):
		fields["error"] = err.Error()
		logging.Warn("analysis_deferred", fields)
		p.deferTrigger(ctx, t, "", err, stats)
		return
	default:
		fields["error"] = err.Error()
		logging.Warn("analysis_failed", fields)
		text = p.formatter.Unverified(t.Username)
	}

	_, err = p.publisher.Publish(ctx, t.TriggerPostID, text)
	switch {
	case err == nil:
		p.scanner.MarkProcessed(t.TriggerPostID)
		p.count(stats, analytics.OutcomeReplied)
	case errors.Is(err, xclient.ErrRateLimited), errors.Is(err, reply.ErrBudgetExhausted):
		p.deferTrigger(ctx, t, text, err, stats)
	default:
		fields["error"] = err.Error()
		logging.Error("reply_failed", fields)
		// a failed post may still have gone through; never post twice
		p.scanner.MarkProcessed(t.TriggerPostID)
		p.count(stats, analytics.OutcomeFailed)
		if ferr := p.fallback.Handle(ctx, FallbackEvent{Target: t, Text: text, Cause: err}); ferr != nil {
			logging.Warn("fallback_failed", map[string]any{"trigger": t.TriggerPostID, "error": ferr.Error()})
		}
	}
}

func (p *Poller) count(stats *RunStats, outcome string) {
	switch outcome {
	case analytics.OutcomeReplied:
		stats.Replied++
	case analytics.OutcomeSkipped:
		stats.Skipped++
	case analytics.OutcomeDeferred:
		stats.Deferred++
	case analytics.OutcomeFailed:
		stats.Failed++
	}
	if p.activity != nil {
		p.activity.Record(outcome)
	}
}

// deferTrigger hands a trigger to the fallback. It is marked processed when the
// fallback took it over; otherwise it is queued for the next cycle, since the
// search window has already moved past it.
func (p *Poller) deferTrigger(ctx context.Context, t trigger.Target, text string, cause error, stats *RunStats) {
	p.count(stats, analytics.OutcomeDeferred)
	if err := p.fallback.Handle(ctx, FallbackEvent{Target: t, Text: text, Cause: cause}); err != nil {
		logging.Warn("fallback_failed", map[string]any{"trigger": t.TriggerPostID, "error": err.Error()})
	} else if p.fallback.TakesOver() {
		p.scanner.MarkProcessed(t.TriggerPostID)
		return
	}
	p.requeue([]trigger.Target{t})
}

// Run executes RunOnce immediately and then every interval until ctx is cancelled.
// Overlapping runs are skipped.
func (p *Poller) Run(ctx context.Context) error {
	logger := cronLogger{logging.Leveled{Subsystem: "poller"}}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	job := cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := p.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error("poll_once_error", map[string]any{"error": err.Error()})
		}
	})
	if _, err := c.AddJob(fmt.Sprintf("@every %s", p.interval), job); err != nil {
		return fmt.Errorf("schedule poller: %w", err)
	}
	logging.Info("poll_loop_start", map[string]any{"interval": p.interval.String()})
	// run immediately
	job.Run()
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	logging.Info("poll_loop_stop", nil)
	return ctx.Err()
}

// cronLogger adapts the leveled logger to cron.Logger.
type cronLogger struct {
	l logging.Leveled
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Warn(msg, append(keysAndValues, "error", err)...)
}

package jobs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rugguard/internal/analytics"
	"rugguard/internal/engage"
	"rugguard/internal/model"
	"rugguard/internal/profile"
	"rugguard/internal/reply"
	"rugguard/internal/trigger"
	"rugguard/internal/xclient"
	"rugguard/internal/xclient/xclienttest"
)

type fakeScanner struct {
	mu        sync.Mutex
	targets   []trigger.Target
	err       error
	scans     int
	processed map[string]bool
}

func (s *fakeScanner) Scan(ctx context.Context) ([]trigger.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	if s.err != nil {
		return nil, s.err
	}
	var out []trigger.Target
	for _, t := range s.targets {
		if !s.processed[t.TriggerPostID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeScanner) MarkProcessed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed == nil {
		s.processed = map[string]bool{}
	}
	s.processed[id] = true
}

func (s *fakeScanner) isProcessed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[id]
}

type fakeAnalyzer struct {
	errs map[string]error
}

func (a fakeAnalyzer) Analyze(ctx context.Context, id profile.Identifier) (model.Report, error) {
	if err, ok := a.errs[id.ID]; ok {
		return model.Report{}, err
	}
	return model.Report{UserID: id.ID, Username: "user" + id.ID, Score: 65, Level: model.ModeratelyTrusted}, nil
}

func rateLimited() error {
	return &xclient.APIError{Endpoint: "x", Status: 429, Kind: xclient.ErrRateLimited}
}

type harness struct {
	scanner *fakeScanner
	x       *xclienttest.Fake
	poller  *Poller
	pauses  []time.Duration
}

func newHarness(t *testing.T, targets []trigger.Target, analyzer fakeAnalyzer, fb Fallback) *harness {
	t.Helper()
	f, err := reply.NewFormatter("", 0, "")
	require.NoError(t, err)
	h := &harness{scanner: &fakeScanner{targets: targets}, x: xclienttest.New()}
	pub := reply.NewPublisher(h.x, engage.NewBudget(100, 1000), reply.PublisherOptions{})
	h.poller = NewPoller(h.scanner, analyzer, f, pub, PollerOptions{Pause: 2 * time.Second, Fallback: fb})
	h.poller.sleep = func(ctx context.Context, d time.Duration) error {
		h.pauses = append(h.pauses, d)
		return nil
	}
	return h
}

func tgt(id, userID string) trigger.Target {
	return trigger.Target{TriggerPostID: id, UserID: userID, Username: "user" + userID}
}

func TestRunOnceRepliesToEachTrigger(t *testing.T) {
	h := newHarness(t, []trigger.Target{tgt("t1", "1"), tgt("t2", "2")}, fakeAnalyzer{}, nil)
	stats, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStats{Triggers: 2, Replied: 2}, stats)

	posted := h.x.Posted()
	require.Len(t, posted, 2)
	assert.Equal(t, "t1", posted[0].InReplyTo)
	assert.Contains(t, posted[0].Text, "Trust Score: 65.0/100")
	assert.Equal(t, []time.Duration{2 * time.Second}, h.pauses)
	assert.True(t, h.scanner.isProcessed("t1"))

	stats, err = h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Triggers)
}

func TestRunOnceScanRateLimitIsNotAnError(t *testing.T) {
	h := newHarness(t, nil, fakeAnalyzer{}, nil)
	h.scanner.err = rateLimited()
	stats, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Triggers)

	h.scanner.err = errors.New("boom")
	_, err = h.poller.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRunOnceSkipsMissingAccounts(t *testing.T) {
	a := fakeAnalyzer{errs: map[string]error{"1": profile.ErrNotFound}}
	h := newHarness(t, []trigger.Target{tgt("t1", "1")}, a, nil)
	stats, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, h.x.Posted())
	assert.True(t, h.scanner.isProcessed("t1"))
}

func TestRunOnceDefersRateLimitedAnalysis(t *testing.T) {
	a := fakeAnalyzer{errs: map[string]error{"1": rateLimited()}}
	h := newHarness(t, []trigger.Target{tgt("t1", "1")}, a, LogFallback{})
	stats, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deferred)
	assert.False(t, h.scanner.isProcessed("t1"), "retried next cycle")
	assert.Empty(t, h.x.Posted())
}

func TestRunOncePostsUnverifiedOnUnreachable(t *testing.T) {
	a := fakeAnalyzer{errs: map[string]error{"1": &xclient.APIError{Endpoint: "x", Kind: xclient.ErrUnreachable}}}
	h := newHarness(t, []trigger.Target{tgt("t1", "1")}, a, nil)
	stats, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Replied)
	posted := h.x.Posted()
	require.Len(t, posted, 1)
	assert.Contains(t, posted[0].Text, "Could not verify @user1")
}

func TestRunOnceReplyFailures(t *testing.T) {
	h := newHarness(t, []trigger.Target{tgt("t1", "1")}, fakeAnalyzer{}, nil)
	h.x.SetErr("CreateReply", rateLimited())
	stats, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deferred)
	assert.False(t, h.scanner.isProcessed("t1"))

	h.x.SetErr("CreateReply", &xclient.APIError{Endpoint: "POST /tweets", Status: 403, Kind: xclient.ErrForbidden})
	stats, err = h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.True(t, h.scanner.isProcessed("t1"), "forbidden replies are dropped")
	assert.Equal(t, 2, h.x.Calls("CreateReply"))
}

func TestWebhookFallbackTakesOver(t *testing.T) {
	var got webhookPayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trigger", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	fb, err := NewFallback("webhook", ts.URL+"/", "riddle me this", ts.Client())
	require.NoError(t, err)
	a := fakeAnalyzer{errs: map[string]error{"1": rateLimited()}}
	h := newHarness(t, []trigger.Target{tgt("t1", "1")}, a, fb)

	stats, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deferred)
	assert.True(t, h.scanner.isProcessed("t1"))
	assert.Equal(t, "t1", got.TweetID)
	assert.Equal(t, "user1", got.TargetUsername)
	assert.Equal(t, "riddle me this", got.TriggerText)
}

func TestWebhookFallbackFailureKeepsTrigger(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()
	fb, err := NewFallback("webhook", ts.URL, "riddle me this", ts.Client())
	require.NoError(t, err)
	a := fakeAnalyzer{errs: map[string]error{"1": rateLimited()}}
	h := newHarness(t, []trigger.Target{tgt("t1", "1")}, a, fb)
	_, err = h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, h.scanner.isProcessed("t1"))
}

func TestNewFallbackValidates(t *testing.T) {
	_, err := NewFallback("webhook", "", "x", nil)
	assert.Error(t, err)
	_, err = NewFallback("carrier-pigeon", "", "x", nil)
	assert.Error(t, err)
	fb, err := NewFallback("", "", "x", nil)
	require.NoError(t, err)
	assert.False(t, fb.TakesOver())
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil, fakeAnalyzer{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := h.poller.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	h.scanner.mu.Lock()
	defer h.scanner.mu.Unlock()
	assert.GreaterOrEqual(t, h.scanner.scans, 1)
}

func TestRunOnceRecordsActivity(t *testing.T) {
	a := fakeAnalyzer{errs: map[string]error{"2": profile.ErrNotFound}}
	h := newHarness(t, []trigger.Target{tgt("t1", "1"), tgt("t2", "2")}, a, nil)
	rec := analytics.NewRecorder(time.Hour)
	h.poller.activity = rec

	_, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{analytics.OutcomeReplied: 1, analytics.OutcomeSkipped: 1}, rec.Totals())
}

func TestDeferredTriggerIsRetriedAfterWindowMoves(t *testing.T) {
	created := time.Now().Add(-5 * time.Minute)
	x := xclienttest.New()
	x.SearchFn = func(q string, since time.Time) (xclient.SearchResult, error) {
		var res xclient.SearchResult
		if !created.Before(since) {
			res.Posts = []model.Post{{ID: "t1", AuthorID: "a", Text: "riddle me this", InReplyToUserID: "1", InReplyToPostID: "r1", CreatedAt: created}}
		}
		return res, nil
	}
	s, err := trigger.NewScanner(x, trigger.NewDetector("riddle me this"), trigger.ScannerOptions{Lookback: 15 * time.Minute})
	require.NoError(t, err)

	f, err := reply.NewFormatter("", 0, "")
	require.NoError(t, err)
	a := &switchAnalyzer{err: rateLimited()}
	p := NewPoller(s, a, f, reply.NewPublisher(x, engage.NewBudget(10, 100), reply.PublisherOptions{}), PollerOptions{})

	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deferred)
	assert.Len(t, p.pending, 1)
	assert.True(t, s.Since().After(created), "search window moved past the trigger")

	a.err = nil
	stats, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStats{Triggers: 1, Replied: 1}, stats)
	require.Len(t, x.Posted(), 1)
	assert.Equal(t, "t1", x.Posted()[0].InReplyTo)
	assert.Empty(t, p.pending)
	assert.True(t, s.IsProcessed("t1"))
}

func TestBudgetDeferralIsRequeued(t *testing.T) {
	h := newHarness(t, []trigger.Target{tgt("t1", "1")}, fakeAnalyzer{}, LogFallback{})
	h.x.SetErr("CreateReply", rateLimited())
	_, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, h.poller.pending, 1)

	// the scan no longer returns it; the queue still does
	h.scanner.targets = nil
	h.x.SetErr("CreateReply", nil)
	stats, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Replied)
	assert.Empty(t, h.poller.pending)
}

type switchAnalyzer struct {
	err error
}

func (a *switchAnalyzer) Analyze(ctx context.Context, id profile.Identifier) (model.Report, error) {
	if a.err != nil {
		return model.Report{}, a.err
	}
	return model.Report{UserID: id.ID, Username: "user" + id.ID, Score: 65, Level: model.ModeratelyTrusted}, nil
}

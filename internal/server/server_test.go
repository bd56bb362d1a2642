package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rugguard/internal/analytics"
	"rugguard/internal/engage"
	"rugguard/internal/model"
	"rugguard/internal/profile"
	"rugguard/internal/reply"
	"rugguard/internal/trust"
	"rugguard/internal/xclient"
	"rugguard/internal/xclient/xclienttest"
)

type stubAnalyzer struct {
	reports map[string]model.Report
	err     error
}

func (s *stubAnalyzer) Analyze(ctx context.Context, id profile.Identifier) (model.Report, error) {
	if s.err != nil {
		return model.Report{}, s.err
	}
	r, ok := s.reports[id.Username]
	if !ok {
		return model.Report{}, profile.ErrNotFound
	}
	return r, nil
}

type countProcessed int

func (c countProcessed) ProcessedCount() int { return int(c) }

func newTestServer(t *testing.T, a Analyzer, postReplies bool) (*Server, *xclienttest.Fake) {
	t.Helper()
	f, err := reply.NewFormatter("", 0, "")
	require.NoError(t, err)
	fake := xclienttest.New()
	pub := reply.NewPublisher(fake, engage.NewBudget(10, 100), reply.PublisherOptions{})
	list := trust.NewList(trust.ListOptions{Seed: []string{"alice", "bob"}})
	// no url configured: the refresh fails and the seed is loaded
	require.Error(t, list.Refresh(context.Background()))
	return New(a, f, pub, list, countProcessed(3), Options{Version: "test", PostReplies: postReplies}), fake
}

func sampleAnalyzer() *stubAnalyzer {
	return &stubAnalyzer{reports: map[string]model.Report{
		"sample_dev": {
			UserID:   "42",
			Username: "sample_dev",
			Score:    73.74,
			Level:    model.ModeratelyTrusted,
			Signals:  model.Signals{AgeDays: 800, FollowersCount: 2847, FollowingCount: 1523},
		},
	}}
}

func do(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, sampleAnalyzer(), false)
	for _, path := range []string{"/", "/health"} {
		rec, out := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", out["status"])
		assert.Equal(t, "RugGuard", out["service"])
		assert.Equal(t, "test", out["version"])
		assert.EqualValues(t, 2, out["trust_list_size"])
	}
}

func TestManualAnalysis(t *testing.T) {
	s, _ := newTestServer(t, sampleAnalyzer(), false)
	rec, out := do(t, s, http.MethodGet, "/manual?username=@Sample_Dev", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "sample_dev", out["username"])
	assert.EqualValues(t, 73.7, out["score"])
	assert.Contains(t, out["analysis_text"], "Trust Score: 73.7/100")

	rec, out = do(t, s, http.MethodPost, "/manual", `{"username":"sample_dev"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", out["status"])
}

func TestManualErrors(t *testing.T) {
	s, _ := newTestServer(t, sampleAnalyzer(), false)
	rec, out := do(t, s, http.MethodGet, "/manual", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", out["status"])

	rec, _ = do(t, s, http.MethodGet, "/manual?username=ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	down, _ := newTestServer(t, &stubAnalyzer{err: xclient.ErrUnreachable}, false)
	rec, out = do(t, down, http.MethodGet, "/manual?username=sample_dev", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unverified", out["status"])
	assert.Contains(t, out["analysis_text"], "Could not verify @sample_dev")
}

func TestTriggerAnalyzesWithoutPosting(t *testing.T) {
	s, fake := newTestServer(t, sampleAnalyzer(), false)
	rec, out := do(t, s, http.MethodPost, "/trigger", `{"tweet_id":"900","target_username":"sample_dev","trigger_text":"riddle me this"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, false, out["posted"])
	assert.Contains(t, out["analysis_text"], "RugGuard Analysis Complete")
	assert.Empty(t, fake.Posted())
}

func TestTriggerPostsWhenEnabled(t *testing.T) {
	s, fake := newTestServer(t, sampleAnalyzer(), true)
	rec, out := do(t, s, http.MethodPost, "/trigger", `{"tweet_id":"900","username":"sample_dev"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["posted"])
	require.Len(t, fake.Posted(), 1)
	assert.Equal(t, "900", fake.Posted()[0].InReplyTo)

	fake.SetErr("CreateReply", &xclient.APIError{Endpoint: "POST /tweets", Status: 429, Kind: xclient.ErrRateLimited, Err: errors.New("too many")})
	rec, out = do(t, s, http.MethodPost, "/trigger", `{"tweet_id":"901","username":"sample_dev"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["posted"])
	assert.NotEmpty(t, out["post_error"])
}

func TestTriggerRequiresUsername(t *testing.T) {
	s, _ := newTestServer(t, sampleAnalyzer(), false)
	rec, _ := do(t, s, http.MethodPost, "/trigger", `{"tweet_id":"900"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/trigger", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(t, sampleAnalyzer(), false)
	rec, out := do(t, s, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, out["processed_triggers"])
	list, ok := out["trust_list"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, trust.SourceSeed, list["source"])
}

func TestStatsIncludesActivity(t *testing.T) {
	f, err := reply.NewFormatter("", 0, "")
	require.NoError(t, err)
	rec := analytics.NewRecorder(0)
	rec.Record(analytics.OutcomeReplied)
	rec.Record(analytics.OutcomeReplied)
	s := New(sampleAnalyzer(), f, nil, nil, nil, Options{Activity: rec})

	resp, out := do(t, s, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, resp.Code)
	activity, ok := out["activity_24h"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, activity[analytics.OutcomeReplied])
	assert.Len(t, out["hourly"], 1)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, sampleAnalyzer(), false)
	rec, _ := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rugguard_")
}

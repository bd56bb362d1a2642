package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposure(t *testing.T) {
	PollRuns.Inc()
	PollErrors.Inc()
	TriggersDetected.Inc()
	IncAPIRetry("/test")
	IncAPIError("/test", "rate_limited")
	IncAnalysis("ok")
	IncReply("posted")
	ObserveTrustScore(72.3)
	SetTrustListSize(7)
	IncTrustListRefresh("ok")
	IncCommandRun("analyze")
	IncCommandError("analyze")
	ObservePollDuration(time.Now().Add(-1500 * time.Millisecond))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, m := range []string{
		"rugguard_poll_runs_total",
		"rugguard_poll_errors_total",
		"rugguard_poll_duration_seconds",
		"rugguard_triggers_detected_total",
		"rugguard_analyses_total",
		"rugguard_replies_total",
		"rugguard_api_retries_total",
		"rugguard_api_errors_total",
		"rugguard_trust_list_size 7",
		"rugguard_trust_list_refresh_total",
		"rugguard_trust_score",
		"rugguard_command_runs_total",
		"rugguard_command_errors_total",
	} {
		if !strings.Contains(body, m) {
			t.Fatalf("expected metric %s in body", m)
		}
	}
}

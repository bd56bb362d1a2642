package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PollRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rugguard_poll_runs_total",
		Help: "Total trigger poll runs",
	})
	PollErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rugguard_poll_errors_total",
		Help: "Total trigger poll errors",
	})
	PollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rugguard_poll_duration_seconds",
		Help:    "Trigger poll duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	TriggersDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rugguard_triggers_detected_total",
		Help: "Trigger replies detected",
	})
	Analyses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rugguard_analyses_total",
		Help: "Account analyses by outcome",
	}, []string{"outcome"})
	Replies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rugguard_replies_total",
		Help: "Reply attempts by outcome",
	}, []string{"outcome"})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rugguard_api_retries_total",
		Help: "Total API retry attempts",
	}, []string{"endpoint"})
	APIErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rugguard_api_errors_total",
		Help: "API failures by endpoint and kind",
	}, []string{"endpoint", "kind"})
	TrustListSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rugguard_trust_list_size",
		Help: "Members in the loaded trust list",
	})
	TrustListRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rugguard_trust_list_refresh_total",
		Help: "Trust list refreshes by outcome",
	}, []string{"outcome"})
	TrustScores = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rugguard_trust_score",
		Help:    "Distribution of computed trust scores",
		Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rugguard_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rugguard_command_errors_total",
		Help: "CLI command failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(PollRuns, PollErrors, PollDuration, TriggersDetected, Analyses, Replies,
		APIRetries, APIErrors, TrustListSize, TrustListRefreshes, TrustScores, CommandRuns, CommandErrors)
}

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// StartServer starts a standalone metrics HTTP server on addr (e.g., ":9090").
// Used when the bot runs without the API server.
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, mux) }()
}

// ObservePollDuration records a run duration
func ObservePollDuration(start time.Time) {
	PollDuration.Observe(time.Since(start).Seconds())
}

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

func IncAPIError(endpoint, kind string) { APIErrors.WithLabelValues(endpoint, kind).Inc() }

func IncAnalysis(outcome string) { Analyses.WithLabelValues(outcome).Inc() }

func IncReply(outcome string) { Replies.WithLabelValues(outcome).Inc() }

func ObserveTrustScore(score float64) { TrustScores.Observe(score) }

func SetTrustListSize(n int) { TrustListSize.Set(float64(n)) }

func IncTrustListRefresh(outcome string) { TrustListRefreshes.WithLabelValues(outcome).Inc() }

func IncCommandRun(cmd string) { CommandRuns.WithLabelValues(cmd).Inc() }

func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }

package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"rugguard/internal/analytics"
	"rugguard/internal/logging"
	"rugguard/internal/metrics"
	"rugguard/internal/model"
	"rugguard/internal/profile"
	"rugguard/internal/trust"
)

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

type TrustInfo interface {
	Info(ctx context.Context) trust.ListInfo
}

// ProcessedCounter reports how many triggers the poller has handled.
type ProcessedCounter interface {
	ProcessedCount() int
}

// ActivityReporter summarizes recent trigger outcomes; *analytics.Recorder implements it.
type ActivityReporter interface {
	Hourly() []analytics.Bucket
	Totals() map[string]int
}

type Options struct {
	Version string
	// Activity is reported under /stats when set
	Activity ActivityReporter
	// PostReplies lets POST /trigger publish when a tweet_id is given.
	PostReplies bool
}

// Server exposes manual analysis, webhook triggers, stats and metrics over HTTP.
type Server struct {
	echo      *echo.Echo
	analyzer  Analyzer
	formatter Formatter
	publisher Publisher
	list      TrustInfo
	processed ProcessedCounter
	opts      Options
	started   time.Time
	now       func() time.Time
}

func New(a Analyzer, f Formatter, p Publisher, list TrustInfo, processed ProcessedCounter, opts Options) *Server {
	s := &Server{
		analyzer:  a,
		formatter: f,
		publisher: p,
		list:      list,
		processed: processed,
		opts:      opts,
		started:   time.Now(),
		now:       time.Now,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = goccyJSON{}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logging.Debug("http_request", map[string]any{
				"method": v.Method, "uri": v.URI, "status": v.Status, "latency_ms": v.Latency.Milliseconds(),
			})
			return nil
		},
	}))
	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		code := http.StatusInternalServerError
		msg := "internal error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			}
		}
		logging.Warn("http_request_error", map[string]any{"status": code, "path": ctx.Path(), "error": err.Error()})
		if !ctx.Response().Committed {
			_ = ctx.JSON(code, map[string]any{"status": "error", "error": msg})
		}
	}

	e.GET("/", s.handleHealth)
	e.GET("/health", s.handleHealth)
	e.POST("/trigger", s.handleTrigger)
	e.GET("/manual", s.handleManual)
	e.POST("/manual", s.handleManual)
	e.GET("/stats", s.handleStats)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	s.echo = e
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	logging.Info("http_server_start", map[string]any{"addr": addr})
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type HealthStatus struct {
	Status        string    `json:"status"`
	Service       string    `json:"service"`
	Version       string    `json:"version"`
	Timestamp     time.Time `json:"timestamp"`
	TrustListSize int       `json:"trust_list_size"`
}

func (s *Server) handleHealth(c echo.Context) error {
	size := 0
	if s.list != nil {
		size = s.list.Info(c.Request().Context()).Size
	}
	return c.JSON(http.StatusOK, HealthStatus{
		Status:        "ok",
		Service:       "RugGuard",
		Version:       s.opts.Version,
		Timestamp:     s.now().UTC(),
		TrustListSize: size,
	})
}

type triggerRequest struct {
	Username       string `json:"username"`
	TargetUsername string `json:"target_username"`
	TweetID        string `json:"tweet_id"`
	TriggerText    string `json:"trigger_text"`
}

type triggerResponse struct {
	Status       string    `json:"status"`
	Username     string    `json:"username"`
	AnalysisText string    `json:"analysis_text"`
	Posted       bool      `json:"posted"`
	ReplyID      string    `json:"reply_id,omitempty"`
	PostError    string    `json:"post_error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *Server) handleTrigger(c echo.Context) error {
	var req triggerRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	name := strings.TrimSpace(req.Username)
	if name == "" {
		name = strings.TrimSpace(req.TargetUsername)
	}
	id := profile.ByUsername(name)
	if id.Empty() {
		return echo.NewHTTPError(http.StatusBadRequest, "username is required")
	}

	ctx := c.Request().Context()
	resp := triggerResponse{Status: "success", Username: id.Username, Timestamp: s.now().UTC()}
	report, err := s.analyzer.Analyze(ctx, id)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "account not found").SetInternal(err)
	case err != nil:
		logging.Warn("trigger_analysis_failed", map[string]any{"account": id.Username, "error": err.Error()})
		resp.Status = "unverified"
		resp.AnalysisText = s.formatter.Unverified(id.Username)
	default:
		text, err := s.formatter.Format(report)
		if err != nil {
			return err
		}
		resp.AnalysisText = text
		resp.Username = report.Username
	}

	if s.opts.PostReplies && req.TweetID != "" && s.publisher != nil {
		replyID, err := s.publisher.Publish(ctx, req.TweetID, resp.AnalysisText)
		if err != nil {
			resp.PostError = err.Error()
		} else {
			resp.Posted = replyID != ""
			resp.ReplyID = replyID
		}
	}
	return c.JSON(http.StatusOK, resp)
}

type manualResponse struct {
	Status       string                `json:"status"`
	Username     string                `json:"username"`
	AnalysisText string                `json:"analysis_text"`
	Score        float64               `json:"score"`
	Level        string                `json:"level"`
	Components   model.ScoreComponents `json:"components"`
	Cached       bool                  `json:"cached"`
	Degraded     []string              `json:"degraded,omitempty"`
	Timestamp    time.Time             `json:"timestamp"`
}

func (s *Server) handleManual(c echo.Context) error {
	name := c.QueryParam("username")
	if name == "" && c.Request().Method == http.MethodPost {
		var req triggerRequest
		if err := c.Bind(&req); err != nil {
			return err
		}
		name = req.Username
	}
	id := profile.ByUsername(name)
	if id.Empty() {
		return echo.NewHTTPError(http.StatusBadRequest, "username is required")
	}

	report, err := s.analyzer.Analyze(c.Request().Context(), id)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "account not found").SetInternal(err)
	case err != nil:
		return c.JSON(http.StatusOK, manualResponse{
			Status:       "unverified",
			Username:     id.Username,
			AnalysisText: s.formatter.Unverified(id.Username),
			Timestamp:    s.now().UTC(),
		})
	}
	text, err := s.formatter.Format(report)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, manualResponse{
		Status:       "success",
		Username:     report.Username,
		AnalysisText: text,
		Score:        model.Round1(report.Score),
		Level:        report.Level.String(),
		Components:   report.Components,
		Cached:       report.Cached,
		Degraded:     report.Degraded,
		Timestamp:    s.now().UTC(),
	})
}

type statsResponse struct {
	ProcessedTriggers int                `json:"processed_triggers"`
	TrustList         trust.ListInfo     `json:"trust_list"`
	UptimeSeconds     int64              `json:"uptime_seconds"`
	StartedAt         time.Time          `json:"started_at"`
	Version           string             `json:"version"`
	Activity          map[string]int     `json:"activity_24h,omitempty"`
	Hourly            []analytics.Bucket `json:"hourly,omitempty"`
}

func (s *Server) handleStats(c echo.Context) error {
	resp := statsResponse{
		UptimeSeconds: int64(s.now().Sub(s.started).Seconds()),
		StartedAt:     s.started.UTC(),
		Version:       s.opts.Version,
	}
	if s.processed != nil {
		resp.ProcessedTriggers = s.processed.ProcessedCount()
	}
	if s.list != nil {
		resp.TrustList = s.list.Info(c.Request().Context())
	}
	if s.opts.Activity != nil {
		resp.Activity = s.opts.Activity.Totals()
		resp.Hourly = s.opts.Activity.Hourly()
	}
	return c.JSON(http.StatusOK, resp)
}

package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"rugguard/internal/analytics"
	"rugguard/internal/analyzer"
	"rugguard/internal/config"
	"rugguard/internal/engage"
	"rugguard/internal/jobs"
	"rugguard/internal/logging"
	"rugguard/internal/profile"
	"rugguard/internal/reply"
	"rugguard/internal/robusthttp"
	"rugguard/internal/server"
	"rugguard/internal/trigger"
	"rugguard/internal/trust"
	"rugguard/internal/xclient"
)

// loadConfig reads .env files and the YAML config, validates it and sets up logging.
func loadConfig(cctx *cli.Context) (config.Config, error) {
	if err := config.LoadDotEnv(cctx.StringSlice("env-file")...); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.LoadOrDefault(cctx.String("config"))
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if lvl := cctx.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	if err := logging.Init(cfg.Log.Level, cfg.Log.File, cfg.Log.Format); err != nil {
		return cfg, fmt.Errorf("init logging: %w", err)
	}
	return cfg, nil
}

// components are the long-lived pieces shared by every command.
type components struct {
	cfg       config.Config
	api       *xclient.HTTPClient
	user      *xclient.UserClient
	list      *trust.List
	analyzer  *analyzer.Analyzer
	formatter *reply.Formatter
	budget    *engage.Budget
	activity  *analytics.Recorder
}

func build(cfg config.Config) (*components, error) {
	api := xclient.NewHTTPClient(cfg.Credentials.BearerToken, xclient.Options{
		BaseURL:     cfg.API.BaseURL,
		RPS:         cfg.API.RPS,
		Burst:       cfg.API.Burst,
		MaxAttempts: cfg.API.MaxAttempts,
		BaseBackoff: cfg.API.Backoff,
		Timeout:     cfg.API.Timeout,
	})
	if cfg.Credentials.BearerToken == "" {
		logging.Warn("missing_bearer_token", map[string]any{"hint": "set TWITTER_BEARER_TOKEN; API reads will fail"})
	}
	user := xclient.NewUserClient(api, cfg.Credentials.ConsumerKey, cfg.Credentials.ConsumerSecret,
		cfg.Credentials.AccessToken, cfg.Credentials.AccessSecret)

	list := trust.NewList(trust.ListOptions{
		URL:    cfg.TrustList.URL,
		TTL:    cfg.TrustList.TTL,
		Seed:   cfg.TrustList.Seed,
		Client: robusthttp.NewClient(cfg.TrustList.Timeout, robusthttp.WithSubsystem("trustlist")),
	})

	var overrides profile.OverrideSource
	if path := cfg.Analysis.FixturesPath; path != "" {
		fx, err := profile.LoadFixtures(path)
		if err != nil {
			return nil, fmt.Errorf("load fixtures: %w", err)
		}
		logging.Info("fixtures_loaded", map[string]any{"path": path, "accounts": fx.Len()})
		overrides = fx
	}
	fetcher := profile.NewFetcher(api, overrides)

	sc := cfg.Scoring
	scorer := trust.NewScorer(
		trust.Keywords{
			BioSuspicious:     sc.BioSuspicious,
			BioPositive:       sc.BioPositive,
			ContentRelevant:   sc.ContentRelevant,
			ContentSuspicious: sc.ContentSuspicious,
		},
		trust.Weights{
			AccountAge:    sc.Weights.AccountAge,
			FollowerRatio: sc.Weights.FollowerRatio,
			Bio:           sc.Weights.Bio,
			Engagement:    sc.Weights.Engagement,
			Content:       sc.Weights.Content,
			TrustList:     sc.Weights.TrustList,
		},
	)
	an := analyzer.New(fetcher, list, scorer, analyzer.Options{
		MaxRecentPosts: cfg.Analysis.MaxRecentPosts,
		FollowerSample: cfg.Analysis.FollowerSample,
		CacheSize:      cfg.Analysis.CacheSize,
		CacheTTL:       cfg.Analysis.CacheTTL,
	})

	formatter, err := reply.NewFormatter(cfg.Reply.Template, cfg.Reply.Limit, cfg.Reply.Marker)
	if err != nil {
		return nil, err
	}

	return &components{
		cfg:       cfg,
		api:       api,
		user:      user,
		list:      list,
		analyzer:  an,
		formatter: formatter,
		budget:    engage.NewBudget(cfg.Reply.MaxPerHour, cfg.Reply.MaxPerDay),
		activity:  analytics.NewRecorder(24 * time.Hour),
	}, nil
}

// publisher posts through the user client; with post false it only logs.
func (c *components) publisher(post bool) *reply.Publisher {
	return reply.NewPublisher(c.user, c.budget, reply.PublisherOptions{
		Limit:  c.cfg.Reply.Limit,
		Marker: c.cfg.Reply.Marker,
		DryRun: !post,
	})
}

func (c *components) scanner() (*trigger.Scanner, error) {
	return trigger.NewScanner(c.api, trigger.NewDetector(c.cfg.Trigger.Phrase), trigger.ScannerOptions{
		MaxResults:   c.cfg.Trigger.MaxResults,
		Capacity:     c.cfg.Trigger.ProcessedCapacity,
		Lookback:     c.cfg.Poll.Lookback,
		SelfUsername: c.cfg.Account.Username,
	})
}

func (c *components) poller(s *trigger.Scanner) (*jobs.Poller, error) {
	fb, err := jobs.NewFallback(c.cfg.Poll.Fallback, c.cfg.Poll.WebhookURL, c.cfg.Trigger.Phrase,
		robusthttp.NewClient(0, robusthttp.WithSubsystem("fallback"), robusthttp.WithMaxRetries(1)))
	if err != nil {
		return nil, err
	}
	return jobs.NewPoller(s, c.analyzer, c.formatter, c.publisher(c.cfg.Poll.PostReplies), jobs.PollerOptions{
		Interval: c.cfg.Poll.Interval,
		Pause:    c.cfg.Poll.Pause,
		Fallback: fb,
		Activity: c.activity,
	}), nil
}

// server builds the HTTP surface; s may be nil when no poller runs in-process.
func (c *components) server(s *trigger.Scanner, version string) *server.Server {
	var processed server.ProcessedCounter
	if s != nil {
		processed = s
	}
	return server.New(c.analyzer, c.formatter, c.publisher(c.cfg.Server.PostReplies), c.list, processed,
		server.Options{Version: version, PostReplies: c.cfg.Server.PostReplies, Activity: c.activity})
}

package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model.
// It captures credentials, trigger and polling behaviour, scoring inputs and the HTTP surface.
type Config struct {
	Account     AccountConfig     `yaml:"account"`
	Credentials CredentialsConfig `yaml:"credentials"`
	API         APIConfig         `yaml:"api"`
	Trigger     TriggerConfig     `yaml:"trigger"`
	Poll        PollConfig        `yaml:"poll"`
	TrustList   TrustListConfig   `yaml:"trustList"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Reply       ReplyConfig       `yaml:"reply"`
	Server      ServerConfig      `yaml:"server"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

type AccountConfig struct {
	// Bot handle, used to skip our own posts.
	Username string `yaml:"username"`
}

type CredentialsConfig struct {
	// X API bearer token for reads. If empty, read from env TWITTER_BEARER_TOKEN or X_BEARER_TOKEN
	BearerToken string `yaml:"bearerToken"`
	// OAuth1.0a user credentials for posting replies
	ConsumerKey    string `yaml:"consumerKey"`
	ConsumerSecret string `yaml:"consumerSecret"`
	AccessToken    string `yaml:"accessToken"`
	AccessSecret   string `yaml:"accessSecret"`
}

type APIConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	RPS         float64       `yaml:"rps"`
	Burst       int           `yaml:"burst"`
	MaxAttempts int           `yaml:"maxAttempts"`
	Backoff     time.Duration `yaml:"backoff"`
	Timeout     time.Duration `yaml:"timeout"`
}

type TriggerConfig struct {
	Phrase string `yaml:"phrase"`
	// Search page size, 10..100
	MaxResults int `yaml:"maxResults"`
	// Processed trigger ids remembered before the oldest is evicted
	ProcessedCapacity int `yaml:"processedCapacity"`
}

type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Pause between handling consecutive triggers
	Pause time.Duration `yaml:"pause"`
	// How far back the first search looks
	Lookback time.Duration `yaml:"lookback"`
	// "none", "log" or "webhook"
	Fallback   string `yaml:"fallback"`
	WebhookURL string `yaml:"webhookURL"`
	// When false analyses are logged but no reply is posted
	PostReplies bool `yaml:"postReplies"`
}

type TrustListConfig struct {
	URL     string        `yaml:"url"`
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
	// Used when the remote list has never loaded
	Seed []string `yaml:"seed"`
}

type AnalysisConfig struct {
	MaxRecentPosts int           `yaml:"maxRecentPosts"`
	FollowerSample int           `yaml:"followerSample"`
	CacheSize      int           `yaml:"cacheSize"`
	CacheTTL       time.Duration `yaml:"cacheTTL"`
	// Optional YAML file of per-username snapshot overrides
	FixturesPath string `yaml:"fixturesPath"`
}

type ScoringConfig struct {
	BioSuspicious     []string `yaml:"bioSuspicious"`
	BioPositive       []string `yaml:"bioPositive"`
	ContentRelevant   []string `yaml:"contentRelevant"`
	ContentSuspicious []string `yaml:"contentSuspicious"`
	Weights           Weights  `yaml:"weights"`
}

// Weights are the composite weights; they must sum to 1.
type Weights struct {
	AccountAge    float64 `yaml:"accountAge"`
	FollowerRatio float64 `yaml:"followerRatio"`
	Bio           float64 `yaml:"bio"`
	Engagement    float64 `yaml:"engagement"`
	Content       float64 `yaml:"content"`
	TrustList     float64 `yaml:"trustList"`
}

func (w Weights) Sum() float64 {
	return w.AccountAge + w.FollowerRatio + w.Bio + w.Engagement + w.Content + w.TrustList
}

type ReplyConfig struct {
	// pongo2 template; empty selects the built-in template
	Template string `yaml:"template"`
	Limit    int    `yaml:"limit"`
	Marker   string `yaml:"marker"`
	// Max replies per hour and per day
	MaxPerHour int `yaml:"maxPerHour"`
	MaxPerDay  int `yaml:"maxPerDay"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Whether POST /trigger with a tweet_id posts the reply
	PostReplies bool `yaml:"postReplies"`
}

type MetricsConfig struct {
	// Standalone metrics listener for `run` without the server; empty disables
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Account: AccountConfig{Username: "projectrugguard"},
		API: APIConfig{
			BaseURL:     "https://api.twitter.com/2",
			RPS:         1,
			Burst:       5,
			MaxAttempts: 3,
			Backoff:     500 * time.Millisecond,
			Timeout:     15 * time.Second,
		},
		Trigger: TriggerConfig{Phrase: "riddle me this", MaxResults: 10, ProcessedCapacity: 1000},
		Poll: PollConfig{
			Interval:    60 * time.Second,
			Pause:       2 * time.Second,
			Lookback:    15 * time.Minute,
			Fallback:    "log",
			PostReplies: true,
		},
		TrustList: TrustListConfig{
			URL:     "https://raw.githubusercontent.com/devsyrem/turst-list/main/list",
			TTL:     time.Hour,
			Timeout: 10 * time.Second,
			Seed:    []string{"solana", "anatoly_sol", "aeyakovenko", "stablechen", "epicenter_broz", "raj_gokal", "armaniferrante"},
		},
		Analysis: AnalysisConfig{MaxRecentPosts: 20, FollowerSample: 100, CacheSize: 256, CacheTTL: 6 * time.Hour},
		Scoring: ScoringConfig{
			BioSuspicious: []string{"guaranteed", "risk-free", "1000x", "moon", "lambo", "diamond hands", "to the moon",
				"financial advice", "not financial advice", "nfa", "dyor", "pump", "dump"},
			BioPositive:       []string{"developer", "founder", "cto", "ceo", "engineer", "blockchain", "defi", "protocol", "security", "audit"},
			ContentRelevant:   []string{"solana", "sol", "$sol", "spl", "phantom", "serum"},
			ContentSuspicious: []string{"buy now", "urgent", "🚨", "last chance", "limited time"},
			Weights:           Weights{AccountAge: 0.15, FollowerRatio: 0.20, Bio: 0.10, Engagement: 0.25, Content: 0.20, TrustList: 0.10},
		},
		Reply:   ReplyConfig{Limit: 280, Marker: "...", MaxPerHour: 60, MaxPerDay: 500},
		Server:  ServerConfig{Addr: ":5000"},
		Metrics: MetricsConfig{Addr: ""},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// LoadDotEnv loads variables from the given .env files (default ".env") without
// overriding the process environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

// ResolveEnv fills in config fields from environment variables. Credentials are only
// taken from the environment when unset; operational knobs always override the file.
func (c *Config) ResolveEnv() {
	if c.Credentials.BearerToken == "" {
		c.Credentials.BearerToken = firstEnv("TWITTER_BEARER_TOKEN", "X_BEARER_TOKEN")
	}
	if c.Credentials.ConsumerKey == "" {
		c.Credentials.ConsumerKey = firstEnv("TWITTER_API_KEY", "X_CONSUMER_KEY")
	}
	if c.Credentials.ConsumerSecret == "" {
		c.Credentials.ConsumerSecret = firstEnv("TWITTER_API_SECRET", "X_CONSUMER_SECRET")
	}
	if c.Credentials.AccessToken == "" {
		c.Credentials.AccessToken = firstEnv("TWITTER_ACCESS_TOKEN", "X_ACCESS_TOKEN")
	}
	if c.Credentials.AccessSecret == "" {
		c.Credentials.AccessSecret = firstEnv("TWITTER_ACCESS_TOKEN_SECRET", "X_ACCESS_SECRET")
	}
	if v := firstEnv("TRUST_LIST_URL"); v != "" {
		c.TrustList.URL = v
	}
	if v := firstEnv("CHECK_INTERVAL"); v != "" {
		if d, err := parseInterval(v); err == nil {
			c.Poll.Interval = d
		}
	}
	if v := firstEnv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := firstEnv("LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := firstEnv("MAX_RECENT_TWEETS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Analysis.MaxRecentPosts = n
		}
	}
	if v := firstEnv("MAX_REQUESTS_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Reply.MaxPerHour = n
		}
	}
	if v := firstEnv("WEBHOOK_URL"); v != "" {
		c.Poll.WebhookURL = v
	}
	if v := firstEnv("METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
}

// parseInterval accepts plain seconds ("60") or a Go duration ("1m").
func parseInterval(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks the values the bot cannot run without sensible settings for.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Trigger.Phrase) == "" {
		errs = append(errs, errors.New("trigger.phrase is empty"))
	}
	if c.Poll.Interval < time.Second {
		errs = append(errs, fmt.Errorf("poll.interval %s is below 1s", c.Poll.Interval))
	}
	switch c.Poll.Fallback {
	case "", "none", "log":
	case "webhook":
		if c.Poll.WebhookURL == "" {
			errs = append(errs, errors.New("poll.fallback webhook requires poll.webhookURL"))
		}
	default:
		errs = append(errs, fmt.Errorf("poll.fallback %q is not one of none, log, webhook", c.Poll.Fallback))
	}
	if c.Analysis.MaxRecentPosts < 0 || c.Analysis.MaxRecentPosts > 20 {
		errs = append(errs, fmt.Errorf("analysis.maxRecentPosts %d outside 0..20", c.Analysis.MaxRecentPosts))
	}
	if c.Analysis.FollowerSample < 0 || c.Analysis.FollowerSample > 100 {
		errs = append(errs, fmt.Errorf("analysis.followerSample %d outside 0..100", c.Analysis.FollowerSample))
	}
	if c.Reply.Limit <= len(c.Reply.Marker) {
		errs = append(errs, fmt.Errorf("reply.limit %d too small", c.Reply.Limit))
	}
	if s := c.Scoring.Weights.Sum(); math.Abs(s-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("scoring.weights sum to %.3f, want 1", s))
	}
	return errors.Join(errs...)
}

// Load reads YAML config from path on top of Default().
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults when path does not exist.
func LoadOrDefault(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		cfg.ResolveEnv()
		return cfg, nil
	}
	return cfg, err
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

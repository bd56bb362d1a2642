package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 1.0, cfg.Scoring.Weights.Sum(), 1e-9)
	assert.Equal(t, "riddle me this", cfg.Trigger.Phrase)
	assert.Equal(t, 280, cfg.Reply.Limit)
}

func TestSaveLoadRoundTripKeepsDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rugguard.yaml")
	cfg := Default()
	cfg.Poll.Interval = 90 * time.Second
	cfg.TrustList.TTL = 30 * time.Minute
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, got.Poll.Interval)
	assert.Equal(t, 30*time.Minute, got.TrustList.TTL)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trigger:\n  phrase: check this\npoll:\n  interval: 2m\n"), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "check this", cfg.Trigger.Phrase)
	assert.Equal(t, 2*time.Minute, cfg.Poll.Interval)
	assert.Equal(t, 1000, cfg.Trigger.ProcessedCapacity)
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("TWITTER_BEARER_TOKEN", "bearer")
	t.Setenv("X_CONSUMER_KEY", "ck")
	t.Setenv("CHECK_INTERVAL", "45")
	t.Setenv("MAX_REQUESTS_PER_HOUR", "12")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("TRUST_LIST_URL", "https://example.test/list")

	cfg := Default()
	cfg.ResolveEnv()
	assert.Equal(t, "bearer", cfg.Credentials.BearerToken)
	assert.Equal(t, "ck", cfg.Credentials.ConsumerKey)
	assert.Equal(t, 45*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 12, cfg.Reply.MaxPerHour)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "https://example.test/list", cfg.TrustList.URL)
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("RUGGUARD_TEST_A=file\nRUGGUARD_TEST_B=file\n"), 0o600))
	t.Setenv("RUGGUARD_TEST_A", "process")
	os.Unsetenv("RUGGUARD_TEST_B")
	t.Cleanup(func() { os.Unsetenv("RUGGUARD_TEST_B") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "process", os.Getenv("RUGGUARD_TEST_A"))
	assert.Equal(t, "file", os.Getenv("RUGGUARD_TEST_B"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Poll.Fallback = "webhook"
	cfg.Scoring.Weights.Bio = 0.5
	cfg.Analysis.MaxRecentPosts = 50
	err := cfg.Validate()
	require.Error(t, err)
	for _, s := range []string{"webhookURL", "weights", "maxRecentPosts"} {
		assert.Contains(t, err.Error(), s)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Trigger.Phrase, cfg.Trigger.Phrase)
}

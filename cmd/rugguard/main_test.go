package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rugguard/internal/config"
	"rugguard/internal/logging"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	app.ErrWriter = &buf
	err := app.Run(append([]string{"rugguard", "--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	return buf.String(), err
}

func TestInitWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rugguard.yaml")
	out, err := runApp(t, "--config", path, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Config written to:")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "riddle me this", cfg.Trigger.Phrase)

	_, err = runApp(t, "--config", path, "init")
	assert.Error(t, err)
	_, err = runApp(t, "--config", path, "init", "--force")
	assert.NoError(t, err)
}

const cliFixtures = `
accounts:
  - username: sample_dev
    bio: Solana developer and founder
    created: "2019-03-14"
    followers: 2847
    following: 1523
    recentPosts:
      - text: shipping a new solana program today
        created: "2025-12-01 10:00"
        likes: 30
        retweets: 10
        replies: 10
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	fixtures := filepath.Join(dir, "fixtures.yaml")
	require.NoError(t, os.WriteFile(fixtures, []byte(cliFixtures), 0o600))

	cfg := config.Default()
	cfg.TrustList.URL = ""
	cfg.TrustList.Seed = []string{"sample_dev", "solana"}
	cfg.Analysis.FixturesPath = fixtures
	cfg.Log.File = filepath.Join(dir, "rugguard.log")
	path := filepath.Join(dir, "rugguard.yaml")
	require.NoError(t, config.Save(path, cfg))
	return path
}

func TestAnalyzeFromFixtures(t *testing.T) {
	path := writeTestConfig(t)
	out, err := runApp(t, "--config", path, "analyze", "@Sample_Dev")
	require.NoError(t, err)
	assert.Contains(t, out, "RugGuard Analysis Complete")
	assert.Contains(t, out, "• Trust List: ✓")

	out, err = runApp(t, "--config", path, "analyze", "--json", "sample_dev")
	require.NoError(t, err)
	assert.Contains(t, out, `"analysis_text"`)
}

func TestAnalyzeRequiresUsername(t *testing.T) {
	_, err := runApp(t, "analyze")
	assert.Error(t, err)
}

func TestTrustListFallsBackToSeed(t *testing.T) {
	path := writeTestConfig(t)
	out, err := runApp(t, "--config", path, "trustlist")
	require.NoError(t, err)
	assert.Contains(t, out, "source=seed size=2")
	assert.Contains(t, out, "@sample_dev")
}

type pollFunc func(ctx context.Context) error

func (f pollFunc) Run(ctx context.Context) error { return f(ctx) }

func TestRunPollerLogsSchedulingErrors(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	t.Cleanup(func() { logging.SetOutput(os.Stdout) })

	runPoller(context.Background(), pollFunc(func(context.Context) error {
		return errors.New("schedule poller: bad interval")
	}))
	assert.Contains(t, buf.String(), "poll_loop_error")
	assert.Contains(t, buf.String(), "bad interval")

	buf.Reset()
	runPoller(context.Background(), pollFunc(func(context.Context) error { return context.Canceled }))
	assert.NotContains(t, buf.String(), "poll_loop_error")
}

// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/model"
)

// clearEnv blanks every known key; viper treats empty variables as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for key := range defaults {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.DBURL)
	assert.Equal(t, "https://hnrss.org", cfg.FeedBaseURL)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, time.Hour, cfg.SyncInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.SyncWindow)
	assert.Equal(t, 5, cfg.SyncConcurrency)
	assert.Empty(t, cfg.Repos)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("SYNC_INTERVAL", "15m")
	t.Setenv("SYNC_CONCURRENCY", "2")
	t.Setenv("REPOS_TO_SYNC", "golang/go, spf13/viper")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 15*time.Minute, cfg.SyncInterval)
	assert.Equal(t, 2, cfg.SyncConcurrency)
	assert.Equal(t, []model.RepoIdentifier{
		{Owner: "golang", Name: "go"},
		{Owner: "spf13", Name: "viper"},
	}, cfg.Repos)
}

func TestLoadConfig_DotEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("HTTP_ADDR=:9090\nLOG_FORMAT=text\n"), 0o600))
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "json", cfg.LogFormat, "environment wins over the .env file")
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown log level", "LOG_LEVEL", "verbose"},
		{"unknown log format", "LOG_FORMAT", "xml"},
		{"zero interval", "SYNC_INTERVAL", "0s"},
		{"negative window", "SYNC_WINDOW", "-1h"},
		{"zero concurrency", "SYNC_CONCURRENCY", "0"},
		{"malformed repository", "REPOS_TO_SYNC", "golang"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := LoadConfig(t.TempDir())
			assert.Error(t, err)
		})
	}
}

func TestParseSubscriptions(t *testing.T) {
	data := []byte(`
subscriptions:
  - repo: golang/go
    branch: master
    tags: [go, lang]
    update_frequency: weekly
    update_types: [commits, releases]
  - source_type: feed
    feed: show
    min_score: 100
`)
	seeds, err := ParseSubscriptions(data)
	require.NoError(t, err)
	require.Len(t, seeds, 2)

	gh := seeds[0]
	assert.Equal(t, model.SourceGitHub, gh.SourceType)
	assert.Equal(t, model.SourceConfig{Owner: "golang", Repo: "go", Branch: "master"}, gh.SourceConfig())
	freq, err := gh.Frequency()
	require.NoError(t, err)
	assert.Equal(t, model.FrequencyWeekly, freq)
	types, err := gh.Types()
	require.NoError(t, err)
	assert.Equal(t, []model.UpdateType{model.TrackCommits, model.TrackReleases}, types)

	fd := seeds[1]
	assert.Equal(t, model.SourceFeed, fd.SourceType)
	assert.Equal(t, model.SourceConfig{Feed: "show", MinScore: 100}, fd.SourceConfig())
}

func TestParseSubscriptions_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad repo":        "subscriptions:\n  - repo: golang\n",
		"missing feed":    "subscriptions:\n  - source_type: feed\n",
		"unknown source":  "subscriptions:\n  - source_type: gitlab\n    repo: a/b\n",
		"bad frequency":   "subscriptions:\n  - repo: a/b\n    update_frequency: hourly\n",
		"bad update type": "subscriptions:\n  - repo: a/b\n    update_types: [wiki]\n",
		"unknown field":   "subscriptions:\n  - repo: a/b\n    colour: red\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSubscriptions([]byte(data))
			assert.ErrorIs(t, err, custom_errors.ErrValidation)
		})
	}
}

func TestParseSubscriptions_Empty(t *testing.T) {
	seeds, err := ParseSubscriptions(nil)
	require.NoError(t, err)
	assert.Empty(t, seeds)
}

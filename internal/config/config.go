// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"activity-sync/internal/model"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	LogFormat         string        `mapstructure:"LOG_FORMAT"`
	LogFile           string        `mapstructure:"LOG_FILE"`
	DBURL             string        `mapstructure:"DB_URL"`
	GithubToken       string        `mapstructure:"GITHUB_TOKEN"`
	GithubAPIURL      string        `mapstructure:"GITHUB_API_URL"`
	FeedBaseURL       string        `mapstructure:"FEED_BASE_URL"`
	HTTPAddr          string        `mapstructure:"HTTP_ADDR"`
	HTTPTimeout       time.Duration `mapstructure:"HTTP_TIMEOUT"`
	SyncInterval      time.Duration `mapstructure:"SYNC_INTERVAL"`
	SyncWindow        time.Duration `mapstructure:"SYNC_WINDOW"`
	SyncConcurrency   int           `mapstructure:"SYNC_CONCURRENCY"`
	ReposToSync       []string      `mapstructure:"REPOS_TO_SYNC"`
	SubscriptionsFile string        `mapstructure:"SUBSCRIPTIONS_FILE"`

	Repos []model.RepoIdentifier `mapstructure:"-"`
}

var defaults = map[string]any{
	"LOG_LEVEL":          "info",
	"LOG_FORMAT":         "json",
	"LOG_FILE":           "",
	"DB_URL":             "",
	"GITHUB_TOKEN":       "",
	"GITHUB_API_URL":     "",
	"FEED_BASE_URL":      "https://hnrss.org",
	"HTTP_ADDR":          ":8080",
	"HTTP_TIMEOUT":       "30s",
	"SYNC_INTERVAL":      "1h",
	"SYNC_WINDOW":        "168h",
	"SYNC_CONCURRENCY":   5,
	"REPOS_TO_SYNC":      []string{},
	"SUBSCRIPTIONS_FILE": "",
}

// LoadConfig reads configuration from a .env file in any of the given
// directories (the working directory when none) and environment variables.
// Environment variables win.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read .env file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.LogLevel = strings.ToLower(c.LogLevel)
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}
	if c.FeedBaseURL == "" {
		return errors.New("FEED_BASE_URL must not be empty")
	}
	if c.SyncInterval <= 0 {
		return errors.New("SYNC_INTERVAL must be positive")
	}
	if c.SyncWindow < 0 {
		return errors.New("SYNC_WINDOW must not be negative")
	}
	if c.SyncConcurrency <= 0 {
		return errors.New("SYNC_CONCURRENCY must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("HTTP_TIMEOUT must be positive")
	}

	var repos []string
	for _, r := range c.ReposToSync {
		if r = strings.TrimSpace(r); r != "" {
			repos = append(repos, r)
		}
	}
	ids, err := model.ParseRepoIdentifiers(repos)
	if err != nil {
		return fmt.Errorf("invalid REPOS_TO_SYNC: %w", err)
	}
	c.ReposToSync, c.Repos = repos, ids
	return nil
}

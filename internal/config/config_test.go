package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebastian-ames3/traderadar/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()

	if cfg.Database.Path != "./traderadar.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if got := cfg.Collect.ParseInterval(); got != 15*time.Minute {
		t.Errorf("collect interval = %s", got)
	}
	if got := cfg.Collect.ParseLookback(); got != 48*time.Hour {
		t.Errorf("collect lookback = %s", got)
	}
	if got := cfg.Sources.Reports.ParseLookback(); got != 336*time.Hour {
		t.Errorf("reports lookback = %s", got)
	}
	if cfg.Queue.MaxConcurrent != 2 || cfg.Queue.MaxRetries != 3 {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if got := cfg.Queue.ParseRetryBackoff(); got != 5*time.Minute {
		t.Errorf("retry backoff = %s", got)
	}
	if got := cfg.Health.ParseStaleThreshold(); got != 48*time.Hour {
		t.Errorf("stale threshold = %s", got)
	}
	if cfg.Alerting.FailureStreak != 2 || cfg.Alerting.ErrorSpike != 5 {
		t.Errorf("alerting = %+v", cfg.Alerting)
	}
	if got := cfg.Alerting.ParseTTL(); got != 72*time.Hour {
		t.Errorf("alert ttl = %s", got)
	}
	if cfg.Confluence.StalenessDays != 14 {
		t.Errorf("staleness days = %d", cfg.Confluence.StalenessDays)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadAppliesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
database:
  path: /var/lib/traderadar/radar.db
collect:
  interval: 5m
  symbols: [SPX, NQ]
  require_match: true
sources:
  blog:
    enabled: true
    feed_url: https://blog.example.com/feed.xml
queue:
  max_concurrent: 4
server:
  port: 9090
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Database.Path != "/var/lib/traderadar/radar.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if got := cfg.Collect.ParseInterval(); got != 5*time.Minute {
		t.Errorf("interval = %s", got)
	}
	if len(cfg.Collect.Symbols) != 2 || cfg.Collect.Symbols[0] != "SPX" {
		t.Errorf("symbols = %v", cfg.Collect.Symbols)
	}
	if !cfg.Collect.RequireMatch {
		t.Error("require_match not applied")
	}
	if !cfg.Sources.Blog.Enabled || cfg.Sources.Blog.FeedURL != "https://blog.example.com/feed.xml" {
		t.Errorf("blog = %+v", cfg.Sources.Blog)
	}
	if cfg.Queue.MaxConcurrent != 4 {
		t.Errorf("max_concurrent = %d", cfg.Queue.MaxConcurrent)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}

	// Values the file does not mention keep their defaults.
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("max_retries = %d", cfg.Queue.MaxRetries)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("TRADERADAR_DB_PATH", "/tmp/env.db")
	t.Setenv("TRADERADAR_LOG_LEVEL", "debug")
	t.Setenv("YOUTUBE_API_KEY", "AIzaSyTESTKEY")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/T0/B0/xyz")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.Sources.YouTube.APIKey != "AIzaSyTESTKEY" {
		t.Errorf("api key = %q", cfg.Sources.YouTube.APIKey)
	}
	// Supplying a Slack webhook URL turns the notifier on.
	if !cfg.Notify.Slack.Enabled || cfg.Notify.Slack.WebhookURL == "" {
		t.Errorf("slack = %+v", cfg.Notify.Slack)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("database:\n  path: /from/yaml.db\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TRADERADAR_DB_PATH", "/from/env.db")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Path != "/from/env.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("queue: [broken\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr []string
	}{
		{
			name:   "default is valid",
			mutate: func(*config.Config) {},
		},
		{
			name:    "missing database path",
			mutate:  func(c *config.Config) { c.Database.Path = "" },
			wantErr: []string{"database.path"},
		},
		{
			name: "youtube enabled without credentials",
			mutate: func(c *config.Config) {
				c.Sources.YouTube.Enabled = true
			},
			wantErr: []string{"YOUTUBE_API_KEY", "channel_id", "TRANSCRIBER_URL"},
		},
		{
			name: "youtube fully configured",
			mutate: func(c *config.Config) {
				c.Sources.YouTube.Enabled = true
				c.Sources.YouTube.APIKey = "key"
				c.Sources.YouTube.ChannelID = "UCanalyst"
				c.Harvest.TranscriberURL = "http://localhost:9000"
			},
		},
		{
			name: "discord enabled without token or channels",
			mutate: func(c *config.Config) {
				c.Sources.Discord.Enabled = true
			},
			wantErr: []string{"DISCORD_BOT_TOKEN", "channels"},
		},
		{
			name: "blog enabled without feed",
			mutate: func(c *config.Config) {
				c.Sources.Blog.Enabled = true
			},
			wantErr: []string{"feed_url"},
		},
		{
			name: "slack notifier without webhook",
			mutate: func(c *config.Config) {
				c.Notify.Slack.Enabled = true
			},
			wantErr: []string{"SLACK_WEBHOOK_URL"},
		},
		{
			name:    "port out of range",
			mutate:  func(c *config.Config) { c.Server.Port = 70000 },
			wantErr: []string{"out of range"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected a validation error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q should mention %q", err, want)
				}
			}
		})
	}
}

func TestParseDurationFallbacks(t *testing.T) {
	q := config.QueueConfig{PollInterval: "not-a-duration", RetryBackoff: "-5m"}
	if got := q.ParsePollInterval(); got != 15*time.Second {
		t.Errorf("bad value should fall back: %s", got)
	}
	if got := q.ParseRetryBackoff(); got != 5*time.Minute {
		t.Errorf("negative value should fall back: %s", got)
	}
	if got := (config.CollectConfig{Interval: "1h"}).ParseInterval(); got != time.Hour {
		t.Errorf("interval = %s", got)
	}
}

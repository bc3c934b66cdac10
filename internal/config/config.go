package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration. Secrets never live in YAML; they
// are injected through environment variables only.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Collect    CollectConfig    `yaml:"collect"`
	Sources    SourcesConfig    `yaml:"sources"`
	Queue      QueueConfig      `yaml:"queue"`
	Health     HealthConfig     `yaml:"health"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Confluence ConfluenceConfig `yaml:"confluence"`
	Harvest    HarvestConfig    `yaml:"harvest"`
	Notify     NotifyConfig     `yaml:"notify"`
	Server     ServerConfig     `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level"`  // trace..panic
	Format string `yaml:"format"` // "text" or "json"
}

// CollectConfig configures the collection cycle.
type CollectConfig struct {
	Interval     string   `yaml:"interval"`
	Lookback     string   `yaml:"lookback"`
	Symbols      []string `yaml:"symbols"`       // empty = default watchlist
	RequireMatch bool     `yaml:"require_match"` // drop items without a watchlist symbol
}

// ParseInterval returns the collection interval as time.Duration.
func (c CollectConfig) ParseInterval() time.Duration {
	return parseDuration(c.Interval, 15*time.Minute)
}

// ParseLookback returns the collection lookback window.
func (c CollectConfig) ParseLookback() time.Duration {
	return parseDuration(c.Lookback, 48*time.Hour)
}

// SourcesConfig holds configuration for all content sources.
type SourcesConfig struct {
	YouTube YouTubeConfig `yaml:"youtube"`
	Blog    BlogConfig    `yaml:"blog"`
	Reports ReportsConfig `yaml:"reports"`
	Discord DiscordConfig `yaml:"discord"`
}

// YouTubeConfig for the analyst channel collector.
type YouTubeConfig struct {
	Enabled    bool   `yaml:"enabled"`
	APIKey     string `yaml:"-"` // YOUTUBE_API_KEY
	ChannelID  string `yaml:"channel_id"`
	MaxResults int    `yaml:"max_results"`
}

// BlogConfig for the analyst blog RSS collector.
type BlogConfig struct {
	Enabled bool   `yaml:"enabled"`
	FeedURL string `yaml:"feed_url"`
}

// ReportsConfig for the dated research report collector.
type ReportsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	FeedURL  string `yaml:"feed_url"`
	Lookback string `yaml:"lookback"`
}

// ParseLookback returns the report lookback window.
func (r ReportsConfig) ParseLookback() time.Duration {
	return parseDuration(r.Lookback, 14*24*time.Hour)
}

// DiscordConfig for the trading room message collector.
type DiscordConfig struct {
	Enabled  bool     `yaml:"enabled"`
	BotToken string   `yaml:"-"` // DISCORD_BOT_TOKEN
	GuildID  string   `yaml:"guild_id"`
	Channels []string `yaml:"channels"`
	Limit    int      `yaml:"limit"`
}

// QueueConfig configures the transcription queue and worker.
type QueueConfig struct {
	PollInterval     string `yaml:"poll_interval"`
	WatchdogInterval string `yaml:"watchdog_interval"`
	StuckThreshold   string `yaml:"stuck_threshold"`
	MaxConcurrent    int    `yaml:"max_concurrent"`
	MaxRetries       int    `yaml:"max_retries"`
	RetryBackoff     string `yaml:"retry_backoff"`
}

// ParsePollInterval returns how often the worker polls for jobs.
func (q QueueConfig) ParsePollInterval() time.Duration {
	return parseDuration(q.PollInterval, 15*time.Second)
}

// ParseWatchdogInterval returns how often stuck jobs are reclaimed.
func (q QueueConfig) ParseWatchdogInterval() time.Duration {
	return parseDuration(q.WatchdogInterval, 5*time.Minute)
}

// ParseStuckThreshold returns how long a processing job may run.
func (q QueueConfig) ParseStuckThreshold() time.Duration {
	return parseDuration(q.StuckThreshold, 30*time.Minute)
}

// ParseRetryBackoff returns the wait between retry attempts.
func (q QueueConfig) ParseRetryBackoff() time.Duration {
	return parseDuration(q.RetryBackoff, 5*time.Minute)
}

// HealthConfig configures source health tracking.
type HealthConfig struct {
	StaleThreshold string `yaml:"stale_threshold"`
	EventRetention string `yaml:"event_retention"`
}

// ParseStaleThreshold returns how long without a successful collection
// marks a source stale.
func (h HealthConfig) ParseStaleThreshold() time.Duration {
	return parseDuration(h.StaleThreshold, 48*time.Hour)
}

// ParseEventRetention returns how long raw collection events are kept.
func (h HealthConfig) ParseEventRetention() time.Duration {
	return parseDuration(h.EventRetention, 7*24*time.Hour)
}

// AlertingConfig configures alert rules and scheduling.
type AlertingConfig struct {
	FailureStreak int    `yaml:"failure_streak"`
	ErrorSpike    int    `yaml:"error_spike"`
	BacklogAge    string `yaml:"backlog_age"`
	TTL           string `yaml:"ttl"`
	CheckInterval string `yaml:"check_interval"`
}

// ParseBacklogAge returns how old the oldest pending job must be
// before a backlog alert fires.
func (a AlertingConfig) ParseBacklogAge() time.Duration {
	return parseDuration(a.BacklogAge, 24*time.Hour)
}

// ParseTTL returns how long an unacknowledged alert stays open.
func (a AlertingConfig) ParseTTL() time.Duration {
	return parseDuration(a.TTL, 72*time.Hour)
}

// ParseCheckInterval returns how often alert rules are evaluated.
func (a AlertingConfig) ParseCheckInterval() time.Duration {
	return parseDuration(a.CheckInterval, 15*time.Minute)
}

// ConfluenceConfig configures symbol confluence scoring.
type ConfluenceConfig struct {
	StalenessDays int    `yaml:"staleness_days"`
	SweepSchedule string `yaml:"sweep_schedule"` // cron spec for the staleness sweep
}

// HarvestConfig configures transcription and LLM analysis.
type HarvestConfig struct {
	TranscriberURL string `yaml:"transcriber_url"`
	AnthropicKey   string `yaml:"-"` // ANTHROPIC_API_KEY
	Model          string `yaml:"model"`
	MaxTokens      int    `yaml:"max_tokens"`
	MaxRetries     int    `yaml:"max_retries"`
	Timeout        string `yaml:"timeout"`
}

// ParseTimeout returns the per-request harvest timeout.
func (h HarvestConfig) ParseTimeout() time.Duration {
	return parseDuration(h.Timeout, 2*time.Minute)
}

// NotifyConfig configures alert destinations.
type NotifyConfig struct {
	Slack   SlackConfig          `yaml:"slack"`
	Discord DiscordWebhookConfig `yaml:"discord"`
	Webhook WebhookConfig        `yaml:"webhook"`
}

// SlackConfig for Slack webhook notifications.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"-"` // SLACK_WEBHOOK_URL
}

// DiscordWebhookConfig for Discord webhook notifications.
type DiscordWebhookConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"-"` // DISCORD_WEBHOOK_URL
}

// WebhookConfig for generic webhook notifications.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"-"` // TRADERADAR_WEBHOOK_SECRET
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./traderadar.db"},
		Log:      LogConfig{Level: "info", Format: "text"},
		Collect: CollectConfig{
			Interval: "15m",
			Lookback: "48h",
		},
		Sources: SourcesConfig{
			YouTube: YouTubeConfig{MaxResults: 20},
			Reports: ReportsConfig{Lookback: "336h"},
			Discord: DiscordConfig{Limit: 50},
		},
		Queue: QueueConfig{
			PollInterval:     "15s",
			WatchdogInterval: "5m",
			StuckThreshold:   "30m",
			MaxConcurrent:    2,
			MaxRetries:       3,
			RetryBackoff:     "5m",
		},
		Health: HealthConfig{
			StaleThreshold: "48h",
			EventRetention: "168h",
		},
		Alerting: AlertingConfig{
			FailureStreak: 2,
			ErrorSpike:    5,
			BacklogAge:    "24h",
			TTL:           "72h",
			CheckInterval: "15m",
		},
		Confluence: ConfluenceConfig{
			StalenessDays: 14,
			SweepSchedule: "0 6 * * *",
		},
		Harvest: HarvestConfig{
			Model:      "claude-sonnet-4-20250514",
			MaxTokens:  2048,
			MaxRetries: 3,
			Timeout:    "2m",
		},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies env var
// overrides. A .env file in the working directory is read first so
// local development does not need exported variables.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRADERADAR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TRADERADAR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		cfg.Sources.YouTube.APIKey = v
	}
	if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		cfg.Sources.Discord.BotToken = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Harvest.AnthropicKey = v
	}
	if v := os.Getenv("TRANSCRIBER_URL"); v != "" {
		cfg.Harvest.TranscriberURL = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notify.Slack.WebhookURL = v
		cfg.Notify.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Notify.Discord.WebhookURL = v
		cfg.Notify.Discord.Enabled = true
	}
	if v := os.Getenv("TRADERADAR_WEBHOOK_SECRET"); v != "" {
		cfg.Notify.Webhook.Secret = v
	}
}

// Validate reports configuration that cannot work at runtime.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Sources.YouTube.Enabled {
		if c.Sources.YouTube.APIKey == "" {
			errs = append(errs, errors.New("youtube source enabled but YOUTUBE_API_KEY is not set"))
		}
		if c.Sources.YouTube.ChannelID == "" {
			errs = append(errs, errors.New("sources.youtube.channel_id is required"))
		}
		if c.Harvest.TranscriberURL == "" {
			errs = append(errs, errors.New("youtube source enabled but no transcriber configured (set TRANSCRIBER_URL)"))
		}
	}
	if c.Sources.Blog.Enabled && c.Sources.Blog.FeedURL == "" {
		errs = append(errs, errors.New("sources.blog.feed_url is required"))
	}
	if c.Sources.Reports.Enabled && c.Sources.Reports.FeedURL == "" {
		errs = append(errs, errors.New("sources.reports.feed_url is required"))
	}
	if c.Sources.Discord.Enabled {
		if c.Sources.Discord.BotToken == "" {
			errs = append(errs, errors.New("discord source enabled but DISCORD_BOT_TOKEN is not set"))
		}
		if len(c.Sources.Discord.Channels) == 0 {
			errs = append(errs, errors.New("sources.discord.channels is required"))
		}
	}
	if c.Notify.Slack.Enabled && c.Notify.Slack.WebhookURL == "" {
		errs = append(errs, errors.New("slack notifier enabled but SLACK_WEBHOOK_URL is not set"))
	}
	if c.Notify.Discord.Enabled && c.Notify.Discord.WebhookURL == "" {
		errs = append(errs, errors.New("discord notifier enabled but DISCORD_WEBHOOK_URL is not set"))
	}
	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		errs = append(errs, errors.New("notify.webhook.url is required"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	return errors.Join(errs...)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

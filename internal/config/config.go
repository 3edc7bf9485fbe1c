package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Trend    TrendConfig    `yaml:"trend"`
	Cache    CacheConfig    `yaml:"cache"`
	Server   ServerConfig   `yaml:"server"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Log      LogConfig      `yaml:"log"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Alerts   AlertsConfig   `yaml:"alerts"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// TrendConfig holds the ranking windows and bounds. Windows accept Go
// durations plus a "d" suffix for days, e.g. "30d".
type TrendConfig struct {
	LongWindow     string  `yaml:"long_window" validate:"required"`
	ShortWindow    string  `yaml:"short_window" validate:"required"`
	CandidateLimit int     `yaml:"candidate_limit" validate:"gt=0"`
	ResultLimit    int     `yaml:"result_limit" validate:"gt=0"`
	Threshold      float64 `yaml:"threshold" validate:"gte=0"`
}

// Windows returns the parsed long and short windows.
func (t TrendConfig) Windows() (long, short time.Duration, err error) {
	if long, err = ParseDuration(t.LongWindow); err != nil {
		return 0, 0, fmt.Errorf("long_window: %w", err)
	}
	if short, err = ParseDuration(t.ShortWindow); err != nil {
		return 0, 0, fmt.Errorf("short_window: %w", err)
	}
	if long <= 0 || short <= 0 {
		return 0, 0, fmt.Errorf("windows must be positive (long %s, short %s)", long, short)
	}
	return long, short, nil
}

// CacheConfig bounds how stale a served ranking may be. "0s" disables it.
type CacheConfig struct {
	TTL string `yaml:"ttl"`
}

// ParseTTL returns the cache ttl, or zero when unset or invalid.
func (c CacheConfig) ParseTTL() time.Duration {
	d, err := ParseDuration(c.TTL)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" validate:"min=1,max=65535"`
}

// ScheduleConfig configures the background refresh loop of the daemon.
type ScheduleConfig struct {
	RefreshInterval string `yaml:"refresh_interval"`
}

// ParseRefreshInterval returns the refresh interval as time.Duration.
func (s ScheduleConfig) ParseRefreshInterval() time.Duration {
	d, err := ParseDuration(s.RefreshInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// LogConfig configures logrus output.
type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format     string `yaml:"format" validate:"oneof=text json"`
	Output     string `yaml:"output" validate:"oneof=stdout file both"`
	File       string `yaml:"file" validate:"required_unless=Output stdout"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// KafkaConfig configures the order and view event consumer.
type KafkaConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Brokers    []string `yaml:"brokers" validate:"required_if=Enabled true"`
	GroupID    string   `yaml:"group_id"`
	OrderTopic string   `yaml:"order_topic"`
	ViewTopic  string   `yaml:"view_topic"`
}

// CatalogConfig lists product feeds imported into the catalog.
type CatalogConfig struct {
	Feeds []FeedItem `yaml:"feeds" validate:"dive"`
}

// FeedItem is a single product feed entry.
type FeedItem struct {
	Name string `yaml:"name" validate:"required"`
	URL  string `yaml:"url" validate:"required,url"`
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Slack   ChatConfig    `yaml:"slack"`
	Discord ChatConfig    `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// ChatConfig for Slack or Discord incoming webhooks.
type ChatConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url" validate:"required_if=Enabled true"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"required_if=Enabled true"`
	Secret  string `yaml:"secret"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./shoptrend.db"},
		Trend: TrendConfig{
			LongWindow:     "30d",
			ShortWindow:    "7d",
			CandidateLimit: 15,
			ResultLimit:    10,
			Threshold:      50,
		},
		Cache:    CacheConfig{TTL: "5m"},
		Server:   ServerConfig{Port: 8080},
		Schedule: ScheduleConfig{RefreshInterval: "5m"},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			File:       "./logs/shoptrend.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Kafka: KafkaConfig{
			GroupID:    "shoptrend",
			OrderTopic: "shop.orders",
			ViewTopic:  "shop.views",
		},
	}
}

// Load reads configuration from a YAML file, applies .env and env var
// overrides, and validates the result.
func Load(path string) (*Config, error) {
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

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and that the trend windows parse.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, _, err := c.Trend.Windows(); err != nil {
		return fmt.Errorf("invalid config: trend %w", err)
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SHOPTREND_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SHOPTREND_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SHOPTREND_CACHE_TTL"); v != "" {
		cfg.Cache.TTL = v
	}
	if v := os.Getenv("SHOPTREND_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("SHOPTREND_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("SHOPTREND_SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("SHOPTREND_DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("SHOPTREND_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Webhook.URL = v
		cfg.Alerts.Webhook.Enabled = true
	}
	if v := os.Getenv("SHOPTREND_WEBHOOK_SECRET"); v != "" {
		cfg.Alerts.Webhook.Secret = v
	}
}

// ParseDuration is time.ParseDuration with an extra "d" unit for days.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.ParseFloat(days, 64)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", s, err)
		}
		return time.Duration(n * float64(24*time.Hour)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}

// Package config provides YAML-based configuration loading for Signalpost.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Env overrides for secrets that should stay out of the config file.
const (
	EnvTelegramToken = "SIGNALPOST_TELEGRAM_TOKEN"
	EnvWebhookSecret = "SIGNALPOST_WEBHOOK_SECRET"
)

// Config is the top-level Signalpost configuration, loaded from config.yaml.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Remote   RemoteConfig   `yaml:"remote"`
	Database DatabaseConfig `yaml:"database"`
	Poll     PollConfig     `yaml:"poll"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// TelegramConfig holds the bot identity and update-delivery mode.
type TelegramConfig struct {
	Token    string        `yaml:"token"`
	AdminIDs []int64       `yaml:"admin_ids"`
	Mode     string        `yaml:"mode"` // "poll" (default) or "webhook"
	Webhook  WebhookConfig `yaml:"webhook"`
}

// WebhookConfig configures webhook-mode update delivery.
type WebhookConfig struct {
	Port   int    `yaml:"port"`
	Secret string `yaml:"secret"`
}

// RemoteConfig points at the remote assistant service. Per-tenant API keys
// live in the store, not here.
type RemoteConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// DatabaseConfig selects and configures the state store backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PollConfig holds the sweep cadences as cron specs.
type PollConfig struct {
	Schedule          string `yaml:"schedule"`
	ReconcileSchedule string `yaml:"reconcile_schedule"`
}

// NotifyConfig tunes the notification policy.
type NotifyConfig struct {
	CollapseThreshold int `yaml:"collapse_threshold"`
	PlanStepLimit     int `yaml:"plan_step_limit"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Environment
// overrides are applied before validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv pulls secrets from the environment when set there.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvTelegramToken); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv(EnvWebhookSecret); v != "" {
		c.Telegram.Webhook.Secret = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Telegram.Mode == "" {
		c.Telegram.Mode = "poll"
	}
	if c.Telegram.Webhook.Port == 0 {
		c.Telegram.Webhook.Port = 8443
	}
	if c.Remote.TimeoutSeconds == 0 {
		c.Remote.TimeoutSeconds = 30
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "signalpost.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
	}
	if c.Poll.Schedule == "" {
		c.Poll.Schedule = "@every 1m"
	}
	if c.Poll.ReconcileSchedule == "" {
		c.Poll.ReconcileSchedule = "@every 15m"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Telegram.Token == "" {
		errs = append(errs, fmt.Sprintf("telegram.token is required (or %s)", EnvTelegramToken))
	}
	switch c.Telegram.Mode {
	case "poll":
	case "webhook":
		if c.Telegram.Webhook.Secret == "" {
			errs = append(errs, fmt.Sprintf("telegram.webhook.secret is required in webhook mode (or %s)", EnvWebhookSecret))
		}
	default:
		errs = append(errs, fmt.Sprintf("telegram.mode must be poll or webhook, got %q", c.Telegram.Mode))
	}
	if c.Remote.BaseURL == "" {
		errs = append(errs, "remote.base_url is required")
	}
	switch c.Database.Driver {
	case "sqlite":
	case "mysql":
		if c.Database.Database == "" {
			errs = append(errs, "database.database is required for mysql")
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver must be sqlite or mysql, got %q", c.Database.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

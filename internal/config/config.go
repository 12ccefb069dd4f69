// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchboard configuration, loaded from switchboard.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Bot      BotConfig      `yaml:"bot"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Fanout   FanoutConfig   `yaml:"fanout"`
	Notify   NotifyConfig   `yaml:"notify"`
	Policies PoliciesConfig `yaml:"policies"`
	ERP      ERPConfig      `yaml:"erp"`
	Agents   []AgentConfig  `yaml:"agents"`
}

// DatabaseConfig holds connection settings for the MySQL server.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// WebhookConfig configures the inbound webhook HTTP boundary.
type WebhookConfig struct {
	Port        int    `yaml:"port"`
	VerifyToken string `yaml:"verify_token"`
	// AppSecret signs webhook bodies (HMAC-SHA256). Empty disables signature
	// validation (permissive mode, for local development only).
	AppSecret string `yaml:"app_secret"`
}

// WhatsAppConfig configures the outbound WhatsApp Cloud API client.
type WhatsAppConfig struct {
	AccessToken   string `yaml:"access_token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	BusinessID    string `yaml:"business_id"`
	APIBase       string `yaml:"api_base"`
}

// BotConfig configures the automated-flow classifier.
type BotConfig struct {
	TriggerKeywords []string `yaml:"trigger_keywords"`
	MenuText        string   `yaml:"menu_text"`
	WelcomeText     string   `yaml:"welcome_text"`
	// DefaultCountryCode is prefixed to phone numbers that arrive without one.
	DefaultCountryCode string `yaml:"default_country_code"`
}

// PipelineConfig tunes the ingestion worker pool.
type PipelineConfig struct {
	Workers         int `yaml:"workers"`
	PollIntervalSec int `yaml:"poll_interval_sec"`
	TaskTimeoutSec  int `yaml:"task_timeout_sec"`
	MaxAttempts     int `yaml:"max_attempts"`
	// ClaimTimeoutSec is how long a processing task may sit unclaimed-looking
	// before it is considered orphaned and redelivered.
	ClaimTimeoutSec int `yaml:"claim_timeout_sec"`
	// RetryBackoffSec delays a failed task's next attempt, scaled by the
	// attempt count.
	RetryBackoffSec int `yaml:"retry_backoff_sec"`
}

// FanoutConfig tunes the outbox event dispatcher.
type FanoutConfig struct {
	PollIntervalSec int `yaml:"poll_interval_sec"`
	MaxRetries      int `yaml:"max_retries"`
	BackoffSec      int `yaml:"backoff_sec"`
	// ClaimTimeoutSec is how long a processing event may sit before it is
	// considered orphaned (its dispatcher died) and redelivered.
	ClaimTimeoutSec int `yaml:"claim_timeout_sec"`
}

// NotifyConfig selects and configures the agent notification adapter.
type NotifyConfig struct {
	Platform string        `yaml:"platform"` // "slack", "discord", or "" for none
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack credentials for the notifier.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordConfig holds Discord credentials for the notifier.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// PoliciesConfig holds scheduled queue policies.
type PoliciesConfig struct {
	// EscalateAfterMin promotes unassigned open conversations to urgent after
	// this many minutes in queue.
	EscalateAfterMin int    `yaml:"escalate_after_min"`
	EscalateCron     string `yaml:"escalate_cron"`
	// ArchiveAfterDays archives conversations closed at least this long ago.
	ArchiveAfterDays int    `yaml:"archive_after_days"`
	ArchiveCron      string `yaml:"archive_cron"`
}

// ERPConfig configures the external ERP identity sync endpoint.
type ERPConfig struct {
	BaseURL string `yaml:"base_url"`
}

// AgentConfig seeds an agent row at migration time.
type AgentConfig struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	SlackUserID      string `yaml:"slack_user_id"`
	DiscordChannelID string `yaml:"discord_channel_id"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Database == "" {
		c.Database.Database = "switchboard"
	}
	if c.Webhook.Port == 0 {
		c.Webhook.Port = 8080
	}
	if c.WhatsApp.APIBase == "" {
		c.WhatsApp.APIBase = "https://graph.facebook.com/v19.0"
	}
	if len(c.Bot.TriggerKeywords) == 0 {
		c.Bot.TriggerKeywords = []string{"menu", "help"}
	}
	if c.Bot.DefaultCountryCode == "" {
		c.Bot.DefaultCountryCode = "55"
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.PollIntervalSec == 0 {
		c.Pipeline.PollIntervalSec = 2
	}
	if c.Pipeline.TaskTimeoutSec == 0 {
		c.Pipeline.TaskTimeoutSec = 60
	}
	if c.Pipeline.MaxAttempts == 0 {
		c.Pipeline.MaxAttempts = 3
	}
	if c.Pipeline.ClaimTimeoutSec == 0 {
		c.Pipeline.ClaimTimeoutSec = 300
	}
	if c.Pipeline.RetryBackoffSec == 0 {
		c.Pipeline.RetryBackoffSec = 30
	}
	if c.Fanout.PollIntervalSec == 0 {
		c.Fanout.PollIntervalSec = 2
	}
	if c.Fanout.MaxRetries == 0 {
		c.Fanout.MaxRetries = 5
	}
	if c.Fanout.BackoffSec == 0 {
		c.Fanout.BackoffSec = 30
	}
	if c.Fanout.ClaimTimeoutSec == 0 {
		c.Fanout.ClaimTimeoutSec = 300
	}
	if c.Policies.EscalateAfterMin == 0 {
		c.Policies.EscalateAfterMin = 60
	}
	if c.Policies.EscalateCron == "" {
		c.Policies.EscalateCron = "*/10 * * * *"
	}
	if c.Policies.ArchiveAfterDays == 0 {
		c.Policies.ArchiveAfterDays = 30
	}
	if c.Policies.ArchiveCron == "" {
		c.Policies.ArchiveCron = "0 3 * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Webhook.VerifyToken == "" {
		errs = append(errs, "webhook.verify_token is required")
	}
	switch c.Notify.Platform {
	case "", "slack", "discord":
	default:
		errs = append(errs, fmt.Sprintf("notify.platform %q is not supported", c.Notify.Platform))
	}
	if c.Notify.Platform == "slack" && c.Notify.Slack.BotToken == "" {
		errs = append(errs, "notify.slack.bot_token is required when platform is slack")
	}
	if c.Notify.Platform == "discord" && c.Notify.Discord.BotToken == "" {
		errs = append(errs, "notify.discord.bot_token is required when platform is discord")
	}
	for i, a := range c.Agents {
		if a.ID == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].id is required", i))
		}
		if a.Name == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].name is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// PollInterval returns the pipeline poll interval as a duration.
func (p PipelineConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSec) * time.Second
}

// TaskTimeout returns the per-task execution timeout as a duration.
func (p PipelineConfig) TaskTimeout() time.Duration {
	return time.Duration(p.TaskTimeoutSec) * time.Second
}

// ClaimTimeout returns the orphaned-claim redelivery timeout as a duration.
func (p PipelineConfig) ClaimTimeout() time.Duration {
	return time.Duration(p.ClaimTimeoutSec) * time.Second
}

// RetryBackoff returns the failed-task retry backoff as a duration.
func (p PipelineConfig) RetryBackoff() time.Duration {
	return time.Duration(p.RetryBackoffSec) * time.Second
}

// PollInterval returns the fan-out poll interval as a duration.
func (f FanoutConfig) PollInterval() time.Duration {
	return time.Duration(f.PollIntervalSec) * time.Second
}

// Backoff returns the fan-out retry backoff as a duration.
func (f FanoutConfig) Backoff() time.Duration {
	return time.Duration(f.BackoffSec) * time.Second
}

// ClaimTimeout returns the orphaned-claim redelivery timeout as a duration.
func (f FanoutConfig) ClaimTimeout() time.Duration {
	return time.Duration(f.ClaimTimeoutSec) * time.Second
}

package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv        = "TABDIGEST_CONFIG"
	serverAddrEnv        = "SERVER_ADDR"
	databaseDSNEnv       = "DATABASE_DSN"
	redisAddrEnv         = "REDIS_ADDR"
	redisPasswordEnv     = "REDIS_PASSWORD"
	openAIAPIKeyEnv      = "OPENAI_API_KEY"
	chatGPTModelEnv      = "CHATGPT_MODEL"
	slackWebhookEnv      = "SLACK_WEBHOOK_URL"
	sendgridAPIKeyEnv    = "SENDGRID_API_KEY"
	notificationEmailEnv = "NOTIFICATION_EMAIL"
	fromEmailEnv         = "FROM_EMAIL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Redis         RedisConfig        `yaml:"redis"`
	Queue         QueueConfig        `yaml:"queue"`
	Worker        WorkerConfig       `yaml:"worker"`
	ChatGPT       ChatGPTConfig      `yaml:"chatgpt"`
	Digest        DigestConfig       `yaml:"digest"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// LoggingConfig controls slog verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ServerConfig describes the HTTP listen address.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig describes Postgres connection details. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig describes the queue transport. An empty address selects the
// in-process queue.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// QueueConfig tunes scheduling defaults for summarization jobs.
type QueueConfig struct {
	MaxAttempts          int `yaml:"maxAttempts"`
	BackoffBaseMS        int `yaml:"backoffBaseMs"`
	BackoffCapMS         int `yaml:"backoffCapMs"`
	VisibilityTimeoutSec int `yaml:"visibilityTimeoutSec"`
}

// WorkerConfig tunes the processing loop.
type WorkerConfig struct {
	PollIntervalMS   int `yaml:"pollIntervalMs"`
	EnrichTimeoutSec int `yaml:"enrichTimeoutSec"`
}

// ChatGPTConfig defines how to contact the ChatGPT API.
type ChatGPTConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	SystemPrompt string `yaml:"systemPrompt"`
}

// DigestConfig controls the periodic digest aggregation.
type DigestConfig struct {
	IntervalHours int `yaml:"intervalHours"`
	WindowDays    int `yaml:"windowDays"`
	Limit         int `yaml:"limit"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Slack SlackConfig `yaml:"slack"`
	Email EmailConfig `yaml:"email"`
}

// SlackConfig wires the incoming-webhook channel.
type SlackConfig struct {
	WebhookURL string `yaml:"webhookUrl"`
}

// EmailConfig wires the mail channel.
type EmailConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"apiKey"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// BackoffBase resolves the configured retry base delay.
func (q QueueConfig) BackoffBase() time.Duration {
	return time.Duration(q.BackoffBaseMS) * time.Millisecond
}

// BackoffCap resolves the maximum retry delay.
func (q QueueConfig) BackoffCap() time.Duration {
	return time.Duration(q.BackoffCapMS) * time.Millisecond
}

// VisibilityTimeout resolves the redelivery deadline for active entries.
func (q QueueConfig) VisibilityTimeout() time.Duration {
	return time.Duration(q.VisibilityTimeoutSec) * time.Second
}

// PollInterval resolves the queue polling cadence.
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

// EnrichTimeout bounds a single enrichment call.
func (w WorkerConfig) EnrichTimeout() time.Duration {
	return time.Duration(w.EnrichTimeoutSec) * time.Second
}

// Interval resolves the digest cadence.
func (d DigestConfig) Interval() time.Duration {
	return time.Duration(d.IntervalHours) * time.Hour
}

// Window resolves the completed-summary lookback.
func (d DigestConfig) Window() time.Duration {
	return time.Duration(d.WindowDays) * 24 * time.Hour
}

// Load reads YAML configuration (if present) and applies environment
// overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(serverAddrEnv); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv(redisPasswordEnv); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv(openAIAPIKeyEnv); v != "" {
		c.ChatGPT.APIKey = v
	}
	if v := os.Getenv(chatGPTModelEnv); v != "" {
		c.ChatGPT.Model = v
	}
	if v := os.Getenv(slackWebhookEnv); v != "" {
		c.Notifications.Slack.WebhookURL = v
	}
	if v := os.Getenv(sendgridAPIKeyEnv); v != "" {
		c.Notifications.Email.APIKey = v
	}
	if v := os.Getenv(notificationEmailEnv); v != "" {
		c.Notifications.Email.To = v
	}
	if v := os.Getenv(fromEmailEnv); v != "" {
		c.Notifications.Email.From = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}
	if override.Server.Addr != "" {
		base.Server = override.Server
	}
	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	if override.Redis.Addr != "" {
		base.Redis.Addr = override.Redis.Addr
	}
	if override.Redis.Password != "" {
		base.Redis.Password = override.Redis.Password
	}
	if override.Redis.KeyPrefix != "" {
		base.Redis.KeyPrefix = override.Redis.KeyPrefix
	}

	if override.Queue.MaxAttempts > 0 {
		base.Queue.MaxAttempts = override.Queue.MaxAttempts
	}
	if override.Queue.BackoffBaseMS > 0 {
		base.Queue.BackoffBaseMS = override.Queue.BackoffBaseMS
	}
	if override.Queue.BackoffCapMS > 0 {
		base.Queue.BackoffCapMS = override.Queue.BackoffCapMS
	}
	if override.Queue.VisibilityTimeoutSec > 0 {
		base.Queue.VisibilityTimeoutSec = override.Queue.VisibilityTimeoutSec
	}

	if override.Worker.PollIntervalMS > 0 {
		base.Worker.PollIntervalMS = override.Worker.PollIntervalMS
	}
	if override.Worker.EnrichTimeoutSec > 0 {
		base.Worker.EnrichTimeoutSec = override.Worker.EnrichTimeoutSec
	}

	if override.ChatGPT.Endpoint != "" {
		base.ChatGPT.Endpoint = override.ChatGPT.Endpoint
	}
	if override.ChatGPT.Model != "" {
		base.ChatGPT.Model = override.ChatGPT.Model
	}
	if override.ChatGPT.APIKey != "" {
		base.ChatGPT.APIKey = override.ChatGPT.APIKey
	}
	if override.ChatGPT.SystemPrompt != "" {
		base.ChatGPT.SystemPrompt = override.ChatGPT.SystemPrompt
	}

	if override.Digest.IntervalHours > 0 {
		base.Digest.IntervalHours = override.Digest.IntervalHours
	}
	if override.Digest.WindowDays > 0 {
		base.Digest.WindowDays = override.Digest.WindowDays
	}
	if override.Digest.Limit > 0 {
		base.Digest.Limit = override.Digest.Limit
	}

	if override.Notifications.Slack.WebhookURL != "" {
		base.Notifications.Slack.WebhookURL = override.Notifications.Slack.WebhookURL
	}
	if override.Notifications.Email.Endpoint != "" {
		base.Notifications.Email.Endpoint = override.Notifications.Email.Endpoint
	}
	if override.Notifications.Email.APIKey != "" {
		base.Notifications.Email.APIKey = override.Notifications.Email.APIKey
	}
	if override.Notifications.Email.From != "" {
		base.Notifications.Email.From = override.Notifications.Email.From
	}
	if override.Notifications.Email.To != "" {
		base.Notifications.Email.To = override.Notifications.Email.To
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Server:   ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{DSN: ""},
		Redis:    RedisConfig{Addr: "", KeyPrefix: "tabdigest"},
		Queue: QueueConfig{
			MaxAttempts:          3,
			BackoffBaseMS:        1000,
			BackoffCapMS:         60000,
			VisibilityTimeoutSec: 60,
		},
		Worker: WorkerConfig{
			PollIntervalMS:   1000,
			EnrichTimeoutSec: 60,
		},
		ChatGPT: ChatGPTConfig{
			Endpoint:     "https://api.openai.com/v1/chat/completions",
			Model:        "gpt-4o-mini",
			APIKey:       "",
			SystemPrompt: "You summarize saved web content.",
		},
		Digest: DigestConfig{
			IntervalHours: 24 * 7,
			WindowDays:    7,
			Limit:         100,
		},
		Notifications: NotificationConfig{},
	}
}

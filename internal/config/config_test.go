package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		configPathEnv, serverAddrEnv, databaseDSNEnv, redisAddrEnv, redisPasswordEnv,
		openAIAPIKeyEnv, chatGPTModelEnv, slackWebhookEnv, sendgridAPIKeyEnv,
		notificationEmailEnv, fromEmailEnv,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg := Load()
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("server addr = %q", cfg.Server.Addr)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("log level = %q", cfg.Logging.Level)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Fatalf("max attempts = %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.BackoffBase() != time.Second {
		t.Fatalf("backoff base = %v", cfg.Queue.BackoffBase())
	}
	if cfg.Queue.BackoffCap() != time.Minute {
		t.Fatalf("backoff cap = %v", cfg.Queue.BackoffCap())
	}
	if cfg.Worker.PollInterval() != time.Second {
		t.Fatalf("poll interval = %v", cfg.Worker.PollInterval())
	}
	if cfg.Digest.Window() != 7*24*time.Hour {
		t.Fatalf("digest window = %v", cfg.Digest.Window())
	}
	if cfg.Redis.KeyPrefix != "tabdigest" {
		t.Fatalf("key prefix = %q", cfg.Redis.KeyPrefix)
	}
	if cfg.Database.DSN != "" || cfg.Redis.Addr != "" {
		t.Fatalf("expected in-process defaults, got %q / %q", cfg.Database.DSN, cfg.Redis.Addr)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv(serverAddrEnv, ":9999")
	t.Setenv(databaseDSNEnv, "postgres://localhost/tabdigest")
	t.Setenv(redisAddrEnv, "localhost:6379")
	t.Setenv(openAIAPIKeyEnv, "sk-test")
	t.Setenv(slackWebhookEnv, "https://hooks.slack.com/T/B/x")
	t.Setenv(notificationEmailEnv, "reader@example.com")

	cfg := Load()
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("server addr = %q", cfg.Server.Addr)
	}
	if cfg.Database.DSN != "postgres://localhost/tabdigest" {
		t.Fatalf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.ChatGPT.APIKey != "sk-test" {
		t.Fatalf("api key = %q", cfg.ChatGPT.APIKey)
	}
	if cfg.Notifications.Slack.WebhookURL != "https://hooks.slack.com/T/B/x" {
		t.Fatalf("webhook = %q", cfg.Notifications.Slack.WebhookURL)
	}
	if cfg.Notifications.Email.To != "reader@example.com" {
		t.Fatalf("email to = %q", cfg.Notifications.Email.To)
	}
}

func TestLoadYAMLFileMergesOverDefaults(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := []byte(`
logging:
  level: debug
queue:
  maxAttempts: 5
  backoffBaseMs: 500
digest:
  windowDays: 14
notifications:
  slack:
    webhookUrl: https://hooks.slack.com/T/B/file
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(configPathEnv, path)

	cfg := Load()
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Logging.Level)
	}
	if cfg.Queue.MaxAttempts != 5 || cfg.Queue.BackoffBaseMS != 500 {
		t.Fatalf("queue = %+v", cfg.Queue)
	}
	// Unset file fields keep their defaults.
	if cfg.Queue.BackoffCapMS != 60000 {
		t.Fatalf("backoff cap = %d", cfg.Queue.BackoffCapMS)
	}
	if cfg.Digest.WindowDays != 14 || cfg.Digest.Limit != 100 {
		t.Fatalf("digest = %+v", cfg.Digest)
	}
	if cfg.Notifications.Slack.WebhookURL != "https://hooks.slack.com/T/B/file" {
		t.Fatalf("webhook = %q", cfg.Notifications.Slack.WebhookURL)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("server addr = %q", cfg.Server.Addr)
	}
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":7777\"\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(configPathEnv, path)
	t.Setenv(serverAddrEnv, ":6666")

	cfg := Load()
	if cfg.Server.Addr != ":6666" {
		t.Fatalf("server addr = %q, want env override", cfg.Server.Addr)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "absent.yaml"))

	cfg := Load()
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("server addr = %q, want defaults", cfg.Server.Addr)
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fullYAML = `
telegram:
  token: "12345:abcdef"
  admin_ids: [42, 99]
  mode: webhook
  webhook:
    port: 9443
    secret: s3cret

remote:
  base_url: https://assistant.example.com
  timeout_seconds: 10

database:
  driver: mysql
  host: 10.0.0.5
  port: 3307
  user: signalpost
  password: hunter2
  database: signalpost

poll:
  schedule: "@every 30s"
  reconcile_schedule: "@every 5m"

notify:
  collapse_threshold: 200
  plan_step_limit: 3
`

const minimalYAML = `
telegram:
  token: "12345:abcdef"
remote:
  base_url: https://assistant.example.com
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Token != "12345:abcdef" {
		t.Errorf("Token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AdminIDs) != 2 || cfg.Telegram.AdminIDs[0] != 42 {
		t.Errorf("AdminIDs = %v", cfg.Telegram.AdminIDs)
	}
	if cfg.Telegram.Mode != "webhook" || cfg.Telegram.Webhook.Port != 9443 {
		t.Errorf("mode = %q port = %d", cfg.Telegram.Mode, cfg.Telegram.Webhook.Port)
	}
	if cfg.Remote.BaseURL != "https://assistant.example.com" {
		t.Errorf("BaseURL = %q", cfg.Remote.BaseURL)
	}
	if cfg.Remote.TimeoutSeconds != 10 {
		t.Errorf("TimeoutSeconds = %d", cfg.Remote.TimeoutSeconds)
	}
	if cfg.Database.Driver != "mysql" || cfg.Database.Host != "10.0.0.5" || cfg.Database.Port != 3307 {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Poll.Schedule != "@every 30s" || cfg.Poll.ReconcileSchedule != "@every 5m" {
		t.Errorf("Poll = %+v", cfg.Poll)
	}
	if cfg.Notify.CollapseThreshold != 200 || cfg.Notify.PlanStepLimit != 3 {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
}

func TestParse_MinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Mode != "poll" {
		t.Errorf("Mode = %q, want poll", cfg.Telegram.Mode)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "signalpost.db" {
		t.Errorf("Database = %+v, want sqlite defaults", cfg.Database)
	}
	if cfg.Poll.Schedule != "@every 1m" {
		t.Errorf("Schedule = %q, want @every 1m", cfg.Poll.Schedule)
	}
	if cfg.Poll.ReconcileSchedule != "@every 15m" {
		t.Errorf("ReconcileSchedule = %q, want @every 15m", cfg.Poll.ReconcileSchedule)
	}
	if cfg.Remote.TimeoutSeconds != 30 {
		t.Errorf("TimeoutSeconds = %d, want 30", cfg.Remote.TimeoutSeconds)
	}
}

func TestParse_MissingToken(t *testing.T) {
	_, err := Parse([]byte(`
remote:
  base_url: https://assistant.example.com
`))
	if err == nil || !strings.Contains(err.Error(), "telegram.token") {
		t.Errorf("err = %v, want token validation error", err)
	}
}

func TestParse_EnvTokenOverride(t *testing.T) {
	t.Setenv(EnvTelegramToken, "env:token")
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telegram.Token != "env:token" {
		t.Errorf("Token = %q, want env override", cfg.Telegram.Token)
	}
}

func TestParse_WebhookModeRequiresSecret(t *testing.T) {
	_, err := Parse([]byte(`
telegram:
  token: "12345:abcdef"
  mode: webhook
remote:
  base_url: https://assistant.example.com
`))
	if err == nil || !strings.Contains(err.Error(), "webhook.secret") {
		t.Errorf("err = %v, want webhook secret validation error", err)
	}
}

func TestParse_BadMode(t *testing.T) {
	_, err := Parse([]byte(`
telegram:
  token: "12345:abcdef"
  mode: carrier-pigeon
remote:
  base_url: https://assistant.example.com
`))
	if err == nil || !strings.Contains(err.Error(), "mode") {
		t.Errorf("err = %v, want mode validation error", err)
	}
}

func TestParse_MySQLRequiresDatabase(t *testing.T) {
	_, err := Parse([]byte(`
telegram:
  token: "12345:abcdef"
remote:
  base_url: https://assistant.example.com
database:
  driver: mysql
  user: signalpost
`))
	if err == nil || !strings.Contains(err.Error(), "database.database") {
		t.Errorf("err = %v, want mysql database validation error", err)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telegram.Token != "12345:abcdef" {
		t.Errorf("Token = %q", cfg.Telegram.Token)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

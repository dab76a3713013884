package main

import (
	"slices"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_GETENV_SET", "custom-value")
	t.Setenv("TEST_GETENV_EMPTY", "")

	if got := getEnv("TEST_GETENV_SET", "fallback"); got != "custom-value" {
		t.Errorf("expected %q, got %q", "custom-value", got)
	}
	if got := getEnv("TEST_GETENV_EMPTY", "fallback"); got != "fallback" {
		t.Errorf("expected fallback for empty env var, got %q", got)
	}
	if got := getEnv("TEST_GETENV_UNSET", "fallback"); got != "fallback" {
		t.Errorf("expected fallback for unset env var, got %q", got)
	}
}

func TestGetEnvInt64(t *testing.T) {
	tests := []struct {
		value string
		want  int64
	}{
		{"1048576", 1048576},
		{"not-a-number", 42},
		{"", 42},
	}
	for _, tt := range tests {
		t.Setenv("TEST_GETENV_INT", tt.value)
		if got := getEnvInt64("TEST_GETENV_INT", 42); got != tt.want {
			t.Errorf("value %q: expected %d, got %d", tt.value, tt.want, got)
		}
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"30s", 30 * time.Second},
		{"2m", 2 * time.Minute},
		{"soon", 10 * time.Second},
		{"-5s", 10 * time.Second},
		{"", 10 * time.Second},
	}
	for _, tt := range tests {
		t.Setenv("TEST_GETENV_DURATION", tt.value)
		if got := getEnvDuration("TEST_GETENV_DURATION", 10*time.Second); got != tt.want {
			t.Errorf("value %q: expected %v, got %v", tt.value, tt.want, got)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" https://a.example.com, ,https://b.example.com ")
	want := []string{"https://a.example.com", "https://b.example.com"}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if splitList("") != nil {
		t.Error("expected nil for empty list")
	}
}

// --- loadConfig ---

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/livepage")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" || cfg.S3Bucket != "livepage" || cfg.MaxUploadBytes != 10*1024*1024 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.MuteCheckInterval != 10*time.Second || !cfg.MetricsEnabled {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfigAcceptsWebhookURLs(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/livepage")
	t.Setenv("WEBHOOK_SECRET", "s")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/T/B/X")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WebhookURL != "https://hooks.example.com/livepage" || cfg.SlackWebhookURL == "" {
		t.Errorf("unexpected webhook config: %+v", cfg)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		unset string
		extra map[string]string
	}{
		{name: "database url", unset: "DATABASE_URL"},
		{name: "jwt secret", unset: "JWT_SECRET"},
		{name: "webhook secret", extra: map[string]string{"WEBHOOK_URL": "https://hooks.example.com", "WEBHOOK_SECRET": ""}},
		{name: "webhook url scheme", extra: map[string]string{"WEBHOOK_URL": "ftp://hooks.example.com", "WEBHOOK_SECRET": "s"}},
		{name: "webhook url host", extra: map[string]string{"WEBHOOK_URL": "https://", "WEBHOOK_SECRET": "s"}},
		{name: "slack webhook url", extra: map[string]string{"SLACK_WEBHOOK_URL": "not a url"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			if tt.unset != "" {
				t.Setenv(tt.unset, "")
			}
			for k, v := range tt.extra {
				t.Setenv(k, v)
			}
			if _, err := loadConfig(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

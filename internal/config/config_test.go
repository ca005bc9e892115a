package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"CONFIG_FILE", "PORT", "DOCUMENT_SERVICE_URL", "STORE", "DATABASE_DRIVER", "DATABASE_URL",
	"AUTH_MODE", "AUTH_SERVICE_URL", "JWT_SECRET", "NOTIFIER", "MESSAGE_BROKER_URL",
	"EVENTS_CHANNEL", "REDIS_ADDR", "LOG_LEVEL", "CHECKPOINT_SCHEDULE", "CORS_ALLOWED_ORIGINS",
	"CACHE_ENABLED", "SAVE_DEBOUNCE_SECONDS", "CACHE_TTL", "FETCH_TIMEOUT", "SAVE_TIMEOUT",
	"AUTH_TIMEOUT", "PUBLISH_TIMEOUT", "WS_PING_INTERVAL", "WS_SEND_BUFFER", "NOTIFY_QUEUE",
	"WS_MAX_MESSAGE_BYTES",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" || cfg.DocumentServiceURL != "http://localhost:8001" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SaveDebounce != 2*time.Second {
		t.Fatalf("expected 2s debounce, got %s", cfg.SaveDebounce)
	}
	if cfg.AuthMode != AuthPermitAll || cfg.Store != StoreHTTP {
		t.Fatalf("unexpected backends: auth=%s store=%s", cfg.AuthMode, cfg.Store)
	}
	if cfg.Notifier != NotifierNone {
		t.Fatalf("expected no notifier without broker url, got %s", cfg.Notifier)
	}
	if cfg.CheckpointSchedule != "@every 30s" {
		t.Fatalf("unexpected schedule %q", cfg.CheckpointSchedule)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("SAVE_DEBOUNCE_SECONDS", "0.5")
	t.Setenv("MESSAGE_BROKER_URL", "http://broker:8002")
	t.Setenv("WS_SEND_BUFFER", "8")
	t.Setenv("FETCH_TIMEOUT", "1500ms")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("CHECKPOINT_SCHEDULE", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "9000" {
		t.Fatalf("expected port override, got %s", cfg.Port)
	}
	if cfg.SaveDebounce != 500*time.Millisecond {
		t.Fatalf("expected 500ms debounce, got %s", cfg.SaveDebounce)
	}
	if cfg.Notifier != NotifierHTTP {
		t.Fatalf("expected http notifier when broker url set, got %s", cfg.Notifier)
	}
	if cfg.SendBuffer != 8 || cfg.FetchTimeout != 1500*time.Millisecond {
		t.Fatalf("unexpected numeric overrides: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.CheckpointSchedule != "" {
		t.Fatalf("expected checkpoints disabled, got %q", cfg.CheckpointSchedule)
	}
}

func TestLoadConfig_File(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "collabhub.yaml")
	content := strings.Join([]string{
		"port: \"7000\"",
		"store: sql",
		"database_driver: sqlite",
		"database_url: \"file::memory:\"",
		"save_debounce: 3s",
		"auth_mode: jwt",
		"jwt_secret: from-file",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "7000" || cfg.Store != StoreSQL || cfg.DatabaseDriver != "sqlite" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.SaveDebounce != 3*time.Second {
		t.Fatalf("expected 3s debounce, got %s", cfg.SaveDebounce)
	}
	if cfg.JWTSecret != "from-env" {
		t.Fatalf("environment should override file, got %s", cfg.JWTSecret)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := map[string]map[string]string{
		"bad number":         {"WS_SEND_BUFFER": "many"},
		"bad debounce":       {"SAVE_DEBOUNCE_SECONDS": "soon"},
		"zero debounce":      {"SAVE_DEBOUNCE_SECONDS": "0"},
		"jwt without key":    {"AUTH_MODE": "jwt"},
		"http auth no url":   {"AUTH_MODE": "http"},
		"unknown auth":       {"AUTH_MODE": "magic"},
		"redis no addr":      {"NOTIFIER": "redis"},
		"unknown notifier":   {"NOTIFIER": "pigeon"},
		"sql without dsn":    {"STORE": "sql"},
		"unknown store":      {"STORE": "tape"},
		"cache without addr": {"CACHE_ENABLED": "true"},
		"missing file":       {"CONFIG_FILE": "/nonexistent/collabhub.yaml"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("UNIT_TEST_ENV", "value")
	if got := getEnvOrDefault("UNIT_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("expected env value, got %s", got)
	}

	t.Setenv("UNIT_TEST_ENV", "")
	if got := getEnvOrDefault("UNIT_TEST_ENV", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback value, got %s", got)
	}
}

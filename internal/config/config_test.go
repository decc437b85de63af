package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkarlsen/repochat/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearRepochatEnv(t)

	cfg := Load()

	if cfg.ServerURL != "http://localhost:8000" {
		t.Errorf("ServerURL = %q, want default", cfg.ServerURL)
	}
	if cfg.SocketPath != "/ws" {
		t.Errorf("SocketPath = %q, want /ws", cfg.SocketPath)
	}
	if len(cfg.Transports) != 1 || cfg.Transports[0] != "websocket" {
		t.Errorf("Transports = %v, want [websocket]", cfg.Transports)
	}
	if cfg.ReconnectAttempts != 5 {
		t.Errorf("ReconnectAttempts = %d, want 5", cfg.ReconnectAttempts)
	}
	if cfg.ReconnectDelay != 2*time.Second {
		t.Errorf("ReconnectDelay = %s, want 2s", cfg.ReconnectDelay)
	}
	if cfg.DedupeWindow != time.Second {
		t.Errorf("DedupeWindow = %s, want 1s", cfg.DedupeWindow)
	}
	if cfg.DefaultMode != models.ModeAccurate {
		t.Errorf("DefaultMode = %q, want accurate", cfg.DefaultMode)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearRepochatEnv(t)
	t.Setenv("REPOCHAT_SERVER_URL", "https://repochat.example.com")
	t.Setenv("REPOCHAT_RECONNECT_ATTEMPTS", "9")
	t.Setenv("REPOCHAT_RECONNECT_DELAY", "500ms")
	t.Setenv("REPOCHAT_DEDUPE_WINDOW", "1500ms")
	t.Setenv("REPOCHAT_DEFAULT_MODE", "fast")
	t.Setenv("REPOCHAT_LOG_LEVEL", "debug")
	t.Setenv("REPOCHAT_TRANSPORTS", "websocket, websocket")

	cfg := Load()

	if cfg.ServerURL != "https://repochat.example.com" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.ReconnectAttempts != 9 {
		t.Errorf("ReconnectAttempts = %d, want 9", cfg.ReconnectAttempts)
	}
	if cfg.ReconnectDelay != 500*time.Millisecond {
		t.Errorf("ReconnectDelay = %s, want 500ms", cfg.ReconnectDelay)
	}
	if cfg.DedupeWindow != 1500*time.Millisecond {
		t.Errorf("DedupeWindow = %s, want 1500ms", cfg.DedupeWindow)
	}
	if cfg.DefaultMode != models.ModeFast {
		t.Errorf("DefaultMode = %q, want fast", cfg.DefaultMode)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if len(cfg.Transports) != 2 {
		t.Errorf("Transports = %v, want two entries", cfg.Transports)
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearRepochatEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "server_url: http://stub:9000\nreconnect_attempts: 3\ndefault_mode: fast\nreconnect_delay: 250ms\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REPOCHAT_CONFIG", path)

	cfg := Load()

	if cfg.ServerURL != "http://stub:9000" {
		t.Errorf("ServerURL = %q, want file value", cfg.ServerURL)
	}
	if cfg.ReconnectAttempts != 3 {
		t.Errorf("ReconnectAttempts = %d, want 3", cfg.ReconnectAttempts)
	}
	if cfg.DefaultMode != models.ModeFast {
		t.Errorf("DefaultMode = %q, want fast", cfg.DefaultMode)
	}
	if cfg.ReconnectDelay != 250*time.Millisecond {
		t.Errorf("ReconnectDelay = %s, want 250ms", cfg.ReconnectDelay)
	}
	// Untouched keys keep defaults.
	if cfg.SocketPath != "/ws" {
		t.Errorf("SocketPath = %q, want default", cfg.SocketPath)
	}
}

func TestEnvBeatsConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearRepochatEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server_url: http://file:9000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REPOCHAT_CONFIG", path)
	t.Setenv("REPOCHAT_SERVER_URL", "http://env:9000")

	cfg := Load()
	if cfg.ServerURL != "http://env:9000" {
		t.Errorf("ServerURL = %q, want env value to win", cfg.ServerURL)
	}
}

func TestValidate(t *testing.T) {
	base := defaults()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"bad scheme", func(c *Config) { c.ServerURL = "ftp://host" }, true},
		{"unknown mode", func(c *Config) { c.DefaultMode = "turbo" }, true},
		{"no transports", func(c *Config) { c.Transports = nil }, true},
		{"polling transport", func(c *Config) { c.Transports = []string{"polling"} }, true},
		{"negative attempts", func(c *Config) { c.ReconnectAttempts = -1 }, true},
		{"zero delay", func(c *Config) { c.ReconnectDelay = 0 }, true},
		{"negative window", func(c *Config) { c.DedupeWindow = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func clearRepochatEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"REPOCHAT_CONFIG", "REPOCHAT_SERVER_URL", "REPOCHAT_SOCKET_PATH",
		"REPOCHAT_TRANSPORTS", "REPOCHAT_RECONNECT_ATTEMPTS", "REPOCHAT_RECONNECT_DELAY",
		"REPOCHAT_DEDUPE_WINDOW", "REPOCHAT_DEFAULT_MODE", "REPOCHAT_HTTP_TIMEOUT",
		"REPOCHAT_KEEPALIVE_INTERVAL", "REPOCHAT_DATA_DIR", "REPOCHAT_LOG_FILE",
		"REPOCHAT_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

// Package config loads client configuration and sets up logging.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mkarlsen/repochat/internal/models"
)

// Config holds all configuration values.
type Config struct {
	// Backend
	ServerURL  string
	SocketPath string
	Transports []string

	// Reconnection
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// Chat behavior
	DedupeWindow time.Duration
	DefaultMode  models.Mode

	// HTTP + keepalive
	HTTPTimeout       time.Duration
	KeepaliveInterval time.Duration

	// Local state
	DataDir string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// fileConfig mirrors the optional YAML config file. Zero values mean
// "not set" and keep the defaults.
type fileConfig struct {
	ServerURL         string   `yaml:"server_url"`
	SocketPath        string   `yaml:"socket_path"`
	Transports        []string `yaml:"transports"`
	ReconnectAttempts *int     `yaml:"reconnect_attempts"`
	ReconnectDelay    string   `yaml:"reconnect_delay"`
	DedupeWindow      string   `yaml:"dedupe_window"`
	DefaultMode       string   `yaml:"default_mode"`
	HTTPTimeout       string   `yaml:"http_timeout"`
	KeepaliveInterval string   `yaml:"keepalive_interval"`
	DataDir           string   `yaml:"data_dir"`
	LogFile           string   `yaml:"log_file"`
	LogLevel          string   `yaml:"log_level"`
}

// Load reads configuration in three layers: built-in defaults, the
// optional YAML file at ~/.config/repochat/config.yaml, then REPOCHAT_*
// environment variables. A .env file in the working directory is loaded
// first so env vars can live there during development.
func Load() Config {
	_ = godotenv.Load()

	cfg := defaults()
	if path := configFilePath(); path != "" {
		cfg.applyFile(path)
	}
	cfg.applyEnv()
	return cfg
}

func defaults() Config {
	dataDir := "/tmp/repochat"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".repochat")
	}
	return Config{
		ServerURL:         "http://localhost:8000",
		SocketPath:        "/ws",
		Transports:        []string{"websocket"},
		ReconnectAttempts: 5,
		ReconnectDelay:    2 * time.Second,
		DedupeWindow:      1000 * time.Millisecond,
		DefaultMode:       models.ModeAccurate,
		HTTPTimeout:       30 * time.Second,
		KeepaliveInterval: 25 * time.Second,
		DataDir:           dataDir,
		LogFile:           "/tmp/repochat.log",
		LogLevel:          slog.LevelInfo,
	}
}

func configFilePath() string {
	if path := os.Getenv("REPOCHAT_CONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".config", "repochat", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// applyFile overlays values from the YAML file. Unreadable or malformed
// files are logged and skipped so a broken config never blocks startup.
func (c *Config) applyFile(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("failed to read config file, skipping", "file", path, "error", err)
		return
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		slog.Warn("failed to parse config file, skipping", "file", path, "error", err)
		return
	}

	if fc.ServerURL != "" {
		c.ServerURL = fc.ServerURL
	}
	if fc.SocketPath != "" {
		c.SocketPath = fc.SocketPath
	}
	if len(fc.Transports) > 0 {
		c.Transports = fc.Transports
	}
	if fc.ReconnectAttempts != nil {
		c.ReconnectAttempts = *fc.ReconnectAttempts
	}
	applyDuration(&c.ReconnectDelay, fc.ReconnectDelay)
	applyDuration(&c.DedupeWindow, fc.DedupeWindow)
	if fc.DefaultMode != "" {
		c.DefaultMode = models.Mode(fc.DefaultMode)
	}
	applyDuration(&c.HTTPTimeout, fc.HTTPTimeout)
	applyDuration(&c.KeepaliveInterval, fc.KeepaliveInterval)
	if fc.DataDir != "" {
		c.DataDir = fc.DataDir
	}
	if fc.LogFile != "" {
		c.LogFile = fc.LogFile
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
}

func (c *Config) applyEnv() {
	c.ServerURL = getEnv("REPOCHAT_SERVER_URL", c.ServerURL)
	c.SocketPath = getEnv("REPOCHAT_SOCKET_PATH", c.SocketPath)
	if raw := os.Getenv("REPOCHAT_TRANSPORTS"); raw != "" {
		c.Transports = splitList(raw)
	}
	c.ReconnectAttempts = getEnvInt("REPOCHAT_RECONNECT_ATTEMPTS", c.ReconnectAttempts)
	c.ReconnectDelay = getEnvDuration("REPOCHAT_RECONNECT_DELAY", c.ReconnectDelay)
	c.DedupeWindow = getEnvDuration("REPOCHAT_DEDUPE_WINDOW", c.DedupeWindow)
	c.DefaultMode = models.Mode(getEnv("REPOCHAT_DEFAULT_MODE", string(c.DefaultMode)))
	c.HTTPTimeout = getEnvDuration("REPOCHAT_HTTP_TIMEOUT", c.HTTPTimeout)
	c.KeepaliveInterval = getEnvDuration("REPOCHAT_KEEPALIVE_INTERVAL", c.KeepaliveInterval)
	c.DataDir = getEnv("REPOCHAT_DATA_DIR", c.DataDir)
	c.LogFile = getEnv("REPOCHAT_LOG_FILE", c.LogFile)
	if raw := os.Getenv("REPOCHAT_LOG_LEVEL"); raw != "" {
		c.LogLevel = parseLogLevel(raw)
	}
}

// Validate rejects configurations the client cannot run with.
func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server url scheme must be http or https, got %q", u.Scheme)
	}
	if !c.DefaultMode.Valid() {
		return fmt.Errorf("unknown mode %q (valid: %s, %s)", c.DefaultMode, models.ModeFast, models.ModeAccurate)
	}
	if len(c.Transports) == 0 {
		return fmt.Errorf("at least one transport is required")
	}
	for _, tr := range c.Transports {
		if tr != "websocket" {
			return fmt.Errorf("unsupported transport %q (only websocket)", tr)
		}
	}
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("reconnect attempts must be >= 0, got %d", c.ReconnectAttempts)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %s", c.ReconnectDelay)
	}
	if c.DedupeWindow < 0 {
		return fmt.Errorf("dedupe window must be >= 0, got %s", c.DedupeWindow)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func applyDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

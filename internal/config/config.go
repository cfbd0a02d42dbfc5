package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Upstream UpstreamConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string `env:"PAL_SERVER_HOST"`
	Port int    `env:"PAL_SERVER_PORT"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BaseURL returns the URL clients use to reach the server.
func (s ServerConfig) BaseURL() string {
	host := s.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, s.Port)
}

type StorageConfig struct {
	DataDir string `env:"PAL_STORAGE_DATA_DIR"`
	Backend string `env:"PAL_STORAGE_BACKEND"`
}

// ProfilePath is where the file backend keeps the profile document.
func (s StorageConfig) ProfilePath() string {
	return filepath.Join(s.DataDir, "profile.json")
}

type UpstreamConfig struct {
	BaseURL     string        `env:"PAL_UPSTREAM_BASE_URL"`
	APIKey      string        `env:"PAL_UPSTREAM_API_KEY"`
	Model       string        `env:"PAL_UPSTREAM_MODEL"`
	Temperature float64       `env:"PAL_UPSTREAM_TEMPERATURE"`
	MaxTokens   int           `env:"PAL_UPSTREAM_MAX_TOKENS"`
	Timeout     time.Duration `env:"PAL_UPSTREAM_TIMEOUT"`
}

type LogConfig struct {
	Level string `env:"PAL_LOG_LEVEL"`
}

// SlogLevel maps the configured level name to a slog level. Unknown names
// fall back to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 5000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
			Backend: BackendFile,
		},
		Upstream: UpstreamConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "openai/gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   1024,
			Timeout:     60 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "pal-data"
		}
	}
	return filepath.Join(dir, "pal")
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/pal/config.json and then applies PAL_* environment
// variables on top.
//
// The upstream API key is only read from the environment. It is not
// required here; chat requests fail until it is set.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("invalid config: storage.backend must be %q or %q, got %q", BackendFile, BackendSQLite, c.Storage.Backend)
	}
	if c.Upstream.Temperature < 0 || c.Upstream.Temperature > 2 {
		return fmt.Errorf("invalid config: upstream.temperature %v out of range [0, 2]", c.Upstream.Temperature)
	}
	if c.Upstream.MaxTokens <= 0 {
		return fmt.Errorf("invalid config: upstream.max_tokens must be positive")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("invalid config: upstream.timeout must be positive")
	}
	return nil
}

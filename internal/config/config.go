// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultChatAPIBaseURL = "https://chat.googleapis.com"
	DefaultRunTimeout     = 120
	DefaultWorkers        = 4
	DefaultQueueSize      = 64
	DefaultRatePerSecond  = 5
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Chat      ChatConfig      `toml:"chat"`
	Assistant AssistantConfig `toml:"assistant"`
	Relay     RelayConfig     `toml:"relay"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// ChatConfig holds the Google Chat side: API base URL, service-account
// credentials file for posting replies, and the project number used to
// verify inbound webhook calls (empty disables verification).
type ChatConfig struct {
	APIBaseURL      string `toml:"api_base_url"`
	CredentialsFile string `toml:"credentials_file"`
	ProjectNumber   string `toml:"project_number"`
}

// AssistantConfig holds the assistant API base URL, key, and run timeout.
type AssistantConfig struct {
	BaseURL           string `toml:"base_url"`
	APIKey            string `toml:"api_key"`
	RunTimeoutSeconds int    `toml:"run_timeout_seconds"`
}

// RunTimeout returns the bound applied to a single generation run.
func (c AssistantConfig) RunTimeout() time.Duration {
	secs := c.RunTimeoutSeconds
	if secs <= 0 {
		secs = DefaultRunTimeout
	}
	return time.Duration(secs) * time.Second
}

// RelayConfig holds the delivery pipeline worker pool settings.
type RelayConfig struct {
	Workers           int `toml:"workers"`
	QueueSize         int `toml:"queue_size"`
	RequestsPerSecond int `toml:"requests_per_second"`
}

// Load reads and parses the TOML config file at path and applies default
// values for missing fields. An empty path falls back to CONFIG_PATH and
// then to DefaultConfigPath.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultHTTPAddr
	}
	if cfg.Chat.APIBaseURL == "" {
		cfg.Chat.APIBaseURL = DefaultChatAPIBaseURL
	}
	if cfg.Assistant.RunTimeoutSeconds <= 0 {
		cfg.Assistant.RunTimeoutSeconds = DefaultRunTimeout
	}
	if cfg.Relay.Workers <= 0 {
		cfg.Relay.Workers = DefaultWorkers
	}
	if cfg.Relay.QueueSize <= 0 {
		cfg.Relay.QueueSize = DefaultQueueSize
	}
	if cfg.Relay.RequestsPerSecond <= 0 {
		cfg.Relay.RequestsPerSecond = DefaultRatePerSecond
	}
}

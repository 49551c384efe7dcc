package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[assistant]
base_url = "http://127.0.0.1:9000"
api_key = "sk-test"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultChatAPIBaseURL, cfg.Chat.APIBaseURL)
	assert.Equal(t, DefaultWorkers, cfg.Relay.Workers)
	assert.Equal(t, DefaultQueueSize, cfg.Relay.QueueSize)
	assert.Equal(t, DefaultRatePerSecond, cfg.Relay.RequestsPerSecond)
	assert.Equal(t, time.Duration(DefaultRunTimeout)*time.Second, cfg.Assistant.RunTimeout())
	assert.Equal(t, "sk-test", cfg.Assistant.APIKey)
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "debug"
format = "json"

[server]
addr = ":9090"

[chat]
api_base_url = "http://chat.local"
project_number = "12345"

[assistant]
base_url = "http://assistant.local"
run_timeout_seconds = 30

[relay]
workers = 8
queue_size = 256
requests_per_second = 20
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "http://chat.local", cfg.Chat.APIBaseURL)
	assert.Equal(t, "12345", cfg.Chat.ProjectNumber)
	assert.Equal(t, 30*time.Second, cfg.Assistant.RunTimeout())
	assert.Equal(t, 8, cfg.Relay.Workers)
	assert.Equal(t, 256, cfg.Relay.QueueSize)
	assert.Equal(t, 20, cfg.Relay.RequestsPerSecond)
}

func TestLoadUsesEnvPath(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = ":7070"
`)
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

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
	path := filepath.Join(t.TempDir(), "commentflow.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
[database]
url = "postgres://localhost/commentflow"

[redis]
url = "redis://localhost:6379/0"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.Model)
	assert.Equal(t, 8000, cfg.API.Port)
	assert.Equal(t, 10, cfg.Queue.AIWorkers)
	assert.Equal(t, 5*time.Minute, cfg.Queue.SweepInterval)
	assert.Equal(t, 50, cfg.Queue.SweepBatchLimit)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[database]
url = "postgres://localhost/commentflow"

[ai]
provider = "claude"
model = "claude-sonnet-4-5"

[queue]
sweep_interval = "30s"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "claude", cfg.AI.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.AI.Model)
	assert.Equal(t, 30*time.Second, cfg.Queue.SweepInterval)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[database]
url = "postgres://file/db"
`)
	t.Setenv("COMMENTFLOW_DATABASE_URL", "postgres://env/db")
	t.Setenv("COMMENTFLOW_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.Database.URL = "postgres://localhost/db"
		cfg.Redis.URL = "redis://localhost:6379"
		cfg.AI.Provider = "openai"
		cfg.AI.APIKey = "sk-test"
		cfg.Instagram.AccessToken = "ig-token"
		return cfg
	}

	assert.NoError(t, Validate(base()))

	missing := base()
	missing.Database.URL = ""
	assert.Error(t, Validate(missing))

	noKey := base()
	noKey.AI.APIKey = ""
	assert.Error(t, Validate(noKey))

	ollama := base()
	ollama.AI.Provider = "ollama"
	ollama.AI.APIKey = ""
	assert.Error(t, Validate(ollama), "ollama needs base_url")
	ollama.AI.BaseURL = "http://localhost:11434"
	assert.NoError(t, Validate(ollama))

	unknown := base()
	unknown.AI.Provider = "watson"
	assert.Error(t, Validate(unknown))

	noToken := base()
	noToken.Instagram.AccessToken = ""
	assert.Error(t, Validate(noToken))
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commentflow.toml")
	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path))
}

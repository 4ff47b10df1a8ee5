package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsApplyWhenUnset(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/gateway")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.VerifySSL)
	assert.Equal(t, 300, cfg.RequestTimeoutSecs)
	assert.Equal(t, 300*time.Second, cfg.RequestTimeout())
	assert.Equal(t, "postgres://localhost/gateway", cfg.DBURL)
	assert.False(t, cfg.JSONLLogEnabled)
	assert.Equal(t, 1000, cfg.JSONLLogBufferSize)
}

func TestLoad_MissingDBURLIsAnError(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/gateway")
	t.Setenv("PORT", "9090")
	t.Setenv("ADMIN_KEY", "secret-admin-key")
	t.Setenv("PROVIDER_SUFFIX", "-staging")
	t.Setenv("JSONL_LOG_ENABLED", "true")
	t.Setenv("REQUEST_LOG_BODY_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "secret-admin-key", cfg.AdminKey)
	assert.Equal(t, "-staging", cfg.ProviderSuffix)
	assert.True(t, cfg.JSONLLogEnabled)
	assert.True(t, cfg.RequestLogBodyEnabled)
}

func TestLoad_YAMLFileLayersUnderEnv(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/gateway")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yamlContent := "host: 127.0.0.1\nport: 7000\n"
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 7000, cfg.Port)

	t.Setenv("PORT", "7100")
	cfg, err = Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.Port, "env var must override the YAML file value")
}

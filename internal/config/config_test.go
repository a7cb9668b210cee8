package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsUsableWithoutAFile(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.AuthAddr)
	assert.Equal(t, ":8081", cfg.Server.ContentAddr)
	assert.Equal(t, "development", cfg.Profile)
	assert.Equal(t, "memory", cfg.Vault.Backend)
	assert.EqualValues(t, 2*60*1000, cfg.Content.RollbackWindowMs)
	assert.True(t, cfg.Transport.EnforceSecureStorage)
}

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.AuthAddr)
}

func TestLoadConfigOverlaysYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
profile: production
server:
  auth_addr: ":9000"
  allowed_origins:
    - https://app.nospoilers.example
transport:
  api_base_url: https://api.nospoilers.example
  platform: ios
  cookie_name: nospoilers_refresh
  enforce_secure_storage: true
content:
  rollback_window_ms: 30000
vault:
  backend: redis
redis:
  addr: redis.internal:6379
events:
  pubsub_enabled: true
  project_id: nospoilers-prod
  topic: nospoilers-events
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Profile)
	assert.Equal(t, ":9000", cfg.Server.AuthAddr)
	assert.Equal(t, []string{"https://app.nospoilers.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "ios", cfg.Transport.Platform)
	assert.EqualValues(t, 30000, cfg.Content.RollbackWindowMs)
	assert.Equal(t, "redis", cfg.Vault.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Events.PubSubEnabled)
	assert.Equal(t, "nospoilers-prod", cfg.Events.ProjectID)
}

func TestLoadConfigRejectsBrokenYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("NOSPOILERS_PROFILE", "production")
	t.Setenv("NOSPOILERS_VAULT_BACKEND", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/nospoilers")
	t.Setenv("NOSPOILERS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PUBSUB_PROJECT_ID", "nospoilers-prod")

	cfg := Default()
	ApplyEnv(cfg)

	assert.Equal(t, "production", cfg.Profile)
	assert.Equal(t, "postgres", cfg.Vault.Backend)
	assert.Equal(t, "postgres://localhost/nospoilers", cfg.Postgres.DSN)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Events.PubSubEnabled, "a project id switches the pubsub emitter on")
}

func TestVaultSecretReadsConfiguredEnvVar(t *testing.T) {
	t.Setenv("NOSPOILERS_VAULT_SECRET", "super-secret")

	cfg := Default()
	assert.Equal(t, "super-secret", cfg.VaultSecret())

	cfg.Vault.SecretEnv = "OTHER_SECRET"
	t.Setenv("OTHER_SECRET", "other")
	assert.Equal(t, "other", cfg.VaultSecret())
}

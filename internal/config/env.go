package config

import (
	"os"
	"strings"
)

// ApplyEnv overlays deployment environment variables on a loaded config.
// Cloud Run style deployments set these instead of shipping a yaml file.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("NOSPOILERS_PROFILE"); v != "" {
		cfg.Profile = v
	}
	if v := os.Getenv("NOSPOILERS_API_BASE_URL"); v != "" {
		cfg.Transport.APIBaseURL = v
	}
	if v := os.Getenv("NOSPOILERS_PLATFORM"); v != "" {
		cfg.Transport.Platform = v
	}
	if v := os.Getenv("NOSPOILERS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.Server.AllowedOrigins = origins
	}
	if v := os.Getenv("NOSPOILERS_VAULT_BACKEND"); v != "" {
		cfg.Vault.Backend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		cfg.Events.ProjectID = v
		cfg.Events.PubSubEnabled = true
	}
	if v := os.Getenv("PUBSUB_TOPIC"); v != "" {
		cfg.Events.Topic = v
	}
}

// VaultSecret resolves the vault encryption secret from the environment
// variable the config names.
func (c *Config) VaultSecret() string {
	env := c.Vault.SecretEnv
	if env == "" {
		env = "NOSPOILERS_VAULT_SECRET"
	}
	return os.Getenv(env)
}

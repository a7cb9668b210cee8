package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Profile   string          `yaml:"profile"`
	Transport TransportConfig `yaml:"transport"`
	Auth      AuthConfig      `yaml:"auth"`
	Content   ContentConfig   `yaml:"content"`
	Vault     VaultConfig     `yaml:"vault"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Supabase  SupabaseConfig  `yaml:"supabase"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	AuthAddr            string   `yaml:"auth_addr"`
	ContentAddr         string   `yaml:"content_addr"`
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int      `yaml:"idle_timeout_seconds"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
}

type TransportConfig struct {
	APIBaseURL           string `yaml:"api_base_url"`
	CookieName           string `yaml:"cookie_name"`
	Platform             string `yaml:"platform"`
	EnforceSecureStorage bool   `yaml:"enforce_secure_storage"`
}

type AuthConfig struct {
	SMSCodeTTLMs      int64  `yaml:"sms_code_ttl_ms"`
	AccessTokenTTLMs  int64  `yaml:"access_token_ttl_ms"`
	RefreshTokenTTLMs int64  `yaml:"refresh_token_ttl_ms"`
	ReservationTTLMs  int64  `yaml:"reservation_ttl_ms"`
	AvatarPlanTTLMs   int64  `yaml:"avatar_plan_ttl_ms"`
	HashSalt          string `yaml:"hash_salt"`
}

type ContentConfig struct {
	RollbackWindowMs int64 `yaml:"rollback_window_ms"`
}

// VaultConfig picks the encrypted KV backend. SecretEnv names the
// environment variable carrying the encryption secret so the secret itself
// never sits in a config file.
type VaultConfig struct {
	Backend   string `yaml:"backend"` // memory, redis, postgres or supabase
	SecretEnv string `yaml:"secret_env"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type SupabaseConfig struct {
	Table string `yaml:"table"`
}

type EventsConfig struct {
	PubSubEnabled bool   `yaml:"pubsub_enabled"`
	ProjectID     string `yaml:"project_id"`
	Topic         string `yaml:"topic"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default is the development configuration: in-memory vault, no external
// brokers, both services on local ports.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			AuthAddr:            ":8080",
			ContentAddr:         ":8081",
			ReadTimeoutSeconds:  15,
			WriteTimeoutSeconds: 15,
			IdleTimeoutSeconds:  60,
		},
		Profile: "development",
		Transport: TransportConfig{
			APIBaseURL:           "https://localhost:8080",
			CookieName:           "nospoilers_refresh",
			Platform:             "web",
			EnforceSecureStorage: true,
		},
		Auth: AuthConfig{
			SMSCodeTTLMs:      5 * 60 * 1000,
			AccessTokenTTLMs:  15 * 60 * 1000,
			RefreshTokenTTLMs: 30 * 24 * 60 * 60 * 1000,
			ReservationTTLMs:  5 * 60 * 1000,
			AvatarPlanTTLMs:   10 * 60 * 1000,
		},
		Content: ContentConfig{
			RollbackWindowMs: 2 * 60 * 1000,
		},
		Vault: VaultConfig{
			Backend:   "memory",
			SecretEnv: "NOSPOILERS_VAULT_SECRET",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Postgres: PostgresConfig{
			Table: "nospoilers_vault",
		},
		Supabase: SupabaseConfig{
			Table: "nospoilers_vault",
		},
		Events: EventsConfig{
			Topic: "nospoilers-events",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// LoadConfig reads a yaml file over the defaults. A missing path is not an
// error; it just means the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

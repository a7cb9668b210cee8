package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nospoilers/backend/internal/auth"
	"github.com/nospoilers/backend/internal/clock"
	"github.com/nospoilers/backend/internal/config"
	"github.com/nospoilers/backend/internal/events"
	"github.com/nospoilers/backend/internal/httpapi"
	"github.com/nospoilers/backend/internal/kv"
	"github.com/nospoilers/backend/internal/metrics"
	"github.com/nospoilers/backend/internal/securestore"
	"github.com/nospoilers/backend/internal/tokens"
	"github.com/nospoilers/backend/internal/vault"
)

func main() {
	// Local development reads .env; deployed environments set real vars.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("NOSPOILERS_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.ApplyEnv(cfg)

	// Cloud Run injects PORT; it wins over the config file.
	addr := cfg.Server.AuthAddr
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	var registry *prometheus.Registry
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		m = metrics.New(registry)
	}

	store, backendName, err := openVault(cfg, m, logger)
	if err != nil {
		log.Fatalf("Failed to open vault: %v", err)
	}
	defer store.Close()
	log.Printf("🔐 Vault ready (backend=%s)", backendName)

	clk := clock.System{}
	broker, err := tokens.NewBroker(tokens.Config{
		Secret:    tokenSecret(cfg),
		AccessTTL: time.Duration(cfg.Auth.AccessTokenTTLMs) * time.Millisecond,
	}, clk)
	if err != nil {
		log.Fatalf("Failed to build token broker: %v", err)
	}

	emitter, closeEmitter := buildEmitter(cfg)
	defer closeEmitter()

	svc, err := auth.NewService(auth.Config{
		Transport: auth.TransportPolicy{
			APIBaseURL:           cfg.Transport.APIBaseURL,
			CookieName:           cfg.Transport.CookieName,
			Platform:             cfg.Transport.Platform,
			EnforceSecureStorage: cfg.Transport.EnforceSecureStorage,
		},
		Profile:         cfg.Profile,
		SMSCodeTTL:      time.Duration(cfg.Auth.SMSCodeTTLMs) * time.Millisecond,
		RefreshTokenTTL: time.Duration(cfg.Auth.RefreshTokenTTLMs) * time.Millisecond,
		ReservationTTL:  time.Duration(cfg.Auth.ReservationTTLMs) * time.Millisecond,
		AvatarPlanTTL:   time.Duration(cfg.Auth.AvatarPlanTTLMs) * time.Millisecond,
		HashSalt:        cfg.Auth.HashSalt,
	}, auth.Deps{
		Vault:   store,
		Broker:  broker,
		Slot:    securestore.NewMemory(),
		Clock:   clk,
		IDs:     clock.UUIDSource{},
		Emitter: emitter,
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("Failed to build auth service: %v", err)
	}

	// Expired limiter entries accumulate without a periodic sweep.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			svc.Limiter().Sweep()
		}
	}()

	router := httpapi.NewAuthRouter(httpapi.AuthServerDeps{
		Service:        svc,
		Vault:          store,
		Metrics:        m,
		Registry:       registry,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	// Graceful shutdown (Cloud Run sends SIGTERM)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 NoSpoilers auth service starting on %s (profile=%s, platform=%s)",
		addr, cfg.Profile, cfg.Transport.Platform)
	log.Printf("📊 Health check: http://localhost%s/health", addr)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}

	log.Println("Server stopped")
}

// openVault picks the configured KV backend and wraps it in the encrypted
// vault.
func openVault(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*vault.Store, string, error) {
	secret := cfg.VaultSecret()
	if secret == "" {
		if cfg.Profile == "production" {
			return nil, "", fmt.Errorf("vault secret env %s must be set in production", cfg.Vault.SecretEnv)
		}
		secret = "dev-only-vault-secret"
		log.Printf("⚠️  Vault secret not set, using the development fallback")
	}

	name := cfg.Vault.Backend
	if name == "" {
		name = "memory"
	}

	var backend kv.Backend
	var err error
	switch name {
	case "memory":
		backend = kv.NewMemory()
	case "redis":
		backend, err = kv.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	case "postgres":
		backend, err = kv.NewPostgres(cfg.Postgres.DSN, cfg.Postgres.Table)
	case "supabase":
		backend, err = kv.NewSupabase(os.Getenv("SUPABASE_URL"), os.Getenv("SUPABASE_SERVICE_KEY"), cfg.Supabase.Table)
	default:
		return nil, "", fmt.Errorf("unknown vault backend %q", name)
	}
	if err != nil {
		return nil, "", err
	}

	// Networked backends fail fast through a breaker instead of stalling
	// every request while the store is down.
	if name != "memory" {
		backend = kv.WithBreaker(backend, kv.BreakerConfig{Name: name}, clock.System{}, logger)
	}

	store, err := vault.New(secret, backend, m)
	if err != nil {
		return nil, "", err
	}
	return store, name, nil
}

// tokenSecret resolves the signing secret for access tokens, falling back
// to a development-only value outside production.
func tokenSecret(cfg *config.Config) string {
	if secret := os.Getenv("NOSPOILERS_TOKEN_SECRET"); secret != "" {
		return secret
	}
	if cfg.Profile == "production" {
		log.Fatalf("NOSPOILERS_TOKEN_SECRET must be set in production")
	}
	log.Printf("⚠️  Token secret not set, using the development fallback")
	return "dev-only-token-secret"
}

// buildEmitter returns the event emitter: Pub/Sub backed when configured,
// in-memory otherwise.
func buildEmitter(cfg *config.Config) (events.EventEmitter, func()) {
	if cfg.Events.PubSubEnabled && cfg.Events.ProjectID != "" {
		bus, err := events.NewPubSubEventBus(cfg.Events.ProjectID, cfg.Events.Topic)
		if err != nil {
			log.Fatalf("Failed to connect to Pub/Sub: %v", err)
		}
		return bus, func() { bus.Close() }
	}
	return events.NewEventBus(), func() {}
}

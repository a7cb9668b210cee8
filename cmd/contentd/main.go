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

	"github.com/nospoilers/backend/internal/clock"
	"github.com/nospoilers/backend/internal/config"
	"github.com/nospoilers/backend/internal/content"
	"github.com/nospoilers/backend/internal/events"
	"github.com/nospoilers/backend/internal/httpapi"
	"github.com/nospoilers/backend/internal/kv"
	"github.com/nospoilers/backend/internal/metrics"
	"github.com/nospoilers/backend/internal/realtime"
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
	addr := cfg.Server.ContentAddr
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

	// The websocket hub rides the in-memory bus; with Pub/Sub enabled the
	// same events also go out durably.
	localBus, emitter, closeEmitter := buildBus(cfg)
	defer closeEmitter()

	svc, err := content.NewService(content.Config{
		RollbackWindow: time.Duration(cfg.Content.RollbackWindowMs) * time.Millisecond,
	}, content.Deps{
		Vault:   store,
		Clock:   clock.System{},
		IDs:     clock.UUIDSource{},
		Emitter: emitter,
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("Failed to build content service: %v", err)
	}

	hub := realtime.NewHub(localBus, m, logger)
	go hub.Run()
	defer hub.Close()

	router := httpapi.NewContentRouter(httpapi.ContentServerDeps{
		Service:        svc,
		Hub:            hub,
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

	log.Printf("🚀 NoSpoilers content service starting on %s (profile=%s)", addr, cfg.Profile)
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

// buildBus wires the event plumbing. The returned EventBus is always the
// in-memory side the hub subscribes to; the emitter may additionally
// publish to Pub/Sub.
func buildBus(cfg *config.Config) (*events.EventBus, events.EventEmitter, func()) {
	if cfg.Events.PubSubEnabled && cfg.Events.ProjectID != "" {
		bus, err := events.NewPubSubEventBus(cfg.Events.ProjectID, cfg.Events.Topic)
		if err != nil {
			log.Fatalf("Failed to connect to Pub/Sub: %v", err)
		}
		return bus.EventBus, bus, func() { bus.Close() }
	}
	bus := events.NewEventBus()
	return bus, bus, func() {}
}

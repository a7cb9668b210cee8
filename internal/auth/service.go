// Package auth implements the authentication and identity service: phone
// OTP, OAuth and email/password login, account linking, session issuance
// and rotation, username reservation, avatar upload planning, with rate
// limits, suspicion scoring, and audit logging around all of it.
//
// All persistent state lives in whole-map JSON documents behind the
// encrypted vault; every operation loads what it needs under the service
// lock, mutates, and writes back.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nospoilers/backend/internal/apperr"
	"github.com/nospoilers/backend/internal/audit"
	"github.com/nospoilers/backend/internal/clock"
	"github.com/nospoilers/backend/internal/events"
	"github.com/nospoilers/backend/internal/metrics"
	"github.com/nospoilers/backend/internal/ratelimit"
	"github.com/nospoilers/backend/internal/securestore"
	"github.com/nospoilers/backend/internal/tokens"
	"github.com/nospoilers/backend/internal/vault"
)

// Vault keys for the service's entity maps.
const (
	keyUsers        = "auth:users"
	keyChallenges   = "auth:phone:challenges"
	keyRefreshToks  = "auth:refreshTokens"
	keyUsernameIdx  = "auth:username:index"
	keyReservations = "auth:username:reservations"
	keyAvatarPlans  = "auth:avatar:uploads"
)

// Domain-separation salt mixed into password and OTP code hashes when the
// config does not provide one.
const defaultHashSalt = "nospoilers.auth.v1"

const (
	ProfileProduction  = "production"
	ProfileDevelopment = "development"
)

// TransportPolicy is validated once at construction. Anything weaker than
// https plus enforced secure storage refuses to start.
type TransportPolicy struct {
	APIBaseURL           string `yaml:"api_base_url" json:"apiBaseUrl"`
	CookieName           string `yaml:"cookie_name" json:"cookieName"`
	Platform             string `yaml:"platform" json:"platform"`
	EnforceSecureStorage bool   `yaml:"enforce_secure_storage" json:"enforceSecureStorage"`
}

// Validate enforces the transport policy invariants.
func (p TransportPolicy) Validate() error {
	if !strings.HasPrefix(p.APIBaseURL, "https://") {
		return apperr.WithField(apperr.ErrInsecureTransport, "apiBaseUrl")
	}
	if !p.EnforceSecureStorage {
		return apperr.WithField(apperr.ErrInsecureTransport, "enforceSecureStorage")
	}
	switch p.Platform {
	case "web", "ios", "android":
	default:
		return apperr.WithField(apperr.ErrInsecureTransport, "platform")
	}
	return nil
}

// Config carries the transport policy and the wall-clock windows the
// service hands out.
type Config struct {
	Transport       TransportPolicy
	Profile         string // ProfileProduction or ProfileDevelopment
	SMSCodeTTL      time.Duration
	RefreshTokenTTL time.Duration
	ReservationTTL  time.Duration
	AvatarPlanTTL   time.Duration
	HashSalt        string
}

func (c *Config) applyDefaults() {
	if c.Profile == "" {
		c.Profile = ProfileDevelopment
	}
	if c.SMSCodeTTL == 0 {
		c.SMSCodeTTL = 5 * time.Minute
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.ReservationTTL == 0 {
		c.ReservationTTL = 5 * time.Minute
	}
	if c.AvatarPlanTTL == 0 {
		c.AvatarPlanTTL = 10 * time.Minute
	}
	if c.HashSalt == "" {
		c.HashSalt = defaultHashSalt
	}
}

// Deps are the service's collaborators. Vault and Broker are required;
// everything else gets a sensible default.
type Deps struct {
	Vault   *vault.Store
	Broker  *tokens.Broker
	Slot    securestore.Slot
	Clock   clock.Clock
	IDs     clock.IDSource
	Emitter events.EventEmitter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Audit   *audit.Ring
}

// Service is the auth service. One coarse lock makes every operation
// atomic against the others; see the concurrency notes in the package doc.
type Service struct {
	mu sync.Mutex

	cfg       Config
	vault     *vault.Store
	broker    *tokens.Broker
	slot      securestore.Slot
	clock     clock.Clock
	ids       clock.IDSource
	emitter   events.EventEmitter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	limiter   *ratelimit.Limiter
	suspicion *ratelimit.SuspicionTracker
	audit     *audit.Ring
}

// NewService validates the transport policy and wires the service.
// Construction fails with InsecureTransport on a weak policy and with
// CryptoUnavailable when the vault or broker is missing.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if err := cfg.Transport.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if deps.Vault == nil {
		return nil, fmt.Errorf("auth: vault is required: %w", apperr.ErrCryptoUnavailable)
	}
	if deps.Broker == nil {
		return nil, fmt.Errorf("auth: token broker is required: %w", apperr.ErrCryptoUnavailable)
	}
	if deps.Slot == nil {
		deps.Slot = securestore.NewMemory()
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.IDs == nil {
		deps.IDs = clock.UUIDSource{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewRing(audit.DefaultCapacity, deps.Clock, deps.IDs)
	}

	s := &Service{
		cfg:     cfg,
		vault:   deps.Vault,
		broker:  deps.Broker,
		slot:    deps.Slot,
		clock:   deps.Clock,
		ids:     deps.IDs,
		emitter: deps.Emitter,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		audit:   deps.Audit,
	}
	s.limiter = ratelimit.NewLimiter(deps.Clock)
	s.suspicion = ratelimit.NewSuspicionTracker(deps.Clock, s.onSuspicionFlag)

	s.logger.Info("auth service ready",
		"platform", cfg.Transport.Platform,
		"profile", cfg.Profile)
	return s, nil
}

// Audit exposes the audit ring for diagnostics.
func (s *Service) Audit() *audit.Ring { return s.audit }

// Suspicion exposes the suspicion tracker for diagnostics.
func (s *Service) Suspicion() *ratelimit.SuspicionTracker { return s.suspicion }

// Limiter exposes the rate limiter so callers can drive periodic sweeps.
func (s *Service) Limiter() *ratelimit.Limiter { return s.limiter }

// Transport exposes the validated transport policy so the HTTP layer can
// apply the platform's refresh-token placement.
func (s *Service) Transport() TransportPolicy { return s.cfg.Transport }

// onSuspicionFlag records flagged keys in the audit log with the
// suspicious tag.
func (s *Service) onSuspicionFlag(incident ratelimit.Incident) {
	s.audit.Append(audit.Action("suspicion"), audit.StatusFailure, "", incident.Key, map[string]interface{}{
		"suspicious": true,
		"reason":     incident.Reason,
		"score":      incident.Score,
	})
	s.metrics.RecordSuspicionFlag()
	s.logger.Warn("suspicious activity flagged",
		"key", incident.Key,
		"reason", incident.Reason,
		"score", incident.Score)
}

// ============================================================================
// Persistence helpers
// ============================================================================

func (s *Service) nowMs() int64 {
	return s.clock.Now().UnixMilli()
}

func (s *Service) loadUsers(ctx context.Context) (map[string]*User, error) {
	users := make(map[string]*User)
	if err := s.vault.Get(ctx, keyUsers, &users); err != nil && err != vault.ErrNotFound {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return users, nil
}

func (s *Service) saveUsers(ctx context.Context, users map[string]*User) error {
	if err := s.vault.Put(ctx, keyUsers, users); err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}

func (s *Service) loadChallenges(ctx context.Context) (map[string]*PhoneChallenge, error) {
	challenges := make(map[string]*PhoneChallenge)
	if err := s.vault.Get(ctx, keyChallenges, &challenges); err != nil && err != vault.ErrNotFound {
		return nil, fmt.Errorf("load challenges: %w", err)
	}
	return challenges, nil
}

func (s *Service) saveChallenges(ctx context.Context, challenges map[string]*PhoneChallenge) error {
	if err := s.vault.Put(ctx, keyChallenges, challenges); err != nil {
		return fmt.Errorf("save challenges: %w", err)
	}
	return nil
}

func (s *Service) loadRefreshTokens(ctx context.Context) (map[string]*RefreshTokenRecord, error) {
	records := make(map[string]*RefreshTokenRecord)
	if err := s.vault.Get(ctx, keyRefreshToks, &records); err != nil && err != vault.ErrNotFound {
		return nil, fmt.Errorf("load refresh tokens: %w", err)
	}
	return records, nil
}

func (s *Service) saveRefreshTokens(ctx context.Context, records map[string]*RefreshTokenRecord) error {
	if err := s.vault.Put(ctx, keyRefreshToks, records); err != nil {
		return fmt.Errorf("save refresh tokens: %w", err)
	}
	return nil
}

func (s *Service) loadUsernameIndex(ctx context.Context) (map[string]string, error) {
	index := make(map[string]string)
	if err := s.vault.Get(ctx, keyUsernameIdx, &index); err != nil && err != vault.ErrNotFound {
		return nil, fmt.Errorf("load username index: %w", err)
	}
	return index, nil
}

func (s *Service) saveUsernameIndex(ctx context.Context, index map[string]string) error {
	if err := s.vault.Put(ctx, keyUsernameIdx, index); err != nil {
		return fmt.Errorf("save username index: %w", err)
	}
	return nil
}

func (s *Service) loadReservations(ctx context.Context) (map[string]*UsernameReservation, error) {
	reservations := make(map[string]*UsernameReservation)
	if err := s.vault.Get(ctx, keyReservations, &reservations); err != nil && err != vault.ErrNotFound {
		return nil, fmt.Errorf("load reservations: %w", err)
	}
	return reservations, nil
}

func (s *Service) saveReservations(ctx context.Context, reservations map[string]*UsernameReservation) error {
	if err := s.vault.Put(ctx, keyReservations, reservations); err != nil {
		return fmt.Errorf("save reservations: %w", err)
	}
	return nil
}

func (s *Service) loadAvatarPlans(ctx context.Context) (map[string]*AvatarUpload, error) {
	plans := make(map[string]*AvatarUpload)
	if err := s.vault.Get(ctx, keyAvatarPlans, &plans); err != nil && err != vault.ErrNotFound {
		return nil, fmt.Errorf("load avatar plans: %w", err)
	}
	return plans, nil
}

func (s *Service) saveAvatarPlans(ctx context.Context, plans map[string]*AvatarUpload) error {
	if err := s.vault.Put(ctx, keyAvatarPlans, plans); err != nil {
		return fmt.Errorf("save avatar plans: %w", err)
	}
	return nil
}

// ============================================================================
// Shared internals
// ============================================================================

// hashSecret hashes OTP codes and passwords with the service salt.
func (s *Service) hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret + s.cfg.HashSalt))
	return hex.EncodeToString(sum[:])
}

// emit publishes an event when an emitter is wired.
func (s *Service) emit(eventType, subject string, data map[string]interface{}) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(eventType, "/auth", subject, data)
}

// allow runs the rate limiter and, on denial, scores the key and records
// the audit trail the caller would otherwise have to repeat.
func (s *Service) allow(key string, limit ratelimit.Limit, action audit.Action, scope string) error {
	if err := s.limiter.Allow(key, limit); err != nil {
		s.suspicion.Observe(key, string(action)+"_denied")
		s.audit.Append(action, audit.StatusFailure, "", key, map[string]interface{}{
			"reason": "rate_limited",
		})
		s.metrics.RecordRateLimited(scope)
		return err
	}
	return nil
}

// GetUser returns the outward shape of one user.
func (s *Service) GetUser(ctx context.Context, userID string) (*AuthUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	user, ok := users[userID]
	if !ok {
		return nil, apperr.ErrUnknownUser
	}
	public := user.Public()
	return &public, nil
}

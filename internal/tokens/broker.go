// Package tokens mints and verifies the credentials behind a session pair:
// HMAC-SHA256 signed access tokens and opaque random refresh tokens. Access
// tokens are stateless; refresh records are the auth service's job.
package tokens

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nospoilers/backend/internal/apperr"
	"github.com/nospoilers/backend/internal/clock"
)

var (
	ErrMalformed    = errors.New("tokens: malformed token")
	ErrBadSignature = errors.New("tokens: invalid signature")
	ErrTokenExpired = errors.New("tokens: expired")
	ErrWrongIssuer  = errors.New("tokens: wrong issuer")
)

// Claims are embedded in every access token.
type Claims struct {
	UserID    string `json:"uid"`
	SessionID string `json:"sid"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Issuer    string `json:"iss"`
}

// Config configures the broker.
type Config struct {
	Secret              string
	PreviousSecret      string        // previous key honored during rotation
	RotationGracePeriod time.Duration // how long the previous key stays valid
	AccessTTL           time.Duration
	Issuer              string
}

// Broker signs and verifies access tokens and mints refresh tokens.
type Broker struct {
	mu         sync.RWMutex
	secret     []byte
	prevSecret []byte
	graceUntil time.Time
	accessTTL  time.Duration
	issuer     string
	clock      clock.Clock
}

// NewBroker validates the signing secret up front; an empty secret is a
// construction-fatal crypto failure, never silently defaulted.
func NewBroker(cfg Config, clk clock.Clock) (*Broker, error) {
	if cfg.Secret == "" {
		return nil, apperr.ErrCryptoUnavailable
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "nospoilers-auth"
	}
	if cfg.RotationGracePeriod == 0 {
		cfg.RotationGracePeriod = 24 * time.Hour
	}

	b := &Broker{
		secret:    []byte(cfg.Secret),
		accessTTL: cfg.AccessTTL,
		issuer:    cfg.Issuer,
		clock:     clk,
	}
	if cfg.PreviousSecret != "" {
		b.prevSecret = []byte(cfg.PreviousSecret)
		b.graceUntil = clk.Now().Add(cfg.RotationGracePeriod)
	}
	return b, nil
}

// Issue mints a signed access token for userID bound to sessionID.
func (b *Broker) Issue(userID, sessionID string) (string, Claims, error) {
	now := b.clock.Now()
	claims := Claims{
		UserID:    userID,
		SessionID: sessionID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(b.accessTTL).Unix(),
		Issuer:    b.issuer,
	}

	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", Claims{}, fmt.Errorf("serialize claims: %w", err)
	}

	sig := b.sign(claimsJSON)
	token := base64.RawURLEncoding.EncodeToString(claimsJSON) +
		"." +
		base64.RawURLEncoding.EncodeToString(sig)
	return token, claims, nil
}

// Verify checks signature (current key first, previous key during the
// rotation grace window), issuer, and expiry.
func (b *Broker) Verify(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return nil, ErrMalformed
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrMalformed
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrMalformed
	}

	valid := hmac.Equal(sig, b.sign(claimsJSON))
	if !valid {
		b.mu.RLock()
		hasPrev := len(b.prevSecret) > 0 && b.clock.Now().Before(b.graceUntil)
		prev := b.prevSecret
		b.mu.RUnlock()

		if hasPrev {
			prevMac := hmac.New(sha256.New, prev)
			prevMac.Write(claimsJSON)
			valid = hmac.Equal(sig, prevMac.Sum(nil))
		}
	}
	if !valid {
		return nil, ErrBadSignature
	}

	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, ErrMalformed
	}
	if claims.Issuer != b.issuer {
		return nil, ErrWrongIssuer
	}
	if b.clock.Now().Unix() > claims.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

// NewRefreshToken mints an opaque 256-bit random token.
func (b *Broker) NewRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", apperr.ErrCryptoUnavailable
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// AccessTTL reports the configured access-token lifetime.
func (b *Broker) AccessTTL() time.Duration {
	return b.accessTTL
}

func (b *Broker) sign(payload []byte) []byte {
	b.mu.RLock()
	secret := b.secret
	b.mu.RUnlock()

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

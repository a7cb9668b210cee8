package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"regexp"
	"strings"

	"github.com/nospoilers/backend/internal/apperr"
	"github.com/nospoilers/backend/internal/audit"
	"github.com/nospoilers/backend/internal/events"
	"github.com/nospoilers/backend/internal/ratelimit"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail lowercases, trims, and applies a basic shape check.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if !emailPattern.MatchString(email) {
		return "", apperr.WithField(apperr.ErrInvalidEmail, "email")
	}
	return email, nil
}

// LoginWithEmailPassword signs an existing user in by constant-time hash
// comparison, or creates a fresh account when the email is unknown. The
// caller can never tell from the error whether the email or the password
// was wrong.
func (s *Service) LoginWithEmailPassword(ctx context.Context, email, password string) (*ProviderLoginResult, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		s.audit.Append(audit.ActionEmailLogin, audit.StatusFailure, "", "", map[string]interface{}{
			"reason": "invalid_email",
		})
		return nil, err
	}
	if password == "" {
		s.audit.Append(audit.ActionEmailLogin, audit.StatusFailure, "", normalized, map[string]interface{}{
			"reason": "empty_password",
		})
		return nil, apperr.ErrInvalidCredentials
	}

	limitKey := "login:email:" + normalized
	if err := s.allow(limitKey, ratelimit.LoginLimit, audit.ActionEmailLogin, "login"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.loadRefreshTokens(ctx)
	if err != nil {
		return nil, err
	}

	now := s.nowMs()
	user := findUser(users, func(u *User) bool { return u.Email == normalized })
	created := false
	linked := false

	if user != nil {
		presented := s.hashSecret(password)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(user.PasswordHash)) != 1 {
			s.suspicion.Observe(limitKey, "password_mismatch")
			s.audit.Append(audit.ActionEmailLogin, audit.StatusFailure, user.ID, normalized, map[string]interface{}{
				"reason": "password_mismatch",
			})
			s.metrics.RecordLogin("email", "failure")
			return nil, apperr.ErrInvalidCredentials
		}
		if !user.HasIdentity(ProviderEmail, normalized) {
			user.Identities = append(user.Identities, Identity{Provider: ProviderEmail, Subject: normalized})
			user.UpdatedAtMs = now
			linked = true
		}
	} else {
		user = &User{
			ID:           s.ids.NewID(),
			Email:        normalized,
			PasswordHash: s.hashSecret(password),
			Identities:   []Identity{{Provider: ProviderEmail, Subject: normalized}},
			Preferences:  Preferences{ThemePreference: ThemeSystem},
			CreatedAtMs:  now,
			UpdatedAtMs:  now,
		}
		users[user.ID] = user
		created = true
		linked = true
	}

	pair, err := s.issueSession(records, user.ID)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.saveUsers(ctx, users); err != nil {
		return nil, err
	}
	if err := s.saveRefreshTokens(ctx, records); err != nil {
		return nil, err
	}
	if err := s.slot.Set(ctx, pair.RefreshToken); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	s.audit.Append(audit.ActionEmailLogin, audit.StatusSuccess, user.ID, normalized, map[string]interface{}{
		"created": created,
	})
	s.metrics.RecordLogin("email", "success")
	if created {
		s.emit(events.TypeUserCreated, user.ID, map[string]interface{}{"provider": string(ProviderEmail)})
	}
	s.emit(events.TypeLoginSucceeded, user.ID, map[string]interface{}{"method": string(ProviderEmail)})

	return &ProviderLoginResult{
		User:    user.Public(),
		Session: pair,
		Linked:  linked,
	}, nil
}

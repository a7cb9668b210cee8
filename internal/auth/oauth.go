package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/nospoilers/backend/internal/apperr"
	"github.com/nospoilers/backend/internal/audit"
	"github.com/nospoilers/backend/internal/events"
	"github.com/nospoilers/backend/internal/ratelimit"
)

// oauthProviders are the external identity providers accepted by
// LoginWithOAuth. Apple follows the same path as Google.
var oauthProviders = map[Provider]bool{
	ProviderGoogle: true,
	ProviderApple:  true,
}

// LoginWithOAuth records a verified (provider, subject) identity for the
// caller, linking to an existing account by identity or email hint before
// creating a new one. The subject is the provider's stable user ID, taken
// from an ID token the edge already verified.
func (s *Service) LoginWithOAuth(ctx context.Context, provider Provider, subject, emailHint string) (*ProviderLoginResult, error) {
	if !oauthProviders[provider] {
		s.audit.Append(audit.ActionOAuthLogin, audit.StatusFailure, "", "", map[string]interface{}{
			"reason":   "unsupported_provider",
			"provider": string(provider),
		})
		return nil, apperr.WithField(apperr.ErrInvalidCredentials, "provider")
	}

	subject = strings.ToLower(strings.TrimSpace(subject))
	if subject == "" {
		s.audit.Append(audit.ActionOAuthLogin, audit.StatusFailure, "", "", map[string]interface{}{
			"reason":   "empty_subject",
			"provider": string(provider),
		})
		return nil, apperr.ErrInvalidCredentials
	}

	// A malformed hint never blocks the login; it is simply not used for
	// linking or backfill.
	hint := ""
	if emailHint != "" {
		if normalized, err := NormalizeEmail(emailHint); err == nil {
			hint = normalized
		}
	}

	key := fmt.Sprintf("login:%s:%s", provider, subject)
	if err := s.allow(key, ratelimit.LoginLimit, audit.ActionOAuthLogin, "login"); err != nil {
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

	outcome := s.upsertProviderIdentity(users, provider, subject, true, hint, "")
	pair, err := s.issueSession(records, outcome.user.ID)
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

	s.audit.Append(audit.ActionOAuthLogin, audit.StatusSuccess, outcome.user.ID, "", map[string]interface{}{
		"provider": string(provider),
		"created":  outcome.created,
		"linked":   outcome.linked,
	})
	s.metrics.RecordLogin(string(provider), "success")
	if outcome.created {
		s.emit(events.TypeUserCreated, outcome.user.ID, map[string]interface{}{"provider": string(provider)})
	}
	s.emit(events.TypeLoginSucceeded, outcome.user.ID, map[string]interface{}{"method": string(provider)})

	return &ProviderLoginResult{
		User:    outcome.user.Public(),
		Session: pair,
		Linked:  outcome.linked,
	}, nil
}

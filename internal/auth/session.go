package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/nospoilers/backend/internal/apperr"
	"github.com/nospoilers/backend/internal/audit"
	"github.com/nospoilers/backend/internal/events"
	"github.com/nospoilers/backend/internal/tokens"
)

// issueSession mints a fresh access/refresh pair and records the refresh
// token. The caller holds the service lock, persists the records map, and
// writes the refresh token to the secure slot after a successful persist.
func (s *Service) issueSession(records map[string]*RefreshTokenRecord, userID string) (SessionPair, error) {
	sessionID := s.ids.NewID()
	access, _, err := s.broker.Issue(userID, sessionID)
	if err != nil {
		return SessionPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.broker.NewRefreshToken()
	if err != nil {
		return SessionPair{}, fmt.Errorf("mint refresh token: %w", err)
	}

	now := s.nowMs()
	records[refresh] = &RefreshTokenRecord{
		UserID:      userID,
		IssuedAtMs:  now,
		ExpiresAtMs: now + s.cfg.RefreshTokenTTL.Milliseconds(),
	}

	return SessionPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresInMs:  s.broker.AccessTTL().Milliseconds(),
	}, nil
}

// RefreshSession rotates the presented refresh token: the old record is
// consumed and a fresh pair issued. An empty argument falls back to the
// secure slot.
func (s *Service) RefreshSession(ctx context.Context, presented string) (*SessionPair, error) {
	token := strings.TrimSpace(presented)
	if token == "" {
		stored, err := s.slot.Get(ctx)
		if err != nil {
			s.audit.Append(audit.ActionSessionRefresh, audit.StatusFailure, "", "", map[string]interface{}{
				"reason": "no_token_presented",
			})
			return nil, apperr.ErrMissingRefresh
		}
		token = stored
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadRefreshTokens(ctx)
	if err != nil {
		return nil, err
	}

	rec, ok := records[token]
	if !ok {
		// Either a forged token or a replay of one already consumed by
		// rotation. Both are worth scoring.
		s.suspicion.Observe("session_refresh", "unknown_refresh_token")
		s.audit.Append(audit.ActionSessionRefresh, audit.StatusFailure, "", "", map[string]interface{}{
			"reason": "unknown_token",
		})
		return nil, apperr.ErrMissingRefresh
	}

	if s.nowMs() > rec.ExpiresAtMs {
		delete(records, token)
		if err := s.saveRefreshTokens(ctx, records); err != nil {
			return nil, err
		}
		s.audit.Append(audit.ActionSessionRefresh, audit.StatusFailure, rec.UserID, "", map[string]interface{}{
			"reason": "refresh_expired",
		})
		return nil, apperr.ErrRefreshExpired
	}

	userID := rec.UserID
	delete(records, token) // single-use

	pair, err := s.issueSession(records, userID)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.saveRefreshTokens(ctx, records); err != nil {
		return nil, err
	}
	if err := s.slot.Set(ctx, pair.RefreshToken); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	s.audit.Append(audit.ActionSessionRefresh, audit.StatusSuccess, userID, "", nil)
	s.emit(events.TypeSessionRefreshed, userID, map[string]interface{}{"userId": userID})
	return &pair, nil
}

// Logout consumes the current refresh record and clears the secure slot.
// It succeeds even when no session is active.
func (s *Service) Logout(ctx context.Context, presented string) error {
	token := strings.TrimSpace(presented)
	if token == "" {
		if stored, err := s.slot.Get(ctx); err == nil {
			token = stored
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID := ""
	if token != "" {
		records, err := s.loadRefreshTokens(ctx)
		if err != nil {
			return err
		}
		if rec, ok := records[token]; ok {
			userID = rec.UserID
			delete(records, token)
			if err := s.saveRefreshTokens(ctx, records); err != nil {
				return err
			}
		}
	}

	if err := s.slot.Clear(ctx); err != nil {
		return fmt.Errorf("clear secure slot: %w", err)
	}

	s.audit.Append(audit.ActionLogout, audit.StatusSuccess, userID, "", nil)
	if userID != "" {
		s.emit(events.TypeSessionRevoked, userID, map[string]interface{}{"userId": userID})
	}
	return nil
}

// VerifyAccessToken validates a bearer token and returns its claims.
func (s *Service) VerifyAccessToken(token string) (*tokens.Claims, error) {
	return s.broker.Verify(token)
}

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"

	"github.com/nospoilers/backend/internal/apperr"
	"github.com/nospoilers/backend/internal/audit"
	"github.com/nospoilers/backend/internal/events"
	"github.com/nospoilers/backend/internal/ratelimit"
)

// NormalizePhone strips everything outside [0-9+] and requires at least
// seven digits.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	digits := 0
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits++
			b.WriteRune(r)
		case r == '+':
			b.WriteRune(r)
		}
	}
	if digits < 7 {
		return "", apperr.WithField(apperr.ErrInvalidPhone, "phone")
	}
	return b.String(), nil
}

// RedactPhone masks all but the last four characters.
func RedactPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// StartPhoneLogin creates an OTP challenge for the phone. The code itself
// is never stored or logged; only its salted hash survives. DevCode is
// filled outside production so clients can complete the flow without a
// real SMS provider.
func (s *Service) StartPhoneLogin(ctx context.Context, phone string) (*PhoneChallengeResponse, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		s.audit.Append(audit.ActionOTPSend, audit.StatusFailure, "", "", map[string]interface{}{
			"reason": "invalid_phone",
		})
		return nil, err
	}
	redacted := RedactPhone(normalized)

	if err := s.allow("otp_send:"+normalized, ratelimit.OTPSendLimit, audit.ActionOTPSend, "otp_send"); err != nil {
		return nil, err
	}

	code, err := randomCode()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	challenges, err := s.loadChallenges(ctx)
	if err != nil {
		return nil, err
	}
	s.pruneChallenges(challenges)

	now := s.nowMs()
	challenge := &PhoneChallenge{
		ChallengeID: s.ids.NewID(),
		Phone:       normalized,
		CodeHash:    s.hashSecret(code),
		ExpiresAtMs: now + s.cfg.SMSCodeTTL.Milliseconds(),
	}
	challenges[challenge.ChallengeID] = challenge

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.saveChallenges(ctx, challenges); err != nil {
		return nil, err
	}

	s.audit.Append(audit.ActionOTPSend, audit.StatusSuccess, "", redacted, map[string]interface{}{
		"challengeId": challenge.ChallengeID,
	})
	s.metrics.RecordOTPSend()
	s.logger.Info("OTP challenge created", "phone", redacted, "challenge_id", challenge.ChallengeID)

	resp := &PhoneChallengeResponse{
		ChallengeID:   challenge.ChallengeID,
		ExpiresAtMs:   challenge.ExpiresAtMs,
		RedactedPhone: redacted,
	}
	if s.cfg.Profile != ProfileProduction {
		resp.DevCode = code
	}
	return resp, nil
}

// VerifyPhoneCode checks the OTP and, on success, consumes the challenge
// and logs the caller in under a phone identity.
func (s *Service) VerifyPhoneCode(ctx context.Context, challengeID, code string) (*ProviderLoginResult, error) {
	challengeID = strings.TrimSpace(challengeID)
	if challengeID == "" {
		return nil, apperr.ErrInvalidChallenge
	}

	limitKey := "otp_verify:" + challengeID
	if err := s.allow(limitKey, ratelimit.OTPVerifyLimit, audit.ActionOTPVerify, "otp_verify"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	challenges, err := s.loadChallenges(ctx)
	if err != nil {
		return nil, err
	}

	challenge, ok := challenges[challengeID]
	if !ok {
		s.suspicion.Observe(limitKey, "unknown_challenge")
		s.audit.Append(audit.ActionOTPVerify, audit.StatusFailure, "", "", map[string]interface{}{
			"reason":      "unknown_challenge",
			"challengeId": challengeID,
		})
		return nil, apperr.ErrInvalidChallenge
	}

	if s.nowMs() > challenge.ExpiresAtMs {
		delete(challenges, challengeID)
		if err := s.saveChallenges(ctx, challenges); err != nil {
			return nil, err
		}
		s.audit.Append(audit.ActionOTPVerify, audit.StatusFailure, "", RedactPhone(challenge.Phone), map[string]interface{}{
			"reason":      "expired",
			"challengeId": challengeID,
		})
		return nil, apperr.ErrExpired
	}

	presented := s.hashSecret(strings.TrimSpace(code))
	if subtle.ConstantTimeCompare([]byte(presented), []byte(challenge.CodeHash)) != 1 {
		s.suspicion.Observe(limitKey, "code_mismatch")
		s.audit.Append(audit.ActionOTPVerify, audit.StatusFailure, "", RedactPhone(challenge.Phone), map[string]interface{}{
			"reason":      "code_mismatch",
			"challengeId": challengeID,
		})
		s.metrics.RecordLogin("phone", "failure")
		return nil, apperr.ErrCodeMismatch
	}

	delete(challenges, challengeID)

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.loadRefreshTokens(ctx)
	if err != nil {
		return nil, err
	}

	outcome := s.upsertProviderIdentity(users, ProviderPhone, challenge.Phone, true, "", challenge.Phone)
	pair, err := s.issueSession(records, outcome.user.ID)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.saveChallenges(ctx, challenges); err != nil {
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

	s.audit.Append(audit.ActionOTPVerify, audit.StatusSuccess, outcome.user.ID, RedactPhone(challenge.Phone), map[string]interface{}{
		"created": outcome.created,
	})
	s.metrics.RecordLogin("phone", "success")
	if outcome.created {
		s.emit(events.TypeUserCreated, outcome.user.ID, map[string]interface{}{"provider": string(ProviderPhone)})
	}
	s.emit(events.TypeLoginSucceeded, outcome.user.ID, map[string]interface{}{"method": string(ProviderPhone)})

	return &ProviderLoginResult{
		User:    outcome.user.Public(),
		Session: pair,
		Linked:  outcome.linked,
	}, nil
}

// pruneChallenges drops expired challenges in place.
func (s *Service) pruneChallenges(challenges map[string]*PhoneChallenge) {
	now := s.nowMs()
	for id, c := range challenges {
		if now > c.ExpiresAtMs {
			delete(challenges, id)
		}
	}
}

// randomCode draws a uniformly random six-digit OTP.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", apperr.ErrCryptoUnavailable
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

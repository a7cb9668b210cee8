package auth

import (
	"context"
	"regexp"
	"strings"

	"github.com/nospoilers/backend/internal/apperr"
)

// Usernames are 1 or 3-30 characters of [a-z0-9_] with no leading or
// trailing underscore.
var usernamePattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9_]{1,28}[a-z0-9])?$`)

// NormalizeUsername yields the lookup form. The trimmed original remains
// the display form.
func NormalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// CheckUsernameAvailability reports whether a username can be claimed.
// Expired reservations are swept on every read so a lapsed hold never
// blocks anyone.
func (s *Service) CheckUsernameAvailability(ctx context.Context, username string) (*UsernameAvailability, error) {
	normalized := NormalizeUsername(username)
	result := &UsernameAvailability{Requested: username, Normalized: normalized}

	if !usernamePattern.MatchString(normalized) {
		result.Reason = ReasonInvalid
		return result, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadUsernameIndex(ctx)
	if err != nil {
		return nil, err
	}
	reservations, err := s.loadReservations(ctx)
	if err != nil {
		return nil, err
	}
	if s.sweepReservations(reservations) {
		if err := s.saveReservations(ctx, reservations); err != nil {
			return nil, err
		}
	}

	if _, taken := index[normalized]; taken {
		result.Reason = ReasonTaken
		return result, nil
	}
	if r, held := reservations[normalized]; held {
		result.Reason = ReasonReserved
		result.ReservedUntilMs = r.ExpiresAtMs
		return result, nil
	}

	result.Available = true
	return result, nil
}

// ReserveUsername installs a five-minute exclusive hold for userID. Only a
// currently available name can be reserved; the owner may renew their own
// hold.
func (s *Service) ReserveUsername(ctx context.Context, username, userID string) (*UsernameAvailability, error) {
	normalized := NormalizeUsername(username)
	if !usernamePattern.MatchString(normalized) {
		return nil, apperr.WithField(apperr.ErrInvalidUsername, "username")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := users[userID]; !ok {
		return nil, apperr.ErrUnknownUser
	}

	index, err := s.loadUsernameIndex(ctx)
	if err != nil {
		return nil, err
	}
	reservations, err := s.loadReservations(ctx)
	if err != nil {
		return nil, err
	}
	s.sweepReservations(reservations)

	if owner, taken := index[normalized]; taken && owner != userID {
		return nil, apperr.ErrUsernameTaken
	}
	if r, held := reservations[normalized]; held && r.UserID != userID {
		return nil, apperr.ErrUsernameReserved
	}

	reservation := &UsernameReservation{
		Normalized:  normalized,
		UserID:      userID,
		ExpiresAtMs: s.nowMs() + s.cfg.ReservationTTL.Milliseconds(),
	}
	reservations[normalized] = reservation

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.saveReservations(ctx, reservations); err != nil {
		return nil, err
	}

	s.logger.Info("username reserved", "username", normalized, "user_id", userID)
	return &UsernameAvailability{
		Requested:       username,
		Normalized:      normalized,
		Available:       false,
		Reason:          ReasonReserved,
		ReservedUntilMs: reservation.ExpiresAtMs,
	}, nil
}

// commitUsername binds the name to the user, releasing any previous
// binding and consuming a matching reservation. The caller holds the
// service lock, has swept reservations, and persists all touched maps.
func (s *Service) commitUsername(index map[string]string, reservations map[string]*UsernameReservation, user *User, requested string) error {
	normalized := NormalizeUsername(requested)
	if !usernamePattern.MatchString(normalized) {
		return apperr.WithField(apperr.ErrInvalidUsername, "username")
	}

	if owner, taken := index[normalized]; taken && owner != user.ID {
		return apperr.ErrUsernameTaken
	}
	if r, held := reservations[normalized]; held && r.UserID != user.ID {
		return apperr.ErrUsernameReserved
	}

	if user.UsernameNormalized != "" && user.UsernameNormalized != normalized {
		delete(index, user.UsernameNormalized)
	}
	index[normalized] = user.ID
	delete(reservations, normalized)

	user.Username = strings.TrimSpace(requested)
	user.UsernameNormalized = normalized
	return nil
}

// sweepReservations drops lapsed holds in place and reports whether
// anything was removed.
func (s *Service) sweepReservations(reservations map[string]*UsernameReservation) bool {
	now := s.nowMs()
	swept := false
	for name, r := range reservations {
		if now > r.ExpiresAtMs {
			delete(reservations, name)
			swept = true
		}
	}
	return swept
}

package auth

import (
	"context"
	"strings"

	"github.com/nospoilers/backend/internal/apperr"
)

// sanitizeDisplayName strips C0 control characters and DEL, trims
// whitespace, and caps the result at 80 characters. HTML escaping happens
// on output, not here.
func sanitizeDisplayName(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	name := strings.TrimSpace(b.String())
	if runes := []rune(name); len(runes) > 80 {
		name = strings.TrimSpace(string(runes[:80]))
	}
	return name
}

// UpdateProfile applies a partial edit to display name, username, and
// theme preference. A username change releases the old binding, claims the
// new one, and consumes the user's own reservation in one atomic step.
func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*AuthUser, error) {
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

	changed := false

	if update.DisplayName != nil {
		name := sanitizeDisplayName(*update.DisplayName)
		if name == "" {
			return nil, apperr.WithField(apperr.ErrEmptyDisplayName, "displayName")
		}
		user.DisplayName = name
		changed = true
	}

	if update.ThemePreference != nil {
		theme := ThemePreference(*update.ThemePreference)
		switch theme {
		case ThemeSystem, ThemeLight, ThemeDark:
			user.Preferences.ThemePreference = theme
			changed = true
		default:
			return nil, apperr.WithField(apperr.ErrInvalidTheme, "themePreference")
		}
	}

	var (
		index        map[string]string
		reservations map[string]*UsernameReservation
		usernameSet  bool
	)
	if update.Username != nil {
		index, err = s.loadUsernameIndex(ctx)
		if err != nil {
			return nil, err
		}
		reservations, err = s.loadReservations(ctx)
		if err != nil {
			return nil, err
		}
		s.sweepReservations(reservations)

		if err := s.commitUsername(index, reservations, user, *update.Username); err != nil {
			return nil, err
		}
		usernameSet = true
		changed = true
	}

	if changed {
		user.UpdatedAtMs = s.nowMs()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.saveUsers(ctx, users); err != nil {
		return nil, err
	}
	if usernameSet {
		if err := s.saveUsernameIndex(ctx, index); err != nil {
			return nil, err
		}
		if err := s.saveReservations(ctx, reservations); err != nil {
			return nil, err
		}
	}

	public := user.Public()
	return &public, nil
}

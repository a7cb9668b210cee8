package auth

import "sort"

// linkOutcome reports what upsertProviderIdentity did.
type linkOutcome struct {
	user    *User
	created bool
	linked  bool
}

// upsertProviderIdentity attaches (provider, subject) to exactly one user,
// merging deterministically:
//
//  1. a user already holding the identity,
//  2. else a user whose email matches the hint,
//  3. else a user whose primary phone matches the hint,
//  4. else a brand-new user.
//
// Missing identities are appended and missing contact fields backfilled
// from the hints. linked is true when anything new was attached. The
// caller holds the service lock and persists the users map afterwards.
func (s *Service) upsertProviderIdentity(users map[string]*User, provider Provider, subject string, verified bool, emailHint, phoneHint string) linkOutcome {
	now := s.nowMs()

	user := findUser(users, func(u *User) bool { return u.HasIdentity(provider, subject) })
	if user == nil && emailHint != "" {
		user = findUser(users, func(u *User) bool { return u.Email == emailHint })
	}
	if user == nil && phoneHint != "" {
		user = findUser(users, func(u *User) bool { return u.PrimaryPhone == phoneHint })
	}

	outcome := linkOutcome{}
	if user == nil {
		user = &User{
			ID:           s.ids.NewID(),
			Email:        emailHint,
			PrimaryPhone: phoneHint,
			Identities:   []Identity{{Provider: provider, Subject: subject, Verified: verified}},
			Preferences:  Preferences{ThemePreference: ThemeSystem},
			CreatedAtMs:  now,
			UpdatedAtMs:  now,
		}
		users[user.ID] = user
		outcome.user = user
		outcome.created = true
		outcome.linked = true
		return outcome
	}

	if !user.HasIdentity(provider, subject) {
		user.Identities = append(user.Identities, Identity{Provider: provider, Subject: subject, Verified: verified})
		outcome.linked = true
	}
	if user.Email == "" && emailHint != "" {
		user.Email = emailHint
		outcome.linked = true
	}
	if user.PrimaryPhone == "" && phoneHint != "" {
		user.PrimaryPhone = phoneHint
		outcome.linked = true
	}
	if outcome.linked {
		user.UpdatedAtMs = now
	}

	outcome.user = user
	return outcome
}

// findUser scans users in ID order so merge decisions are deterministic
// regardless of map iteration order.
func findUser(users map[string]*User, match func(*User) bool) *User {
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if match(users[id]) {
			return users[id]
		}
	}
	return nil
}

package auth

import "html"

// Provider identifies the external account type behind an identity.
type Provider string

const (
	ProviderPhone  Provider = "phone"
	ProviderGoogle Provider = "google"
	ProviderApple  Provider = "apple"
	ProviderEmail  Provider = "email"
)

// ThemePreference is the user's UI theme choice.
type ThemePreference string

const (
	ThemeSystem ThemePreference = "system"
	ThemeLight  ThemePreference = "light"
	ThemeDark   ThemePreference = "dark"
)

// Identity is a (provider, subject) pair attached to a user, evidence that
// the user controls that external account. The pair is unique across all
// users.
type Identity struct {
	Provider Provider `json:"provider"`
	Subject  string   `json:"subject"`
	Verified bool     `json:"verified"`
}

// Preferences holds per-user settings.
type Preferences struct {
	ThemePreference ThemePreference `json:"themePreference"`
}

// User is the auth service's account record. PasswordHash and the
// normalized username never leave the service; AuthUser is the outward
// shape.
type User struct {
	ID                 string      `json:"id"`
	Email              string      `json:"email,omitempty"`
	PrimaryPhone       string      `json:"primaryPhone,omitempty"`
	PasswordHash       string      `json:"passwordHash,omitempty"`
	DisplayName        string      `json:"displayName,omitempty"`
	AvatarURL          string      `json:"avatarUrl,omitempty"`
	Username           string      `json:"username,omitempty"`
	UsernameNormalized string      `json:"usernameNormalized,omitempty"`
	Identities         []Identity  `json:"identities"`
	Preferences        Preferences `json:"preferences"`
	CreatedAtMs        int64       `json:"createdAtMs"`
	UpdatedAtMs        int64       `json:"updatedAtMs"`
}

// HasIdentity reports whether the user already carries (provider, subject).
func (u *User) HasIdentity(provider Provider, subject string) bool {
	for _, id := range u.Identities {
		if id.Provider == provider && id.Subject == subject {
			return true
		}
	}
	return false
}

// AuthUser is the outward user shape. DisplayName is HTML-entity-encoded
// here so callers can embed it without further escaping.
type AuthUser struct {
	ID          string      `json:"id"`
	Email       string      `json:"email,omitempty"`
	Phone       string      `json:"phone,omitempty"`
	DisplayName string      `json:"displayName,omitempty"`
	AvatarURL   string      `json:"avatarUrl,omitempty"`
	Username    string      `json:"username,omitempty"`
	Identities  []Identity  `json:"identities"`
	Preferences Preferences `json:"preferences"`
	CreatedAtMs int64       `json:"createdAtMs"`
	UpdatedAtMs int64       `json:"updatedAtMs"`
}

// Public converts the stored record to its outward shape.
func (u *User) Public() AuthUser {
	identities := make([]Identity, len(u.Identities))
	copy(identities, u.Identities)
	return AuthUser{
		ID:          u.ID,
		Email:       u.Email,
		Phone:       u.PrimaryPhone,
		DisplayName: html.EscapeString(u.DisplayName),
		AvatarURL:   u.AvatarURL,
		Username:    u.Username,
		Identities:  identities,
		Preferences: u.Preferences,
		CreatedAtMs: u.CreatedAtMs,
		UpdatedAtMs: u.UpdatedAtMs,
	}
}

// PhoneChallenge is a pending OTP login. Destroyed on successful verify or
// on expiry.
type PhoneChallenge struct {
	ChallengeID string `json:"challengeId"`
	Phone       string `json:"phone"`
	CodeHash    string `json:"codeHash"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

// RefreshTokenRecord backs one opaque refresh token. Single-use: consumed
// on refresh and replaced by a fresh token.
type RefreshTokenRecord struct {
	UserID      string `json:"userId"`
	IssuedAtMs  int64  `json:"issuedAtMs"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

// UsernameReservation is a short-lived exclusive hold on a normalized
// username during a multi-step profile edit.
type UsernameReservation struct {
	Normalized  string `json:"normalized"`
	UserID      string `json:"userId"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

// AvatarUploadRequest is the client's description of the file it wants to
// upload.
type AvatarUploadRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Bytes       int64  `json:"bytes"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// AvatarUpload is a pending upload plan. Consumed on finalize.
type AvatarUpload struct {
	UploadID    string              `json:"uploadId"`
	ObjectKey   string              `json:"objectKey"`
	UserID      string              `json:"userId"`
	ExpiresAtMs int64               `json:"expiresAtMs"`
	Request     AvatarUploadRequest `json:"request"`
}

// AvatarUploadMeta describes the file the client actually uploaded.
type AvatarUploadMeta struct {
	ContentType string `json:"contentType"`
	Bytes       int64  `json:"bytes,omitempty"`
}

// SessionPair is an access token plus the refresh token that renews it.
// On web the refresh token travels only in the secure cookie, never in
// the JSON body.
type SessionPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType"`
	ExpiresInMs  int64  `json:"expiresInMs"`
}

// PhoneChallengeResponse is returned by StartPhoneLogin. DevCode is filled
// only outside the production profile.
type PhoneChallengeResponse struct {
	ChallengeID   string `json:"challengeId"`
	ExpiresAtMs   int64  `json:"expiresAtMs"`
	RedactedPhone string `json:"redactedPhone"`
	DevCode       string `json:"devCode,omitempty"`
}

// ProviderLoginResult is the outcome of any successful login. Linked is
// true when the login created a user, appended a new identity, or filled
// a missing contact field.
type ProviderLoginResult struct {
	User    AuthUser    `json:"user"`
	Session SessionPair `json:"session"`
	Linked  bool        `json:"linked"`
}

// Availability reasons for UsernameAvailability.Reason.
const (
	ReasonInvalid  = "invalid"
	ReasonTaken    = "taken"
	ReasonReserved = "reserved"
)

// UsernameAvailability reports whether a username can be claimed and, if
// not, why.
type UsernameAvailability struct {
	Requested       string `json:"requested"`
	Normalized      string `json:"normalized"`
	Available       bool   `json:"available"`
	Reason          string `json:"reason,omitempty"`
	ReservedUntilMs int64  `json:"reservedUntilMs,omitempty"`
}

// AvatarUploadPlan tells the client where and how to upload.
type AvatarUploadPlan struct {
	UploadID        string            `json:"uploadId"`
	ObjectKey       string            `json:"objectKey"`
	UploadURL       string            `json:"uploadUrl"`
	ExpiresAtMs     int64             `json:"expiresAtMs"`
	RequiredHeaders map[string]string `json:"requiredHeaders"`
}

// ProfileUpdate is a partial profile edit; nil fields are left unchanged.
type ProfileUpdate struct {
	DisplayName     *string `json:"displayName,omitempty"`
	Username        *string `json:"username,omitempty"`
	ThemePreference *string `json:"themePreference,omitempty"`
}

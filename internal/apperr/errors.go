// Package apperr defines the stable error kinds shared by the auth and
// content services. Every failure mode is a tagged sentinel matched with
// errors.Is; login-path sentinels carry deliberately generic user-visible
// messages while the audit log records the specific cause.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies a failure mode. Kinds are stable across the API.
type Kind string

const (
	// Input validation.
	KindInvalidPhone     Kind = "invalid_phone"
	KindInvalidEmail     Kind = "invalid_email"
	KindInvalidUsername  Kind = "invalid_username"
	KindInvalidAvatar    Kind = "invalid_avatar"
	KindEmptyDisplayName Kind = "empty_display_name"
	KindInvalidTheme     Kind = "invalid_theme"

	// Auth.
	KindInvalidChallenge   Kind = "invalid_challenge"
	KindExpired            Kind = "expired"
	KindCodeMismatch       Kind = "code_mismatch"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindUnknownUser        Kind = "unknown_user"

	// Username lifecycle.
	KindUsernameTaken    Kind = "username_taken"
	KindUsernameReserved Kind = "username_reserved"

	// Avatar lifecycle.
	KindUploadExpired      Kind = "upload_expired"
	KindUploadMimeMismatch Kind = "upload_mime_mismatch"
	KindUnknownUpload      Kind = "unknown_upload"

	// Session.
	KindMissingRefresh Kind = "missing_refresh"
	KindRefreshExpired Kind = "refresh_expired"

	// Defense.
	KindRateLimited       Kind = "rate_limited"
	KindInsecureTransport Kind = "insecure_transport"
	KindCryptoUnavailable Kind = "crypto_unavailable"
	KindTampered          Kind = "tampered"

	// Content.
	KindInvalidMedia         Kind = "invalid_media"
	KindUnknownMedia         Kind = "unknown_media"
	KindUnknownUnit          Kind = "unknown_unit"
	KindUnknownSelection     Kind = "unknown_selection"
	KindInvalidPostReference Kind = "invalid_post_reference"

	// Progress.
	KindUnknownToken      Kind = "unknown_token"
	KindAlreadyRolledBack Kind = "already_rolled_back"
	KindRollbackExpired   Kind = "rollback_expired"
	KindStale             Kind = "stale"
)

// Error is a tagged failure. Field names the offending input field for
// validation errors and is empty otherwise.
type Error struct {
	Kind    Kind
	Message string
	Field   string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// Is matches by Kind so that field-annotated copies still satisfy
// errors.Is(err, sentinel).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// WithField returns a copy of err naming the offending input field.
func WithField(err *Error, field string) *Error {
	clone := *err
	clone.Field = field
	return &clone
}

// KindOf returns the Kind carried anywhere in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

var (
	ErrInvalidPhone     = &Error{Kind: KindInvalidPhone, Message: "Enter a valid phone number."}
	ErrInvalidEmail     = &Error{Kind: KindInvalidEmail, Message: "Enter a valid email address."}
	ErrInvalidUsername  = &Error{Kind: KindInvalidUsername, Message: "That username isn't valid."}
	ErrInvalidAvatar    = &Error{Kind: KindInvalidAvatar, Message: "That image can't be used as an avatar."}
	ErrEmptyDisplayName = &Error{Kind: KindEmptyDisplayName, Message: "Display name can't be empty."}
	ErrInvalidTheme     = &Error{Kind: KindInvalidTheme, Message: "Unknown theme preference."}

	// Login-path messages stay generic; the Kind still tells callers apart.
	ErrInvalidChallenge   = &Error{Kind: KindInvalidChallenge, Message: "Incorrect one-time code."}
	ErrExpired            = &Error{Kind: KindExpired, Message: "That code has expired. Request a new one."}
	ErrCodeMismatch       = &Error{Kind: KindCodeMismatch, Message: "Incorrect one-time code."}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: "Invalid email or password."}
	ErrUnknownUser        = &Error{Kind: KindUnknownUser, Message: "Unknown user."}

	ErrUsernameTaken    = &Error{Kind: KindUsernameTaken, Message: "That username is taken."}
	ErrUsernameReserved = &Error{Kind: KindUsernameReserved, Message: "That username is on hold. Try again soon."}

	ErrUploadExpired      = &Error{Kind: KindUploadExpired, Message: "The upload window has closed. Start a new upload."}
	ErrUploadMimeMismatch = &Error{Kind: KindUploadMimeMismatch, Message: "Uploaded file doesn't match the planned content type."}
	ErrUnknownUpload      = &Error{Kind: KindUnknownUpload, Message: "Unknown upload."}

	ErrMissingRefresh = &Error{Kind: KindMissingRefresh, Message: "No active session."}
	ErrRefreshExpired = &Error{Kind: KindRefreshExpired, Message: "Session expired. Sign in again."}

	ErrRateLimited       = &Error{Kind: KindRateLimited, Message: "Too many attempts. Try again later."}
	ErrInsecureTransport = &Error{Kind: KindInsecureTransport, Message: "transport policy requires an https base URL and enforced secure storage"}
	ErrCryptoUnavailable = &Error{Kind: KindCryptoUnavailable, Message: "authenticated encryption is unavailable"}
	ErrTampered          = &Error{Kind: KindTampered, Message: "stored data failed authentication"}

	ErrInvalidMedia         = &Error{Kind: KindInvalidMedia, Message: "Invalid media input."}
	ErrUnknownMedia         = &Error{Kind: KindUnknownMedia, Message: "Unknown media item."}
	ErrUnknownUnit          = &Error{Kind: KindUnknownUnit, Message: "Unknown media unit."}
	ErrUnknownSelection     = &Error{Kind: KindUnknownSelection, Message: "No media selection for this group."}
	ErrInvalidPostReference = &Error{Kind: KindInvalidPostReference, Message: "Post references a unit outside its media item."}

	ErrUnknownToken      = &Error{Kind: KindUnknownToken, Message: "Unknown rollback token."}
	ErrAlreadyRolledBack = &Error{Kind: KindAlreadyRolledBack, Message: "This change was already rolled back."}
	ErrRollbackExpired   = &Error{Kind: KindRollbackExpired, Message: "The rollback window has closed."}
	ErrStale             = &Error{Kind: KindStale, Message: "Progress has changed since this token was issued."}
)

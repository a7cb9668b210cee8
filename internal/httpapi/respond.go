// Package httpapi exposes the auth and content services over REST/JSON.
// Response shapes are the wire contract: camelCase fields, an error
// envelope carrying the stable error kind, and statuses mapped from kinds
// so clients never parse messages.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nospoilers/backend/internal/apperr"
	"github.com/nospoilers/backend/internal/auth"
	"github.com/nospoilers/backend/internal/ratelimit"
	"github.com/nospoilers/backend/internal/securestore"
)

// errorBody is the envelope for every non-2xx response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// statusFor maps stable error kinds onto HTTP statuses.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidPhone, apperr.KindInvalidEmail, apperr.KindInvalidUsername,
		apperr.KindInvalidAvatar, apperr.KindEmptyDisplayName, apperr.KindInvalidTheme,
		apperr.KindInvalidMedia:
		return http.StatusBadRequest
	case apperr.KindInvalidChallenge, apperr.KindCodeMismatch, apperr.KindInvalidCredentials,
		apperr.KindMissingRefresh, apperr.KindRefreshExpired:
		return http.StatusUnauthorized
	case apperr.KindUnknownUser, apperr.KindUnknownUpload, apperr.KindUnknownMedia,
		apperr.KindUnknownUnit, apperr.KindUnknownSelection, apperr.KindUnknownToken:
		return http.StatusNotFound
	case apperr.KindUsernameTaken, apperr.KindUsernameReserved, apperr.KindStale,
		apperr.KindAlreadyRolledBack, apperr.KindInvalidPostReference:
		return http.StatusConflict
	case apperr.KindExpired, apperr.KindUploadExpired, apperr.KindRollbackExpired:
		return http.StatusGone
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindInsecureTransport, apperr.KindCryptoUnavailable, apperr.KindTampered:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			slog.Warn("response encoding failed", "error", err)
		}
	}
}

// writeError translates a service error into the envelope. Unknown errors
// become an opaque 500 so internals never leak to clients.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Kind:    "internal",
			Message: "Something went wrong.",
		}})
		return
	}

	status := statusFor(appErr.Kind)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(int(ratelimit.BlockDuration.Seconds())))
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Kind:    string(appErr.Kind),
		Message: appErr.Message,
		Field:   appErr.Field,
	}})
}

// decodeJSON fills dst from the request body, refusing unknown fields so
// client typos surface as 400s instead of silently dropped input.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Kind:    "malformed_body",
			Message: "Request body is not valid JSON for this endpoint.",
		}})
		return false
	}
	return true
}

// newLenientDecoder decodes optional request bodies without the unknown
// field check. Used where an empty or partial body is a valid request.
func newLenientDecoder(r *http.Request) *json.Decoder {
	return json.NewDecoder(r.Body)
}

// newRefreshCookie binds the web refresh cookie to this exchange.
func newRefreshCookie(policy auth.TransportPolicy, w http.ResponseWriter, r *http.Request) *securestore.Cookie {
	name := policy.CookieName
	if name == "" {
		name = "nospoilers_refresh"
	}
	return securestore.NewCookie(name, w, r)
}

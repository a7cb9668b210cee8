package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nospoilers/backend/internal/auth"
	"github.com/nospoilers/backend/internal/metrics"
	"github.com/nospoilers/backend/internal/vault"
)

// AuthServerDeps wires the auth router.
type AuthServerDeps struct {
	Service        *auth.Service
	Vault          *vault.Store
	Metrics        *metrics.Metrics
	Registry       *prometheus.Registry
	Logger         *slog.Logger
	AllowedOrigins []string
}

// NewAuthRouter builds the auth service's HTTP surface.
func NewAuthRouter(deps AuthServerDeps) *mux.Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := mux.NewRouter()
	r.Use(recoveryMiddleware(deps.Logger))
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(loggingMiddleware(deps.Logger))
	r.Use(metricsMiddleware(deps.Metrics, "auth"))

	r.HandleFunc("/auth/phone/start", handlePhoneStart(deps.Service)).Methods("POST")
	r.HandleFunc("/auth/phone/verify", handlePhoneVerify(deps.Service)).Methods("POST")
	r.HandleFunc("/auth/oauth/{provider}", handleOAuthLogin(deps.Service)).Methods("POST")
	r.HandleFunc("/auth/email", handleEmailLogin(deps.Service)).Methods("POST")

	r.HandleFunc("/auth/usernames/availability", handleUsernameAvailability(deps.Service)).Methods("GET")
	r.HandleFunc("/auth/users/{id}/username-reservation", handleReserveUsername(deps.Service)).Methods("POST")
	r.HandleFunc("/auth/users/{id}/profile", handleUpdateProfile(deps.Service)).Methods("PATCH")
	r.HandleFunc("/auth/users/{id}", handleGetUser(deps.Service)).Methods("GET")

	r.HandleFunc("/auth/users/{id}/avatar-upload-plan", handleAvatarPlan(deps.Service)).Methods("POST")
	r.HandleFunc("/auth/users/{id}/avatar-upload-plan/{uploadId}/finalize", handleAvatarFinalize(deps.Service)).Methods("POST")

	r.HandleFunc("/auth/session/refresh", handleSessionRefresh(deps.Service)).Methods("POST")
	r.HandleFunc("/auth/logout", handleLogout(deps.Service)).Methods("POST")

	r.HandleFunc("/health", handleHealth("nospoilers-auth", deps.Vault)).Methods("GET")
	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	// Preflights must match a route for the middleware chain to run; the
	// CORS middleware answers them before this handler is reached.
	r.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return r
}

// handleHealth reports process liveness and vault connectivity.
func handleHealth(service string, store *vault.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vaultStatus := "connected"
		if store == nil {
			vaultStatus = "absent"
		} else if err := store.Ping(r.Context()); err != nil {
			vaultStatus = "error"
		}

		status := http.StatusOK
		if vaultStatus == "error" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{
			"status":  "healthy",
			"service": service,
			"vault":   vaultStatus,
		})
	}
}

// ============================================================================
// Login surfaces
// ============================================================================

func handlePhoneStart(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Phone string `json:"phone"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		challenge, err := svc.StartPhoneLogin(r.Context(), req.Phone)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, challenge)
	}
}

func handlePhoneVerify(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ChallengeID string `json:"challengeId"`
			Code        string `json:"code"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		result, err := svc.VerifyPhoneCode(r.Context(), req.ChallengeID, req.Code)
		if err != nil {
			writeError(w, err)
			return
		}
		writeLoginResult(w, r, svc, result)
	}
}

func handleOAuthLogin(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := auth.Provider(mux.Vars(r)["provider"])
		var req struct {
			Subject   string `json:"subject"`
			EmailHint string `json:"emailHint,omitempty"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		result, err := svc.LoginWithOAuth(r.Context(), provider, req.Subject, req.EmailHint)
		if err != nil {
			writeError(w, err)
			return
		}
		writeLoginResult(w, r, svc, result)
	}
}

func handleEmailLogin(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		result, err := svc.LoginWithEmailPassword(r.Context(), req.Email, req.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		writeLoginResult(w, r, svc, result)
	}
}

// writeLoginResult applies the platform's refresh-token placement: the web
// platform gets an HttpOnly cookie and no token in the body, native
// platforms carry it in the body for their secure storage.
func writeLoginResult(w http.ResponseWriter, r *http.Request, svc *auth.Service, result *auth.ProviderLoginResult) {
	placeRefreshToken(w, r, svc, &result.Session)
	writeJSON(w, http.StatusOK, result)
}

func placeRefreshToken(w http.ResponseWriter, r *http.Request, svc *auth.Service, session *auth.SessionPair) {
	policy := svc.Transport()
	if policy.Platform != "web" || session.RefreshToken == "" {
		return
	}
	cookie := newRefreshCookie(policy, w, r)
	if err := cookie.Set(r.Context(), session.RefreshToken); err == nil {
		session.RefreshToken = ""
	}
}

// ============================================================================
// Session lifecycle
// ============================================================================

func handleSessionRefresh(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presented := presentedRefreshToken(w, r, svc)

		session, err := svc.RefreshSession(r.Context(), presented)
		if err != nil {
			writeError(w, err)
			return
		}
		placeRefreshToken(w, r, svc, session)
		writeJSON(w, http.StatusOK, session)
	}
}

func handleLogout(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presented := presentedRefreshToken(w, r, svc)

		if err := svc.Logout(r.Context(), presented); err != nil {
			writeError(w, err)
			return
		}
		if policy := svc.Transport(); policy.Platform == "web" {
			newRefreshCookie(policy, w, r).Clear(r.Context())
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// presentedRefreshToken resolves the refresh token a request carries: an
// explicit body field first, then the web cookie. An empty result lets the
// service fall back to its own slot.
func presentedRefreshToken(w http.ResponseWriter, r *http.Request, svc *auth.Service) string {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	// The body is optional on these routes; decode failures just mean an
	// empty body.
	if r.Body != nil && r.ContentLength != 0 {
		dec := newLenientDecoder(r)
		_ = dec.Decode(&req)
	}
	if req.RefreshToken != "" {
		return req.RefreshToken
	}

	policy := svc.Transport()
	if policy.Platform == "web" {
		if token, err := newRefreshCookie(policy, w, r).Get(r.Context()); err == nil {
			return token
		}
	}
	return ""
}

// ============================================================================
// Profile and identity
// ============================================================================

func handleGetUser(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := svc.GetUser(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func handleUsernameAvailability(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		availability, err := svc.CheckUsernameAvailability(r.Context(), r.URL.Query().Get("username"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, availability)
	}
}

func handleReserveUsername(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		reservation, err := svc.ReserveUsername(r.Context(), req.Username, mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reservation)
	}
}

func handleUpdateProfile(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var update auth.ProfileUpdate
		if !decodeJSON(w, r, &update) {
			return
		}

		user, err := svc.UpdateProfile(r.Context(), mux.Vars(r)["id"], update)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

// ============================================================================
// Avatar uploads
// ============================================================================

func handleAvatarPlan(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.AvatarUploadRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		plan, err := svc.CreateAvatarUploadPlan(r.Context(), mux.Vars(r)["id"], req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, plan)
	}
}

func handleAvatarFinalize(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var meta auth.AvatarUploadMeta
		if !decodeJSON(w, r, &meta) {
			return
		}

		vars := mux.Vars(r)
		user, err := svc.FinalizeAvatarUpload(r.Context(), vars["id"], vars["uploadId"], meta)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

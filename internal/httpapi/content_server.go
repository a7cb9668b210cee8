package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nospoilers/backend/internal/content"
	"github.com/nospoilers/backend/internal/metrics"
	"github.com/nospoilers/backend/internal/realtime"
	"github.com/nospoilers/backend/internal/vault"
)

// ContentServerDeps wires the content router.
type ContentServerDeps struct {
	Service        *content.Service
	Hub            *realtime.Hub
	Vault          *vault.Store
	Metrics        *metrics.Metrics
	Registry       *prometheus.Registry
	Logger         *slog.Logger
	AllowedOrigins []string
}

// NewContentRouter builds the content service's HTTP surface.
func NewContentRouter(deps ContentServerDeps) *mux.Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := mux.NewRouter()
	r.Use(recoveryMiddleware(deps.Logger))
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(loggingMiddleware(deps.Logger))
	r.Use(metricsMiddleware(deps.Metrics, "content"))

	r.HandleFunc("/content/media", handleCreateMediaItem(deps.Service)).Methods("POST")
	r.HandleFunc("/content/media", handleListMediaItems(deps.Service)).Methods("GET")
	r.HandleFunc("/content/media/{id}", handleGetMediaItem(deps.Service)).Methods("GET")
	r.HandleFunc("/content/media/{id}/units", handleCreateMediaUnit(deps.Service)).Methods("POST")
	r.HandleFunc("/content/media/{id}/units", handleListMediaUnits(deps.Service)).Methods("GET")

	r.HandleFunc("/content/groups/{groupId}/selection", handleSelectGroupMedia(deps.Service)).Methods("POST")
	r.HandleFunc("/content/groups/{groupId}/selection", handleGetActiveSelection(deps.Service)).Methods("GET")
	r.HandleFunc("/content/groups/{groupId}/selections", handleListSelections(deps.Service)).Methods("GET")

	r.HandleFunc("/content/posts", handleCreatePost(deps.Service)).Methods("POST")
	r.HandleFunc("/content/feed", handleGetFeed(deps.Service)).Methods("GET")

	r.HandleFunc("/content/progress/mark", handleMarkAsRead(deps.Service)).Methods("POST")
	r.HandleFunc("/content/progress/rollback", handleRollbackProgress(deps.Service)).Methods("POST")
	r.HandleFunc("/content/progress", handleGetProgress(deps.Service)).Methods("GET")
	r.HandleFunc("/content/progress/audit", handleGetAuditTrail(deps.Service)).Methods("GET")

	if deps.Hub != nil {
		r.HandleFunc("/content/groups/{groupId}/stream", deps.Hub.HandleStream(deps.AllowedOrigins)).Methods("GET")
	}

	r.HandleFunc("/health", handleHealth("nospoilers-content", deps.Vault)).Methods("GET")
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

// ============================================================================
// Catalog
// ============================================================================

func handleCreateMediaItem(svc *content.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input content.CreateMediaItemInput
		if !decodeJSON(w, r, &input) {
			return
		}

		item, err := svc.CreateMediaItem(r.Context(), input)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	}
}

func handleListMediaItems(svc *content.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.ListMediaItems(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
	}
}

func handleGetMediaItem(svc *content.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := svc.GetMediaItem(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func handleCreateMediaUnit(svc *content.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input content.CreateMediaUnitInput
		if !decodeJSON(w, r, &input) {
			return
		}
		input.MediaItemID = mux.Vars(r)["id"]

		unit, err := svc.CreateMediaUnit(r.Context(), input)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, unit)
	}
}

func handleListMediaUnits(svc *content.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		units, err := svc.ListMediaUnits(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"units": units})
	}
}

// ============================================================================
// Group selection
// ============================================================================

func handleSelectGroupMedia(svc *content.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input content.SelectGroupMediaInput
		if !decodeJSON(w, r, &input) {
			return
		}
		input.GroupID = mux.Vars(r)["groupId"]

		selection, err := svc.SelectGroupMedia(r.Context(), input)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, selection)
	}
}

func handleGetActiveSelection(svc *content.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		selection, err := svc.GetActiveSelection(r.Context(), mux.Vars(r)["groupId"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, selection)
	}
}

func handleListSelections(svc *content.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		selections, err := svc.ListSelections(r.Context(), mux.Vars(r)["groupId"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"selections": selections})
	}
}

// ============================================================================
// Posts and feed
// ============================================================================

func handleCreatePost(svc *content.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input content.CreatePostInput
		if !decodeJSON(w, r, &input) {
			return
		}

		post, err := svc.CreatePost(r.Context(), input)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, post)
	}
}

func handleGetFeed(svc *content.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		feed, err := svc.GetFeedForUser(r.Context(), q.Get("user"), q.Get("group"), q.Get("media"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, feed)
	}
}

// ============================================================================
// Progress
// ============================================================================

func handleMarkAsRead(svc *content.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input content.MarkAsReadInput
		if !decodeJSON(w, r, &input) {
			return
		}

		result, err := svc.MarkAsRead(r.Context(), input)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleRollbackProgress(svc *content.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input content.RollbackInput
		if !decodeJSON(w, r, &input) {
			return
		}

		result, err := svc.RollbackProgress(r.Context(), input)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleGetProgress(svc *content.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		progress, err := svc.GetProgress(r.Context(), q.Get("user"), q.Get("group"), q.Get("media"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, progress)
	}
}

func handleGetAuditTrail(svc *content.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		trail, err := svc.GetProgressAuditTrail(r.Context(), q.Get("user"), q.Get("group"), q.Get("media"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": trail})
	}
}

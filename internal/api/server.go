// Package api exposes the read API and the admin surface over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/civicgraph/repsync/internal/config"
	"github.com/civicgraph/repsync/internal/merge"
	"github.com/civicgraph/repsync/internal/store"
)

// Server holds the handler dependencies.
type Server struct {
	store    store.Store
	resolver *merge.Resolver
	cfg      config.ServerConfig
}

// NewServer creates a Server.
func NewServer(st store.Store, resolver *merge.Resolver, cfg config.ServerConfig) *Server {
	return &Server{store: st, resolver: resolver, cfg: cfg}
}

// Router builds the chi router: the public read API plus a token-guarded
// admin group.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/representatives", s.handleListRepresentatives)
	r.Get("/representatives/{id}", s.handleGetRepresentative)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/representatives/{id}/provenance", s.handleProvenance)
		r.Get("/admin/sources", s.handleSources)
		r.Get("/admin/reviews", s.handleListReviews)
		r.Post("/admin/reviews/{id}/resolve", s.handleResolveReview)
		r.Post("/admin/revert", s.handleRevert)
	})

	return r
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.AllowedOrigins) > 0 {
		return s.cfg.AllowedOrigins
	}
	return []string{"*"}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// requireAdmin guards the admin group with a bearer token. With no token
// configured the admin surface is disabled outright.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			writeErr(w, http.StatusForbidden, "admin surface disabled")
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.cfg.AdminToken {
			writeErr(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRepresentatives(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CanonicalFilter{
		State:  q.Get("state"),
		Office: q.Get("office"),
		Limit:  100,
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid active filter")
			return
		}
		filter.Active = &active
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErr(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	records, err := s.store.ListCanonical(r.Context(), filter)
	if err != nil {
		zap.L().Error("list representatives failed", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]any, 0, len(records))
	for i := range records {
		out = append(out, records[i].Public())
	}
	writeJSON(w, http.StatusOK, map[string]any{"representatives": out})
}

func (s *Server) handleGetRepresentative(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetCanonical(r.Context(), id)
	if err != nil {
		zap.L().Error("get representative failed", zap.String("id", id), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec == nil {
		writeErr(w, http.StatusNotFound, "representative not found")
		return
	}
	writeJSON(w, http.StatusOK, rec.Public())
}

func (s *Server) handleProvenance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetCanonical(r.Context(), id)
	if err != nil {
		zap.L().Error("get provenance failed", zap.String("id", id), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec == nil {
		writeErr(w, http.StatusNotFound, "representative not found")
		return
	}

	entries, err := s.store.ListProvenance(r.Context(), id)
	if err != nil {
		zap.L().Error("list provenance failed", zap.String("id", id), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	crosswalk, err := s.store.CrosswalkEntries(r.Context(), id)
	if err != nil {
		zap.L().Error("list crosswalk failed", zap.String("id", id), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"canonical_id": id,
		"record":       rec,
		"provenance":   entries,
		"crosswalk":    crosswalk,
	})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.store.SourceStatuses(r.Context())
	if err != nil {
		zap.L().Error("source statuses failed", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	pending, err := s.store.PendingReviewCount(r.Context())
	if err != nil {
		zap.L().Error("pending review count failed", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sources":         statuses,
		"pending_reviews": pending,
	})
}

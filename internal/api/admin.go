package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicgraph/repsync/internal/merge"
	"github.com/civicgraph/repsync/internal/model"
	"github.com/civicgraph/repsync/internal/resilience"
)

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	status := model.ReviewPending
	if v := r.URL.Query().Get("status"); v != "" {
		status = model.ReviewStatus(v)
	}
	items, err := s.store.ListReviews(r.Context(), status, 100)
	if err != nil {
		zap.L().Error("list reviews failed", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": items})
}

// handleResolveReview assigns a queued record to the given canonical record,
// or mints a new one when canonical_id is omitted. The merge is recorded as a
// manual override so later automated runs cannot silently undo it.
func (s *Server) handleResolveReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		CanonicalID string `json:"canonical_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := s.store.GetReview(r.Context(), id)
	if err != nil {
		zap.L().Error("get review failed", zap.String("id", id), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	if item == nil {
		writeErr(w, http.StatusNotFound, "review item not found")
		return
	}
	if item.Status != model.ReviewPending {
		writeErr(w, http.StatusConflict, "review item already resolved")
		return
	}

	canonicalID := req.CanonicalID
	if canonicalID == "" {
		canonicalID = uuid.New().String()
	}

	existing, err := s.store.GetCanonical(r.Context(), canonicalID)
	if err != nil {
		zap.L().Error("get canonical failed", zap.String("id", canonicalID), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	if req.CanonicalID != "" && existing == nil {
		writeErr(w, http.StatusNotFound, "canonical record not found")
		return
	}

	corroboration := make(map[string]int, len(item.Record.RawFields))
	for name := range item.Record.RawFields {
		corroboration[name] = 1
	}

	mut, err := s.resolver.Resolve(merge.Input{
		Existing:        existing,
		CanonicalID:     canonicalID,
		Record:          &item.Record,
		MatchConfidence: 1.0,
		MatchMethod:     model.MatchManualOverride,
		Corroboration:   corroboration,
		RunID:           "manual-review",
		Now:             time.Now().UTC(),
	})
	if err != nil {
		zap.L().Error("resolve review merge failed", zap.String("id", id), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.store.ApplyMerge(r.Context(), mut); err != nil {
		if resilience.IsConflict(err) {
			writeErr(w, http.StatusConflict, "record changed concurrently, retry")
			return
		}
		zap.L().Error("apply review merge failed", zap.String("id", id), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.store.ResolveReview(r.Context(), id, canonicalID); err != nil {
		zap.L().Error("mark review resolved failed", zap.String("id", id), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}

	zap.L().Info("review resolved",
		zap.String("review_id", id),
		zap.String("canonical_id", canonicalID),
		zap.Bool("minted", req.CanonicalID == ""),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"review_id":    id,
		"canonical_id": canonicalID,
	})
}

// handleRevert restores a field to the value a given provenance entry
// recorded. The revert itself is appended as a manual-override provenance
// entry, never erased history.
func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CanonicalID  string `json:"canonical_id"`
		ProvenanceID int64  `json:"provenance_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CanonicalID == "" || req.ProvenanceID == 0 {
		writeErr(w, http.StatusBadRequest, "canonical_id and provenance_id are required")
		return
	}

	target, err := s.store.GetProvenance(r.Context(), req.ProvenanceID)
	if err != nil {
		zap.L().Error("get provenance failed", zap.Int64("id", req.ProvenanceID), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	if target == nil {
		writeErr(w, http.StatusNotFound, "provenance entry not found")
		return
	}

	existing, err := s.store.GetCanonical(r.Context(), req.CanonicalID)
	if err != nil {
		zap.L().Error("get canonical failed", zap.String("id", req.CanonicalID), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing == nil {
		writeErr(w, http.StatusNotFound, "representative not found")
		return
	}

	mut, err := s.resolver.Revert(existing, *target, time.Now().UTC())
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if !mut.Changed() {
		writeJSON(w, http.StatusOK, map[string]string{
			"canonical_id": req.CanonicalID,
			"status":       "no-op",
		})
		return
	}

	if err := s.store.ApplyMerge(r.Context(), mut); err != nil {
		if resilience.IsConflict(err) {
			writeErr(w, http.StatusConflict, "record changed concurrently, retry")
			return
		}
		zap.L().Error("apply revert failed", zap.String("id", req.CanonicalID), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}

	zap.L().Info("field reverted",
		zap.String("canonical_id", req.CanonicalID),
		zap.String("field", target.FieldName),
		zap.Int64("provenance_id", req.ProvenanceID),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"canonical_id": req.CanonicalID,
		"field":        target.FieldName,
		"status":       "reverted",
	})
}

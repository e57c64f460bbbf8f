// Package handler contains HTTP handlers for the Dr-phyllis API.
//
// This file implements the grading handlers.
//
// Routes handled:
//   - POST /grade         -> Grade
//   - GET  /gradings      -> ListGradings
//   - GET  /gradings/{id} -> GetGrading
//   - GET  /universities  -> ListUniversities (public)
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/DukeRupert/drphyllis/internal/auth"
	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/DukeRupert/drphyllis/internal/service"
	"github.com/google/uuid"
)

// GradingHandler handles essay grading and history requests.
type GradingHandler struct {
	grading service.GradingService
	logger  *slog.Logger
}

// NewGradingHandler creates a new GradingHandler.
func NewGradingHandler(grading service.GradingService, logger *slog.Logger) *GradingHandler {
	return &GradingHandler{
		grading: grading,
		logger:  logger,
	}
}

// RegisterRoutes registers grading routes on the provided mux.
// rateLimit is applied to POST /grade only, inside the identity check so
// limits are keyed by student.
func (h *GradingHandler) RegisterRoutes(mux *http.ServeMux, requireIdentity, rateLimit func(http.Handler) http.Handler) {
	mux.Handle("POST /grade", requireIdentity(rateLimit(http.HandlerFunc(h.Grade))))
	mux.Handle("GET /gradings", requireIdentity(http.HandlerFunc(h.ListGradings)))
	mux.Handle("GET /gradings/{id}", requireIdentity(http.HandlerFunc(h.GetGrading)))
	mux.HandleFunc("GET /universities", h.ListUniversities)
}

// Grade runs evaluate, grade and commit for one answer.
func (h *GradingHandler) Grade(w http.ResponseWriter, r *http.Request) {
	var req domain.GradeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestResponse(w, r, h.logger, err.Error())
		return
	}

	resp, err := h.grading.Grade(r.Context(), auth.EmailFromRequest(r), req)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// gradingItem is the list view of a stored grading.
type gradingItem struct {
	ID         uuid.UUID       `json:"id"`
	University string          `json:"university"`
	QuestionID string          `json:"questionId"`
	Score      float64         `json:"score"`
	Scale      int             `json:"scale"`
	Bucket     domain.Bucket   `json:"bucket"`
	Model      string          `json:"model"`
	Result     json.RawMessage `json:"result,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// ListGradings returns the caller's recent gradings. The optional limit
// query parameter is clamped by the service.
func (h *GradingHandler) ListGradings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			BadRequestResponse(w, r, h.logger, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := h.grading.History(r.Context(), auth.EmailFromRequest(r), limit)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	items := make([]gradingItem, 0, len(records))
	for _, rec := range records {
		items = append(items, toGradingItem(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"gradings": items})
}

// gradingDetail adds the archived document, when there is one.
type gradingDetail struct {
	gradingItem
	Archive *service.ArchiveDocument `json:"archive,omitempty"`
}

// GetGrading returns one of the caller's gradings with its archived answer
// and model output.
func (h *GradingHandler) GetGrading(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequestResponse(w, r, h.logger, "id must be a UUID")
		return
	}

	detail, err := h.grading.Grading(r.Context(), auth.EmailFromRequest(r), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, gradingDetail{
		gradingItem: toGradingItem(detail.Record),
		Archive:     detail.Document,
	})
}

func toGradingItem(rec domain.GradingRecord) gradingItem {
	return gradingItem{
		ID:         rec.ID,
		University: rec.University,
		QuestionID: rec.QuestionID,
		Score:      rec.Score,
		Scale:      rec.Scale,
		Bucket:     rec.Bucket,
		Model:      rec.Model,
		Result:     rec.Result,
		CreatedAt:  rec.CreatedAt,
	}
}

// ListUniversities returns the rubric catalog. It is public.
func (h *GradingHandler) ListUniversities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"universities": h.grading.Universities()})
}

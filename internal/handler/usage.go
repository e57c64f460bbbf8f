// Package handler contains HTTP handlers for the Dr-phyllis API.
//
// This file implements the usage handler.
//
// Route:
//   - GET /usage -> GetUsage
package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/drphyllis/internal/auth"
	"github.com/DukeRupert/drphyllis/internal/service"
)

// UsageHandler serves the caller's entitlement record.
type UsageHandler struct {
	entitlements service.EntitlementService
	logger       *slog.Logger
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(entitlements service.EntitlementService, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{
		entitlements: entitlements,
		logger:       logger,
	}
}

// RegisterRoutes registers usage routes on the provided mux.
func (h *UsageHandler) RegisterRoutes(mux *http.ServeMux, requireIdentity func(http.Handler) http.Handler) {
	mux.Handle("GET /usage", requireIdentity(http.HandlerFunc(h.GetUsage)))
}

// GetUsage returns the reconciled record, creating the default one on
// first contact.
func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.entitlements.GetUsage(r.Context(), auth.EmailFromRequest(r))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

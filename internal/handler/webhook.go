// Package handler contains HTTP handlers for the Dr-phyllis API.
//
// This file implements the Stripe webhook handler.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no identity middleware) because Stripe calls it
// directly. Authentication is via the Stripe webhook signature.
package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/drphyllis/internal/service"
)

// maxWebhookBytes bounds a Stripe event payload.
const maxWebhookBytes = 65536

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	payments service.PaymentService
	logger   *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(payments service.PaymentService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		payments: payments,
		logger:   logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// Nothing is registered when card checkout is not configured.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	if !h.payments.CheckoutEnabled() {
		return
	}
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook verifies and applies one Stripe event. A non-2xx
// response makes Stripe redeliver, which the order-id guard absorbs.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		BadRequestResponse(w, r, h.logger, "could not read body")
		return
	}

	if err := h.payments.HandleStripeWebhook(r.Context(), body, r.Header.Get("Stripe-Signature")); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

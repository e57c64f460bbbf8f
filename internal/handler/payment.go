// Package handler contains HTTP handlers for the Dr-phyllis API.
//
// This file implements the ticket purchase handlers.
//
// Routes handled:
//   - POST /payment/order     -> CreateOrder
//   - POST /payment/confirm   -> Confirm
//   - POST /payment/checkout  -> CreateCheckout
package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/drphyllis/internal/auth"
	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/DukeRupert/drphyllis/internal/payment"
	"github.com/DukeRupert/drphyllis/internal/service"
)

// PaymentHandler handles ticket purchases.
type PaymentHandler struct {
	payments service.PaymentService
	logger   *slog.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(payments service.PaymentService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		logger:   logger,
	}
}

// RegisterRoutes registers payment routes on the provided mux.
// The checkout route is only registered when card checkout is configured.
func (h *PaymentHandler) RegisterRoutes(mux *http.ServeMux, requireIdentity func(http.Handler) http.Handler) {
	mux.Handle("POST /payment/order", requireIdentity(http.HandlerFunc(h.CreateOrder)))
	mux.Handle("POST /payment/confirm", requireIdentity(http.HandlerFunc(h.Confirm)))
	if h.payments.CheckoutEnabled() {
		mux.Handle("POST /payment/checkout", requireIdentity(http.HandlerFunc(h.CreateCheckout)))
	}
}

// confirmResponse is the body of a successful confirmation.
type confirmResponse struct {
	OK              bool          `json:"ok"`
	Plan            domain.Plan   `json:"plan"`
	Quantity        int           `json:"quantity"`
	OrderID         string        `json:"orderId"`
	AlreadyCredited bool          `json:"alreadyCredited"`
	Usage           *domain.Usage `json:"usage"`
}

// Confirm captures a gateway payment and credits its pack. Replays of the
// same orderId succeed with alreadyCredited set.
func (h *PaymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req payment.ConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestResponse(w, r, h.logger, "INVALID_PARAMS: "+err.Error())
		return
	}

	res, err := h.payments.Confirm(r.Context(), auth.EmailFromRequest(r), req)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, confirmResponse{
		OK:              true,
		Plan:            res.Grant.Plan,
		Quantity:        res.Grant.Quantity,
		OrderID:         res.Grant.OrderID,
		AlreadyCredited: res.Grant.AlreadyCredited,
		Usage:           res.Usage,
	})
}

type planRequest struct {
	Plan domain.Plan `json:"plan"`
}

func (p planRequest) normalized() domain.Plan {
	return domain.Plan(strings.ToLower(strings.TrimSpace(string(p.Plan))))
}

// CreateOrder returns a tagged order id for the payment widget.
func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestResponse(w, r, h.logger, err.Error())
		return
	}

	order, err := h.payments.CreateOrder(r.Context(), auth.EmailFromRequest(r), req.normalized())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CreateCheckout starts a Stripe Checkout session and returns its URL.
func (h *PaymentHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestResponse(w, r, h.logger, err.Error())
		return
	}

	sess, err := h.payments.CreateCheckout(r.Context(), auth.EmailFromRequest(r), req.normalized())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":  sess.ID,
		"url": sess.URL,
	})
}

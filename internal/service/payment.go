// Package service contains the business logic layer.
//
// This file implements the payment service: confirming a gateway payment and
// turning it into tickets, plus the Stripe Checkout rail.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/drphyllis/internal/billing"
	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/DukeRupert/drphyllis/internal/metrics"
	"github.com/DukeRupert/drphyllis/internal/payment"
)

// =============================================================================
// Interface Definition
// =============================================================================

// PaymentService defines operations for buying ticket packs.
type PaymentService interface {
	// Confirm captures a payment with the gateway and credits its pack. A
	// replayed order id returns the original grant without calling the
	// gateway again.
	Confirm(ctx context.Context, email string, req payment.ConfirmRequest) (*ConfirmResult, error)

	// CreateOrder mints an order id tagged with plan, with the amount and
	// name the payment widget charges.
	CreateOrder(ctx context.Context, email string, plan domain.Plan) (*domain.Order, error)

	// CheckoutEnabled reports whether the Stripe rail is configured.
	CheckoutEnabled() bool

	// CreateCheckout starts a Stripe Checkout session for one pack.
	CreateCheckout(ctx context.Context, email string, plan domain.Plan) (*billing.CheckoutSession, error)

	// HandleStripeWebhook verifies a webhook delivery and credits completed
	// sessions. Deliveries for other events are ignored.
	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error
}

// ConfirmResult is what a confirmed payment credited, with the usage after it.
type ConfirmResult struct {
	Grant *domain.GrantResult
	Usage *domain.Usage
}

// PaymentConfig configures the payment service.
type PaymentConfig struct {
	Provider domain.PaymentProvider // rail behind the gateway
	BaseURL  string                 // used for Checkout return URLs
}

// =============================================================================
// Implementation
// =============================================================================

type paymentService struct {
	entitlements EntitlementService
	gateway      payment.Gateway
	billing      billing.Service // nil when Stripe is not configured
	config       PaymentConfig
	logger       *slog.Logger
	now          func() time.Time
}

// NewPaymentService creates a new PaymentService. billingSvc may be nil.
func NewPaymentService(
	entitlements EntitlementService,
	gateway payment.Gateway,
	billingSvc billing.Service,
	config PaymentConfig,
	logger *slog.Logger,
) PaymentService {
	return &paymentService{
		entitlements: entitlements,
		gateway:      gateway,
		billing:      billingSvc,
		config:       config,
		logger:       logger,
		now:          time.Now,
	}
}

// Confirm captures a payment and credits its pack.
func (s *paymentService) Confirm(ctx context.Context, email string, req payment.ConfirmRequest) (*ConfirmResult, error) {
	const op = "payment.confirm"

	req.PaymentKey = strings.TrimSpace(req.PaymentKey)
	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.PaymentKey == "" || req.OrderID == "" || req.Amount <= 0 {
		return nil, domain.Invalid(op, "INVALID_PARAMS: paymentKey, orderId and amount are required")
	}

	// Unknown amounts never reach the gateway.
	if _, err := domain.ResolvePlan(req.Amount, req.OrderID); err != nil {
		metrics.PaymentConfirmed(string(s.config.Provider), metrics.OutcomeRejected)
		return nil, err
	}

	grant, found, err := s.entitlements.LookupGrant(ctx, email, req.OrderID)
	if err != nil {
		return nil, err
	}
	if found {
		metrics.PaymentConfirmed(string(s.config.Provider), metrics.OutcomeReplayed)
		return s.result(grant), nil
	}

	conf, err := s.gateway.Confirm(ctx, req)
	if err != nil {
		var gerr *payment.GatewayError
		if errors.As(err, &gerr) {
			metrics.PaymentConfirmed(string(s.config.Provider), metrics.OutcomeRejected)
			s.logger.Warn("Payment rejected by gateway",
				"order_id", req.OrderID,
				"code", gerr.Code,
				"status", gerr.StatusCode,
			)
			return nil, domain.Invalid(op, gerr.Error())
		}
		metrics.PaymentConfirmed(string(s.config.Provider), metrics.OutcomeFailed)
		s.logger.Error("Payment gateway failed", "order_id", req.OrderID, "error", err)
		return nil, domain.Upstream(err, op, "The payment gateway is unavailable. Please retry.")
	}

	if conf.TotalAmount != req.Amount || (conf.OrderID != "" && conf.OrderID != req.OrderID) {
		metrics.PaymentConfirmed(string(s.config.Provider), metrics.OutcomeFailed)
		s.logger.Error("Gateway confirmation does not match request",
			"order_id", req.OrderID,
			"confirmed_order_id", conf.OrderID,
			"amount", req.Amount,
			"confirmed_amount", conf.TotalAmount,
		)
		return nil, domain.Internal(nil, op, "payment gateway confirmed a different order")
	}

	grant, err = s.entitlements.Grant(ctx, GrantParams{
		Email:      email,
		Amount:     req.Amount,
		OrderID:    req.OrderID,
		PaymentKey: req.PaymentKey,
		Provider:   s.config.Provider,
	})
	if err != nil {
		metrics.PaymentConfirmed(string(s.config.Provider), metrics.OutcomeFailed)
		return nil, err
	}

	outcome := metrics.OutcomeCredited
	if grant.AlreadyCredited {
		outcome = metrics.OutcomeReplayed
	}
	metrics.PaymentConfirmed(string(s.config.Provider), outcome)
	return s.result(grant), nil
}

// CreateOrder mints a tagged order id for one pack.
func (s *paymentService) CreateOrder(ctx context.Context, email string, plan domain.Plan) (*domain.Order, error) {
	const op = "payment.create_order"

	price, ok := domain.PriceForPlan(plan)
	if !ok {
		return nil, domain.Invalid(op, "unknown plan")
	}

	order := &domain.Order{
		OrderID:   domain.NewOrderID(price.Plan, s.now()),
		Plan:      price.Plan,
		Amount:    price.Amount,
		OrderName: price.DisplayName,
	}
	s.logger.Info("Order created", "email", domain.NormalizeEmail(email), "plan", plan, "order_id", order.OrderID)
	return order, nil
}

func (s *paymentService) CheckoutEnabled() bool {
	return s.billing != nil
}

// CreateCheckout starts a Stripe Checkout session for one pack.
func (s *paymentService) CreateCheckout(ctx context.Context, email string, plan domain.Plan) (*billing.CheckoutSession, error) {
	const op = "payment.create_checkout"

	if s.billing == nil {
		return nil, domain.Errorf(domain.ENOTFOUND, op, "card checkout is not enabled")
	}
	email = domain.NormalizeEmail(email)
	price, ok := domain.PriceForPlan(plan)
	if !ok {
		return nil, domain.Invalid(op, "unknown plan")
	}

	base := strings.TrimRight(s.config.BaseURL, "/")
	sess, err := s.billing.CreateCheckoutSession(billing.CheckoutParams{
		Email:      email,
		Price:      price,
		SuccessURL: base + "/payment/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  base + "/payment/cancel",
	})
	if err != nil {
		s.logger.Error("Failed to create checkout session", "email", email, "plan", plan, "error", err)
		return nil, domain.Upstream(err, op, "Could not start card checkout. Please retry.")
	}

	s.logger.Info("Checkout session created", "email", email, "plan", plan, "session_id", sess.ID)
	return sess, nil
}

// HandleStripeWebhook verifies a delivery and credits completed sessions.
func (s *paymentService) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error {
	const op = "payment.stripe_webhook"

	if s.billing == nil {
		return domain.Errorf(domain.ENOTFOUND, op, "card checkout is not enabled")
	}

	event, err := s.billing.VerifyWebhookSignature(payload, signature)
	if err != nil {
		s.logger.Warn("Rejected Stripe webhook", "error", err)
		return domain.Invalid(op, "invalid webhook signature")
	}

	checkout, ok, err := billing.CompletedCheckoutFromEvent(event)
	if err != nil {
		s.logger.Error("Malformed checkout session", "event_id", event.ID, "error", err)
		return domain.Invalid(op, "malformed checkout session")
	}
	if !ok {
		s.logger.Debug("Ignoring Stripe event", "event_id", event.ID, "type", event.Type)
		return nil
	}

	price, found := domain.PriceForAmount(checkout.Amount)
	if !found || (checkout.Plan != "" && checkout.Plan != price.Plan) {
		metrics.PaymentConfirmed(string(domain.ProviderStripe), metrics.OutcomeRejected)
		s.logger.Error("Checkout amount matches no plan",
			"session_id", checkout.SessionID,
			"amount", checkout.Amount,
			"plan", checkout.Plan,
		)
		// Redelivery cannot change the amount, so the event is acknowledged.
		return nil
	}

	grant, err := s.entitlements.Grant(ctx, GrantParams{
		Email:      checkout.Email,
		Amount:     checkout.Amount,
		OrderID:    checkout.OrderID,
		PaymentKey: checkout.SessionID,
		Provider:   domain.ProviderStripe,
	})
	if err != nil {
		if domain.ErrorCode(err) == domain.EINVALID {
			metrics.PaymentConfirmed(string(domain.ProviderStripe), metrics.OutcomeRejected)
			s.logger.Error("Checkout session cannot be credited",
				"session_id", checkout.SessionID,
				"order_id", checkout.OrderID,
				"error", err,
			)
			return nil
		}
		metrics.PaymentConfirmed(string(domain.ProviderStripe), metrics.OutcomeFailed)
		return err
	}

	outcome := metrics.OutcomeCredited
	if grant.AlreadyCredited {
		outcome = metrics.OutcomeReplayed
	}
	metrics.PaymentConfirmed(string(domain.ProviderStripe), outcome)
	return nil
}

func (s *paymentService) result(grant *domain.GrantResult) *ConfirmResult {
	return &ConfirmResult{
		Grant: grant,
		Usage: domain.UsageOf(grant.Entitlement, s.entitlements.Policy().FreeLimit),
	}
}

// Package service contains the business logic layer.
//
// This file implements the entitlement service: lazy creation of usage
// records, window reconciliation on every read, the guarded commit of one
// grading, and idempotent ticket grants.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/DukeRupert/drphyllis/internal/metrics"
	"github.com/DukeRupert/drphyllis/internal/store"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EntitlementService defines operations on a user's usage record.
type EntitlementService interface {
	// Policy returns the quota policy in force.
	Policy() domain.QuotaPolicy

	// GetUsage returns the reconciled usage for email, creating the default
	// record on first contact.
	GetUsage(ctx context.Context, email string) (*domain.Usage, error)

	// Evaluate ensures and reconciles the record, then decides which bucket
	// would fund the next grading. It does not write a debit.
	Evaluate(ctx context.Context, email string) (*domain.Entitlement, domain.Decision, error)

	// Commit debits one unit from bucket. Returns a QuotaExhausted error when
	// a concurrent request drained the bucket first.
	Commit(ctx context.Context, email string, bucket domain.Bucket) (*domain.Entitlement, error)

	// Grant credits the pack bought for amount, at most once per order id.
	Grant(ctx context.Context, params GrantParams) (*domain.GrantResult, error)

	// LookupGrant returns the grant already recorded for an order id.
	// found is false when the order has not been credited.
	LookupGrant(ctx context.Context, email, orderID string) (result *domain.GrantResult, found bool, err error)
}

// GrantParams describes a confirmed payment.
type GrantParams struct {
	Email      string
	Amount     int64
	OrderID    string
	PaymentKey string
	Provider   domain.PaymentProvider
}

// =============================================================================
// Implementation
// =============================================================================

type entitlementService struct {
	store  store.Store
	policy domain.QuotaPolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewEntitlementService creates a new EntitlementService.
func NewEntitlementService(st store.Store, policy domain.QuotaPolicy, logger *slog.Logger) EntitlementService {
	return &entitlementService{
		store:  st,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

func (s *entitlementService) Policy() domain.QuotaPolicy {
	return s.policy
}

// GetUsage returns the reconciled usage for email.
func (s *entitlementService) GetUsage(ctx context.Context, email string) (*domain.Usage, error) {
	const op = "entitlement.get_usage"

	e, err := s.ensure(ctx, op, email)
	if err != nil {
		return nil, err
	}
	return domain.UsageOf(e, s.policy.FreeLimit), nil
}

// Evaluate decides which bucket would fund the next grading.
func (s *entitlementService) Evaluate(ctx context.Context, email string) (*domain.Entitlement, domain.Decision, error) {
	const op = "entitlement.evaluate"

	e, err := s.ensure(ctx, op, email)
	if err != nil {
		return nil, domain.Decision{}, err
	}
	return e, domain.Evaluate(*e, s.now(), s.policy), nil
}

// Commit debits one unit from bucket.
func (s *entitlementService) Commit(ctx context.Context, email string, bucket domain.Bucket) (*domain.Entitlement, error) {
	const op = "entitlement.commit"

	email = domain.NormalizeEmail(email)
	if !bucket.Valid() {
		return nil, domain.Invalid(op, "unknown bucket")
	}

	e, err := s.store.Consume(ctx, email, bucket, s.policy.FreeLimit)
	if err != nil {
		if store.IsExhausted(err) {
			return nil, domain.Wrap(err, domain.EPAYMENT, op, domain.QuotaExhausted(op, s.policy.FreeLimit).Message)
		}
		return nil, s.storeError(err, op, email)
	}

	metrics.GradingCommitted(string(bucket))
	s.logger.Debug("Grading committed", "email", email, "bucket", bucket)
	return e, nil
}

// Grant credits the pack bought for amount, at most once per order id.
func (s *entitlementService) Grant(ctx context.Context, params GrantParams) (*domain.GrantResult, error) {
	const op = "entitlement.grant"

	email := domain.NormalizeEmail(params.Email)
	if email == "" {
		return nil, domain.Invalid(op, "email is required")
	}
	price, err := domain.ResolvePlan(params.Amount, params.OrderID)
	if err != nil {
		return nil, err
	}

	// Reconcile first so a lapsed window is re-armed before the credit, and
	// a destructive expiry policy cannot wipe the tickets just bought.
	if _, err := s.ensure(ctx, op, email); err != nil {
		return nil, err
	}

	e, applied, err := s.store.Credit(ctx, domain.Credit{
		Email:      email,
		OrderID:    params.OrderID,
		PaymentKey: params.PaymentKey,
		Provider:   params.Provider,
		Amount:     params.Amount,
		Plan:       price.Plan,
		Quantity:   price.Quantity,
		Now:        s.now(),
		Policy:     s.policy,
	})
	if err != nil {
		if store.IsConflict(err) {
			s.logger.Warn("Order id replayed for another account", "order_id", params.OrderID, "email", email)
			return nil, domain.Conflict(op, "order id was already used by another account")
		}
		return nil, s.storeError(err, op, email)
	}

	result := &domain.GrantResult{
		Plan:            price.Plan,
		Quantity:        price.Quantity,
		OrderID:         params.OrderID,
		AlreadyCredited: !applied,
		Entitlement:     e,
	}
	if !applied {
		s.logger.Info("Order already credited", "order_id", params.OrderID, "email", email)
		return result, nil
	}

	metrics.TicketsGranted(string(price.Plan), price.Quantity)
	s.logger.Info("Tickets credited",
		"email", email,
		"order_id", params.OrderID,
		"provider", params.Provider,
		"plan", price.Plan,
		"quantity", price.Quantity,
	)
	return result, nil
}

// LookupGrant returns the grant already recorded for an order id.
func (s *entitlementService) LookupGrant(ctx context.Context, email, orderID string) (*domain.GrantResult, bool, error) {
	const op = "entitlement.lookup_grant"

	email = domain.NormalizeEmail(email)
	p, err := s.store.GetPayment(ctx, orderID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, s.storeError(err, op, email)
	}
	if p.Email != email {
		return nil, false, domain.Conflict(op, "order id was already used by another account")
	}

	e, err := s.ensure(ctx, op, email)
	if err != nil {
		return nil, false, err
	}
	return &domain.GrantResult{
		Plan:            p.Plan,
		Quantity:        p.Quantity,
		OrderID:         p.OrderID,
		AlreadyCredited: true,
		Entitlement:     e,
	}, true, nil
}

// =============================================================================
// Helper Methods
// =============================================================================

// ensure returns the record for email, creating it on first contact and
// re-arming a lapsed free-trial window.
func (s *entitlementService) ensure(ctx context.Context, op, email string) (*domain.Entitlement, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, domain.Unauthorized(op, "a verified email is required")
	}

	e, err := s.store.Get(ctx, email)
	if store.IsNotFound(err) {
		e, err = s.store.CreateDefault(ctx, domain.NewEntitlement(email, s.now(), s.policy))
		if store.IsConflict(err) {
			// Lost the creation race; the winner's row is the record.
			e, err = s.store.Get(ctx, email)
		} else if err == nil {
			s.logger.Info("Entitlement created", "email", email)
		}
	}
	if err != nil {
		return nil, s.storeError(err, op, email)
	}

	now := s.now()
	if !e.WindowExpired(now) {
		return e, nil
	}

	next := domain.NextWindowEnd(*e, now, s.policy)
	e, err = s.store.ResetWindow(ctx, email, now, next, s.policy.ClearPaidOnExpiry)
	if err != nil {
		return nil, s.storeError(err, op, email)
	}
	s.logger.Info("Free window reset",
		"email", email,
		"window_end", e.FreeWindowEnd,
		"paid_cleared", s.policy.ClearPaidOnExpiry,
	)
	return e, nil
}

func (s *entitlementService) storeError(err error, op, email string) error {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return err
	}
	switch {
	case store.IsNotFound(err):
		return domain.NotFound(op, "entitlement", email)
	case store.IsConflict(err):
		return domain.Conflict(op, "usage record changed concurrently, please retry")
	}
	s.logger.Error("Entitlement store failure", "op", op, "email", email, "error", err)
	return domain.Unavailable(err, op)
}

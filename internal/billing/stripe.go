// Package billing provides Stripe Checkout as an alternate card rail for
// ticket packs.
package billing

import (
	"encoding/json"
	"fmt"

	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Currency is the only currency packs are sold in. KRW is zero-decimal, so
// amounts are passed to Stripe unchanged.
const Currency = "krw"

// OrderIDPrefix marks order ids minted from Checkout sessions.
const OrderIDPrefix = "stripe-"

// Metadata keys set on every Checkout session.
const (
	MetadataEmail = "email"
	MetadataPlan  = "plan"
)

// Service defines the interface for billing operations.
type Service interface {
	// CreateCheckoutSession creates a payment-mode Checkout session for one
	// pack. Returns the session URL to redirect the user to.
	CreateCheckoutSession(p CheckoutParams) (*CheckoutSession, error)

	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)
}

// CheckoutParams describes the pack being bought.
type CheckoutParams struct {
	Email      string
	Price      domain.PlanPrice
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the created session.
type CheckoutSession struct {
	ID  string
	URL string
}

// CompletedCheckout is a paid session ready to be credited.
type CompletedCheckout struct {
	SessionID string
	OrderID   string
	Email     string
	Plan      domain.Plan
	Amount    int64
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey is used to authenticate Stripe API calls.
// The webhookSecret is used to verify incoming webhook signatures.
func NewStripeService(secretKey, webhookSecret string) Service {
	stripe.Key = secretKey

	return &stripeService{
		webhookSecret: webhookSecret,
	}
}

func (s *stripeService) CreateCheckoutSession(p CheckoutParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail: stripe.String(p.Email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(Currency),
					UnitAmount: stripe.Int64(p.Price.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.Price.DisplayName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			MetadataEmail: p.Email,
			MetadataPlan:  string(p.Price.Plan),
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

// CompletedCheckoutFromEvent extracts a paid Checkout session. ok is false
// for every other event type and for sessions that are not yet paid.
func CompletedCheckoutFromEvent(event stripe.Event) (*CompletedCheckout, bool, error) {
	if event.Type != "checkout.session.completed" {
		return nil, false, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, false, fmt.Errorf("decode checkout session: %w", err)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, false, nil
	}

	email := sess.Metadata[MetadataEmail]
	if email == "" && sess.CustomerDetails != nil {
		email = sess.CustomerDetails.Email
	}
	if email == "" {
		return nil, false, fmt.Errorf("checkout session %s has no email", sess.ID)
	}

	return &CompletedCheckout{
		SessionID: sess.ID,
		OrderID:   OrderIDPrefix + sess.ID,
		Email:     email,
		Plan:      domain.Plan(sess.Metadata[MetadataPlan]),
		Amount:    sess.AmountTotal,
	}, true, nil
}

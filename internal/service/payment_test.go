package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/DukeRupert/drphyllis/internal/billing"
	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/DukeRupert/drphyllis/internal/payment"
	paymock "github.com/DukeRupert/drphyllis/internal/payment/mock"
	"github.com/DukeRupert/drphyllis/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

func newPaymentFixture(t *testing.T) (PaymentService, *paymock.Gateway, store.Store) {
	t.Helper()
	st := store.NewMemory()
	ent, _, _ := newTestEntitlementsWithStore(t, st)
	gw := paymock.New()
	svc := NewPaymentService(ent, gw, nil, PaymentConfig{Provider: domain.ProviderMock}, testLogger())
	return svc, gw, st
}

func newTestEntitlementsWithStore(t *testing.T, st store.Store) (*entitlementService, store.Store, *testClock) {
	t.Helper()
	clock := newTestClock()
	svc := NewEntitlementService(st, domain.DefaultQuotaPolicy(), testLogger()).(*entitlementService)
	svc.now = clock.Now
	return svc, st, clock
}

func TestConfirm_CreditsPack(t *testing.T) {
	svc, gw, _ := newPaymentFixture(t)

	result, err := svc.Confirm(context.Background(), "buyer@example.com", payment.ConfirmRequest{
		PaymentKey: "pk_1",
		OrderID:    "order-premium-1",
		Amount:     79000,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPremium, result.Grant.Plan)
	assert.Equal(t, 30, result.Grant.Quantity)
	assert.False(t, result.Grant.AlreadyCredited)
	assert.Equal(t, 30, result.Usage.PremiumCount)
	assert.Equal(t, domain.PlanTypePaid, result.Usage.Plan)
	assert.Equal(t, 1, gw.Calls())
}

func TestConfirm_ReplayShortCircuitsGateway(t *testing.T) {
	svc, gw, _ := newPaymentFixture(t)
	ctx := context.Background()
	req := payment.ConfirmRequest{PaymentKey: "pk_1", OrderID: "order-123", Amount: 29000}

	_, err := svc.Confirm(ctx, "buyer@example.com", req)
	require.NoError(t, err)

	result, err := svc.Confirm(ctx, "buyer@example.com", req)
	require.NoError(t, err)
	assert.True(t, result.Grant.AlreadyCredited)
	assert.Equal(t, 10, result.Usage.StandardCount)
	assert.Equal(t, 1, gw.Calls(), "replay must not reach the gateway")
}

func TestConfirm_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		req         payment.ConfirmRequest
		gatewayErr  error
		override    int64
		overrideID  string
		wantCode    string
		wantMessage string
		wantCalls   int
	}{
		{
			name:        "missing payment key",
			req:         payment.ConfirmRequest{OrderID: "order-1", Amount: 29000},
			wantCode:    domain.EINVALID,
			wantMessage: "INVALID_PARAMS",
		},
		{
			name:        "unknown amount never reaches gateway",
			req:         payment.ConfirmRequest{PaymentKey: "pk", OrderID: "order-1", Amount: 1000},
			wantCode:    domain.EINVALID,
			wantMessage: "UNKNOWN_AMOUNT",
		},
		{
			name:        "gateway rejection",
			req:         payment.ConfirmRequest{PaymentKey: "pk", OrderID: "order-1", Amount: 29000},
			gatewayErr:  &payment.GatewayError{StatusCode: 400, Code: "ALREADY_PROCESSED_PAYMENT", Message: "이미 처리된 결제 입니다."},
			wantCode:    domain.EINVALID,
			wantMessage: "ALREADY_PROCESSED_PAYMENT: 이미 처리된 결제 입니다.",
			wantCalls:   1,
		},
		{
			name:       "gateway unavailable",
			req:        payment.ConfirmRequest{PaymentKey: "pk", OrderID: "order-1", Amount: 29000},
			gatewayErr: fmt.Errorf("toss confirm: %w", payment.ErrUnavailable),
			wantCode:   domain.EUPSTREAM,
			wantCalls:  1,
		},
		{
			name:      "gateway disagrees on amount",
			req:       payment.ConfirmRequest{PaymentKey: "pk", OrderID: "order-1", Amount: 29000},
			override:  79000,
			wantCode:  domain.EINTERNAL,
			wantCalls: 1,
		},
		{
			name:       "gateway disagrees on order",
			req:        payment.ConfirmRequest{PaymentKey: "pk", OrderID: "order-1", Amount: 29000},
			overrideID: "order-2",
			wantCode:   domain.EINTERNAL,
			wantCalls:  1,
		},
		{
			name:        "plan tag disagrees with amount",
			req:         payment.ConfirmRequest{PaymentKey: "pk", OrderID: "drphy-pre-1712345678901", Amount: 199000},
			wantCode:    domain.EINVALID,
			wantMessage: "PLAN_MISMATCH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, gw, st := newPaymentFixture(t)
			gw.Error = tt.gatewayErr
			gw.AmountOverride = tt.override
			gw.OrderIDOverride = tt.overrideID

			_, err := svc.Confirm(context.Background(), "buyer@example.com", tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domain.ErrorCode(err))
			if tt.wantMessage != "" {
				assert.Contains(t, domain.ErrorMessage(err), tt.wantMessage)
			}
			assert.Equal(t, tt.wantCalls, gw.Calls())

			_, err = st.GetPayment(context.Background(), tt.req.OrderID)
			assert.True(t, store.IsNotFound(err), "nothing is credited on failure")
		})
	}
}

func TestCheckout_DisabledWithoutStripe(t *testing.T) {
	svc, _, _ := newPaymentFixture(t)
	assert.False(t, svc.CheckoutEnabled())

	_, err := svc.CreateCheckout(context.Background(), "buyer@example.com", domain.PlanVIP)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	err = svc.HandleStripeWebhook(context.Background(), []byte(`{}`), "sig")
	assert.True(t, errors.As(err, new(*domain.Error)))
}

// fakeBilling returns a canned event for any signature but "bad".
type fakeBilling struct {
	event stripe.Event
}

func (f *fakeBilling) CreateCheckoutSession(p billing.CheckoutParams) (*billing.CheckoutSession, error) {
	return &billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.test/" + string(p.Price.Plan)}, nil
}

func (f *fakeBilling) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	if signature == "bad" {
		return stripe.Event{}, errors.New("bad signature")
	}
	return f.event, nil
}

func TestHandleStripeWebhook(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id":             "cs_test_9",
		"payment_status": "paid",
		"amount_total":   199000,
		"metadata":       map[string]string{"email": "buyer@example.com", "plan": "vip"},
	})
	require.NoError(t, err)
	fb := &fakeBilling{event: stripe.Event{
		ID:   "evt_1",
		Type: "checkout.session.completed",
		Data: &stripe.EventData{Raw: raw},
	}}

	st := store.NewMemory()
	ent, _, _ := newTestEntitlementsWithStore(t, st)
	svc := NewPaymentService(ent, paymock.New(), fb, PaymentConfig{Provider: domain.ProviderToss, BaseURL: "https://drphyllis.test"}, testLogger())
	ctx := context.Background()

	err = svc.HandleStripeWebhook(ctx, []byte(`{}`), "bad")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	require.NoError(t, svc.HandleStripeWebhook(ctx, []byte(`{}`), "ok"))
	require.NoError(t, svc.HandleStripeWebhook(ctx, []byte(`{}`), "ok"), "redelivery is idempotent")

	e, err := st.Get(ctx, "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, 100, e.VIPTickets)

	p, err := st.GetPayment(ctx, "stripe-cs_test_9")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderStripe, p.Provider)

	sess, err := svc.CreateCheckout(ctx, "buyer@example.com", domain.PlanStandard)
	require.NoError(t, err)
	assert.Equal(t, "cs_1", sess.ID)

	_, err = svc.CreateCheckout(ctx, "buyer@example.com", domain.Plan("gold"))
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestConfirm_GatewayMismatchIsNotRetryable(t *testing.T) {
	svc, gw, _ := newPaymentFixture(t)
	gw.AmountOverride = 79000

	_, err := svc.Confirm(context.Background(), "buyer@example.com",
		payment.ConfirmRequest{PaymentKey: "pk", OrderID: "order-1", Amount: 29000})
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
}

func TestHandleStripeWebhook_AcknowledgesUnsellableAmount(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id":             "cs_test_odd",
		"payment_status": "paid",
		"amount_total":   12345,
		"metadata":       map[string]string{"email": "buyer@example.com", "plan": "vip"},
	})
	require.NoError(t, err)
	fb := &fakeBilling{event: stripe.Event{
		ID:   "evt_2",
		Type: "checkout.session.completed",
		Data: &stripe.EventData{Raw: raw},
	}}

	st := store.NewMemory()
	ent, _, _ := newTestEntitlementsWithStore(t, st)
	svc := NewPaymentService(ent, paymock.New(), fb, PaymentConfig{Provider: domain.ProviderToss}, testLogger())
	ctx := context.Background()

	require.NoError(t, svc.HandleStripeWebhook(ctx, []byte(`{}`), "ok"))

	_, err = st.GetPayment(ctx, "stripe-cs_test_odd")
	assert.True(t, store.IsNotFound(err), "nothing is credited")
	_, err = st.Get(ctx, "buyer@example.com")
	assert.True(t, store.IsNotFound(err))
}

func TestCreateOrder(t *testing.T) {
	svc, _, _ := newPaymentFixture(t)
	ctx := context.Background()

	for _, p := range domain.PriceTable {
		t.Run(string(p.Plan), func(t *testing.T) {
			order, err := svc.CreateOrder(ctx, "buyer@example.com", p.Plan)
			require.NoError(t, err)
			assert.Equal(t, p.Plan, order.Plan)
			assert.Equal(t, p.Amount, order.Amount)
			assert.Equal(t, p.DisplayName, order.OrderName)

			resolved, err := domain.ResolvePlan(order.Amount, order.OrderID)
			require.NoError(t, err)
			assert.Equal(t, p.Plan, resolved.Plan)
		})
	}

	_, err := svc.CreateOrder(ctx, "buyer@example.com", domain.Plan("gold"))
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestConfirm_MintedOrderCredits(t *testing.T) {
	svc, gw, _ := newPaymentFixture(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, "buyer@example.com", domain.PlanStandard)
	require.NoError(t, err)

	result, err := svc.Confirm(ctx, "buyer@example.com", payment.ConfirmRequest{
		PaymentKey: "pk_std",
		OrderID:    order.OrderID,
		Amount:     order.Amount,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, result.Usage.StandardCount)
	assert.Equal(t, 10, result.Usage.TotalTickets)
	assert.Equal(t, 1, gw.Calls())
}

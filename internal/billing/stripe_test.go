package billing

import (
	"encoding/json"
	"testing"

	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func sessionEvent(t *testing.T, eventType string, session map[string]any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(session)
	require.NoError(t, err)
	return stripe.Event{
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestCompletedCheckoutFromEvent(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		session map[string]any
		wantOK  bool
		wantErr bool
	}{
		{
			name:  "paid session",
			event: "checkout.session.completed",
			session: map[string]any{
				"id":             "cs_test_1",
				"payment_status": "paid",
				"amount_total":   79000,
				"metadata":       map[string]string{"email": "buyer@example.com", "plan": "premium"},
			},
			wantOK: true,
		},
		{
			name:  "unpaid session",
			event: "checkout.session.completed",
			session: map[string]any{
				"id":             "cs_test_2",
				"payment_status": "unpaid",
			},
		},
		{
			name:    "other event",
			event:   "checkout.session.expired",
			session: map[string]any{"id": "cs_test_3"},
		},
		{
			name:  "missing email",
			event: "checkout.session.completed",
			session: map[string]any{
				"id":             "cs_test_4",
				"payment_status": "paid",
				"metadata":       map[string]string{"plan": "vip"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := CompletedCheckoutFromEvent(sessionEvent(t, tt.event, tt.session))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, "stripe-cs_test_1", got.OrderID)
				assert.Equal(t, "buyer@example.com", got.Email)
				assert.Equal(t, domain.PlanPremium, got.Plan)
				assert.Equal(t, int64(79000), got.Amount)
			}
		})
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	svc := NewStripeService("sk_test", "whsec_test")

	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","api_version":"` +
		stripe.APIVersion + `","data":{"object":{"id":"cs_1"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  "whsec_test",
	})

	event, err := svc.VerifyWebhookSignature(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)

	_, err = svc.VerifyWebhookSignature(payload, "t=1,v1=deadbeef")
	assert.Error(t, err)
}

// Package mock provides an approving payment gateway for tests and local
// development.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/DukeRupert/drphyllis/internal/payment"
)

// Gateway approves every confirmation unless Error is set.
type Gateway struct {
	mu sync.Mutex

	// Error, when set, is returned by Confirm.
	Error error

	// AmountOverride, when non-zero, is reported as the confirmed amount.
	AmountOverride int64

	// OrderIDOverride, when set, is reported as the confirmed order id.
	OrderIDOverride string

	Requests []payment.ConfirmRequest
}

var _ payment.Gateway = (*Gateway)(nil)

// New creates an approving gateway
func New() *Gateway {
	return &Gateway{}
}

func (g *Gateway) Confirm(ctx context.Context, req payment.ConfirmRequest) (*payment.Confirmation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Requests = append(g.Requests, req)
	if g.Error != nil {
		return nil, g.Error
	}

	amount := req.Amount
	if g.AmountOverride != 0 {
		amount = g.AmountOverride
	}
	orderID := req.OrderID
	if g.OrderIDOverride != "" {
		orderID = g.OrderIDOverride
	}
	return &payment.Confirmation{
		PaymentKey:  req.PaymentKey,
		OrderID:     orderID,
		TotalAmount: amount,
		Status:      "DONE",
		Method:      "mock",
		ApprovedAt:  time.Now().UTC(),
	}, nil
}

// Calls returns how many confirmations were attempted.
func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Requests)
}

// Package payment confirms one-off ticket purchases with a payment gateway.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Gateway confirms an authorized payment.
type Gateway interface {
	// Confirm captures the payment. It must be safe to call again for an
	// order that was already confirmed; gateways reject the replay and the
	// caller relies on its own ledger for idempotency.
	Confirm(ctx context.Context, req ConfirmRequest) (*Confirmation, error)
}

// ConfirmRequest identifies the payment the client was redirected back with.
type ConfirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

// Confirmation is the gateway's record of a captured payment.
type Confirmation struct {
	PaymentKey  string
	OrderID     string
	TotalAmount int64
	Status      string
	Method      string
	ApprovedAt  time.Time
}

// ErrUnavailable wraps transport failures and 5xx answers from the gateway.
var ErrUnavailable = errors.New("payment gateway unavailable")

// DefaultErrorCode is reported when the gateway gives no code of its own.
const DefaultErrorCode = "TOSS_CONFIRM_ERROR"

// GatewayError is a rejection returned by the gateway.
type GatewayError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUnavailable returns true if the gateway could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

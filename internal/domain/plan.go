package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Plan is a ticket pack that can be bought.
type Plan string

const (
	PlanStandard Plan = "standard"
	PlanPremium  Plan = "premium"
	PlanVIP      Plan = "vip"
)

// Code returns the short tag a plan carries inside order ids.
func (p Plan) Code() string {
	switch p {
	case PlanStandard:
		return "std"
	case PlanPremium:
		return "pre"
	case PlanVIP:
		return "vip"
	default:
		return ""
	}
}

// Bucket returns the ticket bucket a plan credits.
func (p Plan) Bucket() Bucket {
	switch p {
	case PlanStandard:
		return BucketStandard
	case PlanPremium:
		return BucketPremium
	case PlanVIP:
		return BucketVIP
	default:
		return ""
	}
}

// PlanPrice is one row of the price table.
type PlanPrice struct {
	Plan        Plan
	Amount      int64 // KRW
	Quantity    int
	DisplayName string
}

// PriceTable lists every pack on sale.
var PriceTable = []PlanPrice{
	{Plan: PlanStandard, Amount: 29000, Quantity: 10, DisplayName: "스탠다드 10회"},
	{Plan: PlanPremium, Amount: 79000, Quantity: 30, DisplayName: "프리미엄 30회"},
	{Plan: PlanVIP, Amount: 199000, Quantity: 100, DisplayName: "VIP 100회"},
}

// PriceForAmount looks up the pack sold at amount.
func PriceForAmount(amount int64) (PlanPrice, bool) {
	for _, p := range PriceTable {
		if p.Amount == amount {
			return p, true
		}
	}
	return PlanPrice{}, false
}

// PriceForPlan looks up the pack for a plan name.
func PriceForPlan(plan Plan) (PlanPrice, bool) {
	for _, p := range PriceTable {
		if p.Plan == plan {
			return p, true
		}
	}
	return PlanPrice{}, false
}

// ResolvePlan maps a confirmed amount to a pack. Order ids may carry the plan
// as a dash-separated tag (e.g. "drphy-pre-1712345678901"); a tag that names
// a different pack than the amount buys is rejected.
func ResolvePlan(amount int64, orderID string) (PlanPrice, error) {
	const op = "plan.resolve"

	price, ok := PriceForAmount(amount)
	if !ok {
		return PlanPrice{}, UnknownPlan(op, amount)
	}
	if tag, ok := planTag(orderID); ok && tag != price.Plan {
		return PlanPrice{}, PlanMismatch(op, orderID, tag, amount, price.Plan)
	}
	return price, nil
}

// OrderIDPrefix starts every order id minted by NewOrderID.
const OrderIDPrefix = "drphy"

// NewOrderID builds an order id tagged with its plan code:
// drphy-<std|pre|vip>-<unix millis>-<random>.
func NewOrderID(plan Plan, now time.Time) string {
	return fmt.Sprintf("%s-%s-%d-%s", OrderIDPrefix, plan.Code(), now.UnixMilli(), uuid.NewString()[:8])
}

// Order is a pending purchase handed to the payment widget.
type Order struct {
	OrderID   string `json:"orderId"`
	Plan      Plan   `json:"plan"`
	Amount    int64  `json:"amount"`
	OrderName string `json:"orderName"`
}

// planTag finds the first segment of orderID naming a plan, by code or by
// full name.
func planTag(orderID string) (Plan, bool) {
	for _, part := range strings.Split(strings.ToLower(orderID), "-") {
		for _, p := range PriceTable {
			if part == p.Plan.Code() || part == string(p.Plan) {
				return p.Plan, true
			}
		}
	}
	return "", false
}

// PaymentProvider identifies which rail confirmed a payment.
type PaymentProvider string

const (
	ProviderToss   PaymentProvider = "toss"
	ProviderStripe PaymentProvider = "stripe"
	ProviderMock   PaymentProvider = "mock"
)

// Credit is a store-level request to credit tickets exactly once per order.
type Credit struct {
	Email      string
	OrderID    string
	PaymentKey string
	Provider   PaymentProvider
	Amount     int64
	Plan       Plan
	Quantity   int
	Now        time.Time
	Policy     QuotaPolicy // used if the record has to be created
}

// Payment is one row of the idempotency ledger: present iff credited.
type Payment struct {
	ID         uuid.UUID
	OrderID    string
	Email      string
	Provider   PaymentProvider
	PaymentKey string
	Amount     int64
	Plan       Plan
	Quantity   int
	CreatedAt  time.Time
}

// GrantResult reports what a confirmed payment credited.
type GrantResult struct {
	Plan            Plan         `json:"plan"`
	Quantity        int          `json:"quantity"`
	OrderID         string       `json:"orderId"`
	AlreadyCredited bool         `json:"alreadyCredited"`
	Entitlement     *Entitlement `json:"-"`
}

package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePlan(t *testing.T) {
	tests := []struct {
		name     string
		amount   int64
		orderID  string
		wantPlan Plan
		wantQty  int
		wantMsg  string
	}{
		{name: "standard", amount: 29000, orderID: "order-1712345678", wantPlan: PlanStandard, wantQty: 10},
		{name: "premium", amount: 79000, orderID: "order-1712345678", wantPlan: PlanPremium, wantQty: 30},
		{name: "vip", amount: 199000, orderID: "order-1712345678", wantPlan: PlanVIP, wantQty: 100},
		{name: "matching full name tag", amount: 79000, orderID: "order-premium-20250301", wantPlan: PlanPremium, wantQty: 30},
		{name: "std code", amount: 29000, orderID: "drphy-std-1712345678901", wantPlan: PlanStandard, wantQty: 10},
		{name: "pre code", amount: 79000, orderID: "drphy-pre-1712345678901", wantPlan: PlanPremium, wantQty: 30},
		{name: "vip code", amount: 199000, orderID: "drphy-vip-1712345678901", wantPlan: PlanVIP, wantQty: 100},
		{name: "code is case insensitive", amount: 79000, orderID: "DRPHY-PRE-1712345678901", wantPlan: PlanPremium, wantQty: 30},
		{name: "unknown amount", amount: 1000, orderID: "order-1", wantMsg: "UNKNOWN_AMOUNT"},
		{name: "zero amount", amount: 0, orderID: "order-1", wantMsg: "UNKNOWN_AMOUNT"},
		{name: "full name tag disagrees", amount: 29000, orderID: "order-vip-20250301", wantMsg: "PLAN_MISMATCH"},
		{name: "pre code at vip amount", amount: 199000, orderID: "drphy-pre-1712345678901", wantMsg: "PLAN_MISMATCH"},
		{name: "std code at premium amount", amount: 79000, orderID: "drphy-std-1712345678901", wantMsg: "PLAN_MISMATCH"},
		{name: "vip code at standard amount", amount: 29000, orderID: "drphy-vip-1712345678901", wantMsg: "PLAN_MISMATCH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePlan(tt.amount, tt.orderID)
			if tt.wantMsg != "" {
				require.Error(t, err)
				assert.Equal(t, EINVALID, ErrorCode(err))
				assert.Contains(t, ErrorMessage(err), tt.wantMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPlan, got.Plan)
			assert.Equal(t, tt.wantQty, got.Quantity)
			assert.Equal(t, tt.amount, got.Amount)
		})
	}
}

func TestResolvePlan_MismatchNamesBothPlans(t *testing.T) {
	_, err := ResolvePlan(29000, "drphy-vip-1712345678901")
	require.Error(t, err)

	msg := ErrorMessage(err)
	assert.Contains(t, msg, "tagged vip")
	assert.Contains(t, msg, "buys standard")
	assert.NotContains(t, msg, "no plan is sold")
}

func TestPlanBucket(t *testing.T) {
	assert.Equal(t, BucketStandard, PlanStandard.Bucket())
	assert.Equal(t, BucketPremium, PlanPremium.Bucket())
	assert.Equal(t, BucketVIP, PlanVIP.Bucket())
	assert.Equal(t, Bucket(""), Plan("gold").Bucket())
}

func TestNewOrderID_CarriesPlanTag(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, p := range PriceTable {
		t.Run(string(p.Plan), func(t *testing.T) {
			id := NewOrderID(p.Plan, now)
			assert.True(t, strings.HasPrefix(id, "drphy-"+p.Plan.Code()+"-1740787200000-"), id)

			price, err := ResolvePlan(p.Amount, id)
			require.NoError(t, err)
			assert.Equal(t, p.Plan, price.Plan)
		})
	}

	assert.NotEqual(t, NewOrderID(PlanVIP, now), NewOrderID(PlanVIP, now))
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, IsRetryable(Upstream(nil, "op", "grading failed")))
	assert.True(t, IsRetryable(Unavailable(nil, "op")))
	assert.True(t, IsRetryable(Conflict("op", "raced")))
	assert.False(t, IsRetryable(QuotaExhausted("op", 3)))
	assert.False(t, IsRetryable(Invalid("op", "bad")))

	assert.Equal(t, EPAYMENT, ErrorCode(QuotaExhausted("op", 3)))
	assert.Equal(t, "An internal error occurred. Please try again later.",
		ErrorMessage(Internal(nil, "store.get", "connection reset")))
}

func TestGradeRequestValidate(t *testing.T) {
	err := GradeRequest{}.Validate()
	require.Error(t, err)

	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Len(t, ve.Fields, 3)

	ok2 := GradeRequest{University: "korea", QuestionID: "1", Answer: "본문"}.Validate()
	assert.NoError(t, ok2)

	long := GradeRequest{University: "korea", QuestionID: "1", Answer: strings.Repeat("가", MaxAnswerRunes+1)}
	assert.Error(t, long.Validate())
}

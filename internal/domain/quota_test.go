package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func record(mod func(e *Entitlement)) Entitlement {
	e := *NewEntitlement("student@example.com", testNow, DefaultQuotaPolicy())
	if mod != nil {
		mod(&e)
	}
	return e
}

func TestEvaluate(t *testing.T) {
	policy := DefaultQuotaPolicy()

	tests := []struct {
		name   string
		record Entitlement
		want   Decision
	}{
		{
			name:   "fresh record draws free",
			record: record(nil),
			want:   Decision{Allowed: true, Bucket: BucketFree},
		},
		{
			name: "vip before premium before standard",
			record: record(func(e *Entitlement) {
				e.VIPTickets, e.PremiumTickets, e.StandardTickets = 1, 1, 1
			}),
			want: Decision{Allowed: true, Bucket: BucketVIP},
		},
		{
			name: "premium before standard",
			record: record(func(e *Entitlement) {
				e.PremiumTickets, e.StandardTickets = 2, 5
			}),
			want: Decision{Allowed: true, Bucket: BucketPremium},
		},
		{
			name: "tickets before remaining free usage",
			record: record(func(e *Entitlement) {
				e.StandardTickets = 1
			}),
			want: Decision{Allowed: true, Bucket: BucketStandard},
		},
		{
			name: "free exhausted without tickets",
			record: record(func(e *Entitlement) {
				e.FreeUsageCount = 3
			}),
			want: Decision{Reason: DenyReasonExhausted},
		},
		{
			name: "lapsed window is reconciled before deciding",
			record: record(func(e *Entitlement) {
				e.FreeUsageCount = 3
				e.FreeWindowEnd = testNow.Add(-time.Hour)
			}),
			want: Decision{Allowed: true, Bucket: BucketFree},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.record, testNow, policy)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_CustomFreeLimit(t *testing.T) {
	policy := QuotaPolicy{FreeLimit: 5, TrialWindowDays: 30}
	e := record(func(e *Entitlement) { e.FreeUsageCount = 4 })

	assert.True(t, Evaluate(e, testNow, policy).Allowed)

	e.FreeUsageCount = 5
	assert.False(t, Evaluate(e, testNow, policy).Allowed)
}

func TestConsume_PriorityScenario(t *testing.T) {
	policy := DefaultQuotaPolicy()
	e := record(func(e *Entitlement) {
		e.VIPTickets, e.PremiumTickets, e.StandardTickets = 1, 1, 1
	})

	d := Evaluate(e, testNow, policy)
	assert.Equal(t, BucketVIP, d.Bucket)

	after, ok := Consume(e, d.Bucket, policy.FreeLimit)
	assert.True(t, ok)
	assert.Equal(t, 0, after.VIPTickets)
	assert.Equal(t, 1, after.PremiumTickets)
	assert.Equal(t, 1, after.StandardTickets)
	assert.Equal(t, 0, after.FreeUsageCount)
}

func TestConsume_NeverNegative(t *testing.T) {
	e := record(nil)

	for _, b := range []Bucket{BucketVIP, BucketPremium, BucketStandard} {
		after, ok := Consume(e, b, DefaultFreeLimit)
		assert.False(t, ok, b)
		assert.Equal(t, e, after)
	}

	e.FreeUsageCount = DefaultFreeLimit
	_, ok := Consume(e, BucketFree, DefaultFreeLimit)
	assert.False(t, ok)

	_, ok = Consume(e, Bucket("gold"), DefaultFreeLimit)
	assert.False(t, ok)
}

func TestConsume_SequenceKeepsCountersNonNegative(t *testing.T) {
	policy := DefaultQuotaPolicy()
	e := record(nil)
	e = AddTickets(e, BucketStandard, 2)

	for i := 0; i < 10; i++ {
		d := Evaluate(e, testNow, policy)
		if !d.Allowed {
			break
		}
		var ok bool
		e, ok = Consume(e, d.Bucket, policy.FreeLimit)
		assert.True(t, ok)
		assert.GreaterOrEqual(t, e.Tickets(d.Bucket), 0)
	}

	assert.Equal(t, 0, e.StandardTickets)
	assert.Equal(t, 3, e.FreeUsageCount)
	assert.False(t, Evaluate(e, testNow, policy).Allowed)
}

func TestReconcile(t *testing.T) {
	policy := DefaultQuotaPolicy()
	e := record(func(e *Entitlement) {
		e.FreeUsageCount = 3
		e.PremiumTickets = 7
		e.PlanType = PlanTypePaid
		e.FreeWindowEnd = testNow.Add(-24 * time.Hour)
	})

	got, changed := Reconcile(e, testNow, policy)
	assert.True(t, changed)
	assert.Equal(t, 0, got.FreeUsageCount)
	assert.True(t, got.FreeWindowEnd.After(testNow))
	assert.Equal(t, testNow.AddDate(0, 0, 30), got.FreeWindowEnd)
	assert.Equal(t, 7, got.PremiumTickets, "paid tickets survive window expiry")
	assert.Equal(t, PlanTypePaid, got.PlanType)

	again, changed := Reconcile(got, testNow, policy)
	assert.False(t, changed)
	assert.Equal(t, got, again)
}

func TestReconcile_ClearPaidOnExpiry(t *testing.T) {
	policy := DefaultQuotaPolicy()
	policy.ClearPaidOnExpiry = true

	e := record(func(e *Entitlement) {
		e.VIPTickets, e.PremiumTickets, e.StandardTickets = 3, 2, 1
		e.PlanType = PlanTypePaid
		e.FreeWindowEnd = testNow.Add(-time.Minute)
	})

	got, changed := Reconcile(e, testNow, policy)
	assert.True(t, changed)
	assert.Equal(t, 0, got.TotalTickets())
	assert.Equal(t, PlanTypeFree, got.PlanType)
}

func TestReconcile_UsesRecordExpiryDays(t *testing.T) {
	e := record(func(e *Entitlement) {
		e.UsageExpiryDays = 7
		e.FreeWindowEnd = testNow.Add(-time.Second)
	})

	got, _ := Reconcile(e, testNow, DefaultQuotaPolicy())
	assert.Equal(t, testNow.AddDate(0, 0, 7), got.FreeWindowEnd)
}

func TestReconcile_BoundaryIsNotExpired(t *testing.T) {
	e := record(func(e *Entitlement) {
		e.FreeUsageCount = 2
		e.FreeWindowEnd = testNow
	})

	_, changed := Reconcile(e, testNow, DefaultQuotaPolicy())
	assert.False(t, changed)
}

func TestAddTickets(t *testing.T) {
	e := AddTickets(record(nil), BucketPremium, 30)
	assert.Equal(t, 30, e.PremiumTickets)
	assert.Equal(t, PlanTypePaid, e.PlanType)

	unchanged := AddTickets(record(nil), BucketFree, 30)
	assert.Equal(t, PlanTypeFree, unchanged.PlanType)
	assert.Equal(t, 0, unchanged.TotalTickets())
}

func TestUsageOf_TotalsPaidTickets(t *testing.T) {
	e := record(func(e *Entitlement) {
		e.FreeUsageCount = 1
		e.StandardTickets = 2
		e.PremiumTickets = 3
		e.VIPTickets = 4
	})

	u := UsageOf(&e, 3)
	assert.Equal(t, 9, u.TotalTickets)
	assert.Equal(t, 2, u.FreeRemaining)
}

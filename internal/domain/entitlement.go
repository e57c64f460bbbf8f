// Package domain contains core business types and interfaces.
//
// This file defines the per-user entitlement record: the free-trial counter,
// its rolling window, and the three prepaid ticket balances.
package domain

import (
	"strings"
	"time"
)

// Bucket names a pool of remaining gradings.
type Bucket string

const (
	BucketFree     Bucket = "free"
	BucketStandard Bucket = "standard"
	BucketPremium  Bucket = "premium"
	BucketVIP      Bucket = "vip"
)

// DrawOrder is the fixed priority in which buckets fund a grading.
var DrawOrder = []Bucket{BucketVIP, BucketPremium, BucketStandard, BucketFree}

// Valid checks if the bucket is one of the known pools.
func (b Bucket) Valid() bool {
	switch b {
	case BucketFree, BucketStandard, BucketPremium, BucketVIP:
		return true
	default:
		return false
	}
}

// Paid reports whether the bucket holds purchased tickets.
func (b Bucket) Paid() bool {
	return b == BucketStandard || b == BucketPremium || b == BucketVIP
}

// PlanType records whether a user has ever bought tickets.
type PlanType string

const (
	PlanTypeFree PlanType = "free"
	PlanTypePaid PlanType = "paid"
)

// Entitlement is the single usage record kept per email.
type Entitlement struct {
	Email           string
	FreeUsageCount  int
	FreeWindowEnd   time.Time
	StandardTickets int
	PremiumTickets  int
	VIPTickets      int
	PlanType        PlanType
	UsageExpiryDays int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewEntitlement builds the default free record created on first contact.
func NewEntitlement(email string, now time.Time, policy QuotaPolicy) *Entitlement {
	now = now.UTC()
	return &Entitlement{
		Email:           NormalizeEmail(email),
		FreeWindowEnd:   now.AddDate(0, 0, policy.TrialWindowDays),
		PlanType:        PlanTypeFree,
		UsageExpiryDays: policy.TrialWindowDays,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Tickets returns the remaining balance of a paid bucket.
func (e *Entitlement) Tickets(b Bucket) int {
	switch b {
	case BucketStandard:
		return e.StandardTickets
	case BucketPremium:
		return e.PremiumTickets
	case BucketVIP:
		return e.VIPTickets
	default:
		return 0
	}
}

// TotalTickets sums all paid buckets.
func (e *Entitlement) TotalTickets() int {
	return e.StandardTickets + e.PremiumTickets + e.VIPTickets
}

// FreeRemaining returns how many free gradings are left in the current window.
func (e *Entitlement) FreeRemaining(freeLimit int) int {
	if r := freeLimit - e.FreeUsageCount; r > 0 {
		return r
	}
	return 0
}

// WindowExpired reports whether the free-trial window has lapsed at now.
func (e *Entitlement) WindowExpired(now time.Time) bool {
	return now.After(e.FreeWindowEnd)
}

// EntitlementUpdate is a partial update; nil fields are left untouched.
type EntitlementUpdate struct {
	FreeUsageCount  *int
	FreeWindowEnd   *time.Time
	StandardTickets *int
	PremiumTickets  *int
	VIPTickets      *int
	PlanType        *PlanType
	UsageExpiryDays *int
}

// Validate rejects updates that would drive a counter negative.
func (u EntitlementUpdate) Validate() error {
	const op = "entitlement.update"
	for name, v := range map[string]*int{
		"free_usage_count": u.FreeUsageCount,
		"standard_tickets": u.StandardTickets,
		"premium_tickets":  u.PremiumTickets,
		"vip_tickets":      u.VIPTickets,
	} {
		if v != nil && *v < 0 {
			return Invalid(op, name+" must not be negative")
		}
	}
	if u.UsageExpiryDays != nil && *u.UsageExpiryDays <= 0 {
		return Invalid(op, "usage_expiry_days must be positive")
	}
	if u.PlanType != nil && *u.PlanType != PlanTypeFree && *u.PlanType != PlanTypePaid {
		return Invalid(op, "plan_type must be free or paid")
	}
	return nil
}

// Apply returns a copy of e with the non-nil fields of u applied.
func (u EntitlementUpdate) Apply(e Entitlement) Entitlement {
	if u.FreeUsageCount != nil {
		e.FreeUsageCount = *u.FreeUsageCount
	}
	if u.FreeWindowEnd != nil {
		e.FreeWindowEnd = *u.FreeWindowEnd
	}
	if u.StandardTickets != nil {
		e.StandardTickets = *u.StandardTickets
	}
	if u.PremiumTickets != nil {
		e.PremiumTickets = *u.PremiumTickets
	}
	if u.VIPTickets != nil {
		e.VIPTickets = *u.VIPTickets
	}
	if u.PlanType != nil {
		e.PlanType = *u.PlanType
	}
	if u.UsageExpiryDays != nil {
		e.UsageExpiryDays = *u.UsageExpiryDays
	}
	return e
}

// Usage is the client-facing view of a reconciled entitlement.
type Usage struct {
	Email           string    `json:"email"`
	Plan            PlanType  `json:"plan"`
	UsageCount      int       `json:"usageCount"`
	FreeLimit       int       `json:"freeLimit"`
	FreeRemaining   int       `json:"freeRemaining"`
	StandardCount   int       `json:"standardCount"`
	PremiumCount    int       `json:"premiumCount"`
	VIPCount        int       `json:"vipCount"`
	TotalTickets    int       `json:"totalTickets"`
	WindowEnd       time.Time `json:"windowEnd"`
	UsageExpiryDays int       `json:"usageExpiryDays"`
}

// UsageOf projects an entitlement into its client-facing view.
func UsageOf(e *Entitlement, freeLimit int) *Usage {
	return &Usage{
		Email:           e.Email,
		Plan:            e.PlanType,
		UsageCount:      e.FreeUsageCount,
		FreeLimit:       freeLimit,
		FreeRemaining:   e.FreeRemaining(freeLimit),
		StandardCount:   e.StandardTickets,
		PremiumCount:    e.PremiumTickets,
		VIPCount:        e.VIPTickets,
		TotalTickets:    e.TotalTickets(),
		WindowEnd:       e.FreeWindowEnd,
		UsageExpiryDays: e.UsageExpiryDays,
	}
}

// NormalizeEmail trims and lower-cases an email so it can key a record.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

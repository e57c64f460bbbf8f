// Package domain contains core business types and interfaces.
//
// This file holds the pure quota decisions: which bucket funds the next
// grading, and how a lapsed free-trial window is reconciled.
package domain

import "time"

const (
	// DefaultFreeLimit is the number of free gradings per window.
	DefaultFreeLimit = 3

	// DefaultTrialWindowDays is the length of a free-trial window.
	DefaultTrialWindowDays = 30
)

// QuotaPolicy configures the evaluator and the expiry sweeper.
type QuotaPolicy struct {
	FreeLimit       int
	TrialWindowDays int

	// ClearPaidOnExpiry makes window expiry also wipe every ticket bucket and
	// revert the plan to free. Off by default: purchased tickets do not expire.
	ClearPaidOnExpiry bool
}

// DefaultQuotaPolicy returns the policy used when nothing is configured.
func DefaultQuotaPolicy() QuotaPolicy {
	return QuotaPolicy{
		FreeLimit:       DefaultFreeLimit,
		TrialWindowDays: DefaultTrialWindowDays,
	}
}

// Decision is the evaluator's verdict for one grading request.
type Decision struct {
	Allowed bool
	Bucket  Bucket // set when Allowed
	Reason  string // set when denied
}

// DenyReasonExhausted is the only reason a request is denied.
const DenyReasonExhausted = "quota exhausted"

// Evaluate decides whether a grading may proceed and which bucket pays for it.
// Paid buckets are drawn before the free trial, highest tier first.
func Evaluate(e Entitlement, now time.Time, policy QuotaPolicy) Decision {
	if e.WindowExpired(now) {
		e, _ = Reconcile(e, now, policy)
	}

	for _, b := range DrawOrder {
		if b == BucketFree {
			if e.FreeUsageCount < policy.FreeLimit {
				return Decision{Allowed: true, Bucket: BucketFree}
			}
			continue
		}
		if e.Tickets(b) > 0 {
			return Decision{Allowed: true, Bucket: b}
		}
	}

	return Decision{Reason: DenyReasonExhausted}
}

// Reconcile re-arms a lapsed free-trial window. It reports whether anything
// changed; calling it on a current record is a no-op.
func Reconcile(e Entitlement, now time.Time, policy QuotaPolicy) (Entitlement, bool) {
	if !e.WindowExpired(now) {
		return e, false
	}

	e.FreeUsageCount = 0
	e.FreeWindowEnd = NextWindowEnd(e, now, policy)
	if policy.ClearPaidOnExpiry {
		e.StandardTickets = 0
		e.PremiumTickets = 0
		e.VIPTickets = 0
		e.PlanType = PlanTypeFree
	}
	e.UpdatedAt = now.UTC()
	return e, true
}

// NextWindowEnd computes the end of the window that starts at now.
func NextWindowEnd(e Entitlement, now time.Time, policy QuotaPolicy) time.Time {
	days := e.UsageExpiryDays
	if days <= 0 {
		days = policy.TrialWindowDays
	}
	return now.UTC().AddDate(0, 0, days)
}

// Consume applies a committed decision to an in-memory record. It fails with
// ok=false when the bucket has nothing left, leaving e unchanged.
func Consume(e Entitlement, b Bucket, freeLimit int) (Entitlement, bool) {
	switch b {
	case BucketVIP:
		if e.VIPTickets <= 0 {
			return e, false
		}
		e.VIPTickets--
	case BucketPremium:
		if e.PremiumTickets <= 0 {
			return e, false
		}
		e.PremiumTickets--
	case BucketStandard:
		if e.StandardTickets <= 0 {
			return e, false
		}
		e.StandardTickets--
	case BucketFree:
		if e.FreeUsageCount >= freeLimit {
			return e, false
		}
		e.FreeUsageCount++
	default:
		return e, false
	}
	return e, true
}

// AddTickets adds quantity tickets to a paid bucket and marks the plan as paid.
func AddTickets(e Entitlement, b Bucket, quantity int) Entitlement {
	switch b {
	case BucketVIP:
		e.VIPTickets += quantity
	case BucketPremium:
		e.PremiumTickets += quantity
	case BucketStandard:
		e.StandardTickets += quantity
	default:
		return e
	}
	e.PlanType = PlanTypePaid
	return e
}

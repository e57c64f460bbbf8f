package metrics

import "time"

// Payment confirmation outcomes.
const (
	OutcomeCredited = "credited"
	OutcomeReplayed = "replayed"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Commit failure reasons.
const (
	ReasonExhausted = "exhausted"
	ReasonStore     = "store"
)

// GradingCommitted records a grading debited from bucket.
func GradingCommitted(bucket string) {
	GradingsTotal.WithLabelValues(bucket).Inc()
}

// QuotaDenied records a paywall response.
func QuotaDenied() {
	QuotaDenialsTotal.Inc()
}

// CommitFailed records a grading whose usage could not be recorded.
func CommitFailed(reason string) {
	CommitFailuresTotal.WithLabelValues(reason).Inc()
}

// TicketsGranted records tickets credited for a plan.
func TicketsGranted(plan string, quantity int) {
	TicketsGrantedTotal.WithLabelValues(plan).Add(float64(quantity))
}

// AICallSucceeded records a completed grading engine call and its token usage.
func AICallSucceeded(provider string, duration time.Duration, inputTokens, outputTokens int) {
	AICallsTotal.WithLabelValues(provider, "success").Inc()
	AICallDuration.WithLabelValues(provider).Observe(duration.Seconds())
	AITokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	AITokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}

// AICallFailed records a grading engine failure.
func AICallFailed(provider string, duration time.Duration) {
	AICallsTotal.WithLabelValues(provider, "error").Inc()
	AICallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// PaymentConfirmed records the outcome of a confirmation on a payment rail.
func PaymentConfirmed(provider, outcome string) {
	PaymentConfirmationsTotal.WithLabelValues(provider, outcome).Inc()
}

// RateLimited records a request rejected by the grading limiter.
func RateLimited() {
	RateLimitedTotal.Inc()
}

// Package ai grades essays with a large language model.
//
// Providers (openai, anthropic, mock) share the prompt builder and the
// output parser in this package, so switching providers never changes what
// a client sees.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/DukeRupert/drphyllis/internal/rubric"
)

// Grader scores one essay answer against a university rubric.
type Grader interface {
	// Grade returns normalized feedback. A failed or malformed call returns
	// an error and must not be charged to the user.
	Grade(ctx context.Context, params GradeParams) (*GradeResult, error)
}

// GradeParams contains everything the prompt needs.
type GradeParams struct {
	University   rubric.University
	QuestionKey  string // canonical key, e.g. "문제1"
	QuestionText string // optional prompt text supplied by the student
	Answer       string
}

// Criterion returns the rubric entry for the question being graded.
func (p GradeParams) Criterion() rubric.Criterion {
	return p.University.Criteria[p.QuestionKey]
}

// GradeResult is the outcome of a successful grading call.
type GradeResult struct {
	Feedback domain.Feedback
	Raw      json.RawMessage // model output as received, for archiving
	Usage    UsageInfo
}

// UsageInfo tracks token usage for metrics and history.
type UsageInfo struct {
	Model        string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// ProviderConfig contains common configuration for AI providers
type ProviderConfig struct {
	MaxRetries     int           // Total attempts, including the first
	RetryBaseDelay time.Duration // Base delay for exponential backoff
	RequestTimeout time.Duration // Timeout for individual requests
}

// WithDefaults fills zero fields.
func (c ProviderConfig) WithDefaults() ProviderConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	return c
}

// Error codes for AI provider operations
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")

	// EAIMalformed indicates the model answered with something that is not
	// a usable grading
	EAIMalformed = errors.New("ai output malformed")
)

// IsRetryable returns true if the error is a transient error that can be retried
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable)
}

// WrapError wraps an error with context about the AI operation
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}

// Retry runs attempt up to cfg.MaxRetries times, backing off exponentially
// between transient failures. attempt must build a fresh request each call.
func Retry[T any](ctx context.Context, cfg ProviderConfig, logger *slog.Logger, attempt func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)

	for n := 1; n <= cfg.MaxRetries; n++ {
		out, err := attempt(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !IsRetryable(err) || n >= cfg.MaxRetries {
			break
		}

		delay := cfg.RetryBaseDelay * time.Duration(1<<(n-1))
		if logger != nil {
			logger.Info("Retrying AI request", "attempt", n, "delay", delay, "error", err)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	return zero, lastErr
}

// ClassifyStatus maps an HTTP status from a model API to a sentinel error.
func ClassifyStatus(statusCode int, detail string) error {
	switch {
	case statusCode == 401 || statusCode == 403:
		return EAIUnauthorized
	case statusCode == 429:
		return EAIRateLimit
	case statusCode == 408 || statusCode == 504:
		return EAITimeout
	case statusCode >= 500:
		return EAIUnavailable
	default:
		return fmt.Errorf("api error (status %d): %s", statusCode, detail)
	}
}

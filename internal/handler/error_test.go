package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/DukeRupert/drphyllis/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) JSONError {
	t.Helper()
	var body JSONError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

// =============================================================================
// Status Mapping Tests
// =============================================================================

func TestErrorResponse_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"invalid", domain.UnknownPlan("op", 12345), http.StatusBadRequest, domain.EINVALID, false},
		{"unauthorized", domain.Unauthorized("op", "no identity"), http.StatusUnauthorized, domain.EUNAUTHORIZED, false},
		{"paywall", domain.QuotaExhausted("op", 3), http.StatusPaymentRequired, domain.EPAYMENT, false},
		{"not found", domain.NotFound("op", "university", "x"), http.StatusNotFound, domain.ENOTFOUND, false},
		{"conflict", domain.Conflict("op", "raced"), http.StatusConflict, domain.ECONFLICT, true},
		{"rate limit", domain.RateLimit("op"), http.StatusTooManyRequests, domain.ERATELIMIT, true},
		{"upstream", domain.Upstream(errors.New("boom"), "op", "engine failed"), http.StatusBadGateway, domain.EUPSTREAM, true},
		{"unavailable", domain.Unavailable(errors.New("db"), "op"), http.StatusServiceUnavailable, domain.EUNAVAILABLE, true},
		{"plain error", errors.New("raw"), http.StatusInternalServerError, domain.EINTERNAL, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ErrorResponse(rec, httptest.NewRequest(http.MethodPost, "/grade", nil), discardLogger(), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, tt.retryable, body.Error.Retryable)
			assert.Nil(t, body.Usage)
		})
	}
}

// =============================================================================
// Error Response Tests - Security Focus
// =============================================================================

func TestErrorResponse_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	err := domain.Internal(errors.New("pq: password authentication failed"), "store.get", "db exploded")
	ErrorResponse(rec, httptest.NewRequest(http.MethodGet, "/usage", nil), discardLogger(), err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), "store.get")
	assert.NotContains(t, rec.Body.String(), "db exploded")
}

func TestValidationErrorResponse_DoesNotExposeOperationName(t *testing.T) {
	ve := domain.NewValidationError("GradingService.Grade", "answer", "Answer is required")

	rec := httptest.NewRecorder()
	ErrorResponse(rec, httptest.NewRequest(http.MethodPost, "/grade", nil), discardLogger(), ve)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "GradingService")

	body := decodeError(t, rec)
	assert.Equal(t, domain.EINVALID, body.Error.Code)
	assert.Equal(t, "Validation failed", body.Error.Message)
	assert.Equal(t, "Answer is required", body.Error.Fields["answer"])
}

func TestErrorResponse_PaywallCarriesUsage(t *testing.T) {
	usage := &domain.Usage{Email: "student@example.com", UsageCount: 3, FreeLimit: 3}
	err := &service.PaywallError{Err: domain.QuotaExhausted("grading.grade", 3), Usage: usage}

	rec := httptest.NewRecorder()
	ErrorResponse(rec, httptest.NewRequest(http.MethodPost, "/grade", nil), discardLogger(), err)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, domain.EPAYMENT, body.Error.Code)
	require.NotNil(t, body.Usage)
	assert.Equal(t, 3, body.Usage.UsageCount)
	assert.Equal(t, 0, body.Usage.FreeRemaining)
}

func TestUnauthorizedResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	UnauthorizedResponse(rec, httptest.NewRequest(http.MethodGet, "/usage", nil), discardLogger())

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, domain.EUNAUTHORIZED, decodeError(t, rec).Error.Code)
}

// =============================================================================
// Request Decoding Tests
// =============================================================================

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Amount int64 `json:"amount"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "ok", body: `{"amount":29000}`},
		{name: "empty", body: ``, wantErr: "empty"},
		{name: "not json", body: `amount=1`, wantErr: "JSON object"},
		{name: "unknown field", body: `{"amount":1,"bonus":5}`, wantErr: "JSON object"},
		{name: "trailing object", body: `{"amount":1}{"amount":2}`, wantErr: "single JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/payment/confirm", strings.NewReader(tt.body))
			var dst payload
			err := decodeJSON(httptest.NewRecorder(), req, &dst)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, int64(29000), dst.Amount)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

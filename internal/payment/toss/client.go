// Package toss confirms payments with the Toss Payments API.
package toss

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/drphyllis/internal/payment"
)

const (
	// DefaultBaseURL is the production API host.
	DefaultBaseURL = "https://api.tosspayments.com"

	confirmPath    = "/v1/payments/confirm"
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

// Config contains configuration for the Toss client
type Config struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

// Client implements payment.Gateway against Toss Payments.
type Client struct {
	config     Config
	authHeader string
	http       *http.Client
	logger     *slog.Logger
}

var _ payment.Gateway = (*Client)(nil)

// New creates a Toss client
func New(config Config, logger *slog.Logger) (*Client, error) {
	if config.SecretKey == "" {
		return nil, fmt.Errorf("toss secret key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	return &Client{
		config:     config,
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(config.SecretKey+":")),
		http:       &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}, nil
}

// Confirm captures an authorized payment.
func (c *Client) Confirm(ctx context.Context, req payment.ConfirmRequest) (*payment.Confirmation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal confirm request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + confirmPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create confirm request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.authHeader)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.OrderID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", payment.ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gwErr := parseError(resp.StatusCode, respBody)
		if c.logger != nil {
			c.logger.Info("Toss confirm rejected",
				"order_id", req.OrderID,
				"status", resp.StatusCode,
				"code", gwErr.Code,
			)
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %v", payment.ErrUnavailable, gwErr)
		}
		return nil, gwErr
	}

	var out confirmResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", payment.ErrUnavailable, err)
	}

	conf := &payment.Confirmation{
		PaymentKey:  out.PaymentKey,
		OrderID:     out.OrderID,
		TotalAmount: out.TotalAmount,
		Status:      out.Status,
		Method:      out.Method,
	}
	if t, err := time.Parse(time.RFC3339, out.ApprovedAt); err == nil {
		conf.ApprovedAt = t
	}
	return conf, nil
}

func parseError(status int, body []byte) *payment.GatewayError {
	var e struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &e)

	gwErr := &payment.GatewayError{StatusCode: status, Code: e.Code, Message: e.Message}
	if gwErr.Code == "" {
		gwErr.Code = payment.DefaultErrorCode
	}
	if gwErr.Message == "" {
		gwErr.Message = http.StatusText(status)
	}
	return gwErr
}

type confirmResponse struct {
	PaymentKey  string `json:"paymentKey"`
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	Method      string `json:"method"`
	TotalAmount int64  `json:"totalAmount"`
	ApprovedAt  string `json:"approvedAt"`
}

// Package anthropic grades essays with the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/drphyllis/internal/ai"
)

const (
	// APIBaseURL is the base URL for the Anthropic API
	APIBaseURL = "https://api.anthropic.com/v1/messages"

	// APIVersion is the Anthropic API version
	APIVersion = "2023-06-01"

	// DefaultModel is the default Claude model to use
	DefaultModel = "claude-3-5-sonnet-20241022"

	maxTokens        = 4096
	maxResponseBytes = 4 << 20
)

// Config contains configuration for the Anthropic provider
type Config struct {
	APIKey         string
	Model          string
	APIURL         string
	ProviderConfig ai.ProviderConfig
}

// Provider implements ai.Grader using Anthropic's Claude API
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

var _ ai.Grader = (*Provider)(nil)

// New creates a new Anthropic grader
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	// Set defaults
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.APIURL == "" {
		config.APIURL = APIBaseURL
	}
	config.ProviderConfig = config.ProviderConfig.WithDefaults()

	return &Provider{
		config: config,
		client: &http.Client{
			Timeout: config.ProviderConfig.RequestTimeout,
		},
		logger: logger,
	}, nil
}

// Grade scores an answer using Claude.
func (p *Provider) Grade(ctx context.Context, params ai.GradeParams) (*ai.GradeResult, error) {
	startTime := time.Now()

	body, err := json.Marshal(apiRequest{
		Model:       p.config.Model,
		MaxTokens:   maxTokens,
		System:      ai.SystemPrompt,
		Temperature: 0.2,
		Messages: []apiMessage{
			{
				Role:    "user",
				Content: []apiContent{{Type: "text", Text: ai.BuildPrompt(params)}},
			},
		},
	})
	if err != nil {
		return nil, ai.WrapError("marshal request", err)
	}

	resp, err := ai.Retry(ctx, p.config.ProviderConfig, p.logger, func(ctx context.Context) (*apiResponse, error) {
		return p.executeRequest(ctx, body)
	})
	if err != nil {
		return nil, ai.WrapError("execute request", err)
	}

	// Get the text content
	var text string
	for _, content := range resp.Content {
		if content.Type == "text" {
			text = content.Text
			break
		}
	}
	if text == "" {
		return nil, ai.WrapError("parse response", fmt.Errorf("%w: no text content", ai.EAIMalformed))
	}

	feedback, raw, err := ai.ParseOutput(text, params.University.Scale, params.Answer)
	if err != nil {
		return nil, ai.WrapError("parse response", err)
	}

	return &ai.GradeResult{
		Feedback: feedback,
		Raw:      raw,
		Usage: ai.UsageInfo{
			Model:        p.config.Model,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			Duration:     time.Since(startTime),
		},
	}, nil
}

// executeRequest executes a single HTTP request
func (p *Provider) executeRequest(ctx context.Context, body []byte) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", APIVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ai.EAITimeout, ctx.Err())
		}
		// Network errors are typically retryable
		return nil, fmt.Errorf("%w: %v", ai.EAIUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", ai.EAIUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(resp.StatusCode, bodyBytes)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", ai.EAIMalformed, err)
	}
	return &apiResp, nil
}

// mapHTTPError maps HTTP status codes to provider errors. Anthropic signals
// overload with a non-standard 529.
func mapHTTPError(statusCode int, body []byte) error {
	var errResp apiErrorResponse
	_ = json.Unmarshal(body, &errResp)

	if errResp.Error.Type == "overloaded_error" {
		return ai.EAIUnavailable
	}
	return ai.ClassifyStatus(statusCode, errResp.Error.Message)
}

// API request/response types

type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	System      string       `json:"system,omitempty"`
	Temperature float64      `json:"temperature"`
	Messages    []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID      string       `json:"id"`
	Type    string       `json:"type"`
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
	Model   string       `json:"model"`
	Usage   apiUsage     `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiErrorResponse struct {
	Type  string   `json:"type"`
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Package openai grades essays with the OpenAI chat completions API.
package openai

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
	// DefaultAPIURL is the chat completions endpoint.
	DefaultAPIURL = "https://api.openai.com/v1/chat/completions"

	// DefaultModel is used when OPENAI_MODEL is unset.
	DefaultModel = "gpt-4o-mini"

	// Temperature keeps scores stable across repeated submissions.
	Temperature = 0.2

	maxResponseBytes = 4 << 20
)

// Config contains configuration for the OpenAI provider
type Config struct {
	APIKey         string
	Model          string
	APIURL         string
	ProviderConfig ai.ProviderConfig
}

// Provider implements ai.Grader using OpenAI chat completions.
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

var _ ai.Grader = (*Provider)(nil)

// New creates a new OpenAI grader
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.APIURL == "" {
		config.APIURL = DefaultAPIURL
	}
	config.ProviderConfig = config.ProviderConfig.WithDefaults()

	return &Provider{
		config: config,
		client: &http.Client{Timeout: config.ProviderConfig.RequestTimeout},
		logger: logger,
	}, nil
}

// Grade scores an answer. Output that is not a valid grading is reported as
// ai.EAIMalformed.
func (p *Provider) Grade(ctx context.Context, params ai.GradeParams) (*ai.GradeResult, error) {
	start := time.Now()

	body, err := json.Marshal(chatRequest{
		Model: p.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: ai.SystemPrompt},
			{Role: "user", Content: ai.BuildPrompt(params)},
		},
		Temperature:    Temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, ai.WrapError("marshal request", err)
	}

	resp, err := ai.Retry(ctx, p.config.ProviderConfig, p.logger, func(ctx context.Context) (*chatResponse, error) {
		return p.execute(ctx, body)
	})
	if err != nil {
		return nil, ai.WrapError("grade", err)
	}

	if len(resp.Choices) == 0 {
		return nil, ai.WrapError("grade", fmt.Errorf("%w: no choices", ai.EAIMalformed))
	}

	feedback, raw, err := ai.ParseOutput(resp.Choices[0].Message.Content, params.University.Scale, params.Answer)
	if err != nil {
		return nil, ai.WrapError("parse response", err)
	}

	return &ai.GradeResult{
		Feedback: feedback,
		Raw:      raw,
		Usage: ai.UsageInfo{
			Model:        p.config.Model,
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			Duration:     time.Since(start),
		},
	}, nil
}

// execute performs one attempt with a fresh request body.
func (p *Provider) execute(ctx context.Context, body []byte) (*chatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ai.EAITimeout, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ai.EAIUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", ai.EAIUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp apiErrorResponse
		_ = json.Unmarshal(respBody, &errResp)
		return nil, ai.ClassifyStatus(resp.StatusCode, errResp.Error.Message)
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", ai.EAIMalformed, err)
	}
	return &out, nil
}

// API request/response types

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

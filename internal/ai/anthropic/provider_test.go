package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DukeRupert/drphyllis/internal/ai"
	"github.com/DukeRupert/drphyllis/internal/rubric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, url string) *Provider {
	t.Helper()
	p, err := New(Config{
		APIKey:         "test-key",
		APIURL:         url,
		ProviderConfig: ai.ProviderConfig{MaxRetries: 1, RetryBaseDelay: time.Millisecond},
	}, nil)
	require.NoError(t, err)
	return p
}

func gradeParams(t *testing.T) ai.GradeParams {
	t.Helper()
	c, err := rubric.Default()
	require.NoError(t, err)
	u, ok := c.Find("sejong")
	require.True(t, ok)
	return ai.GradeParams{University: *u, QuestionKey: "문제1", Answer: "답안입니다."}
}

func TestGrade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, APIVersion, r.Header.Get("anthropic-version"))

		var req apiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, ai.SystemPrompt, req.System)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "```json\n{\"score\": 900, \"overall\": \"좋습니다\"}\n```"}},
			"usage":   map[string]int{"input_tokens": 10, "output_tokens": 20},
		})
	}))
	defer srv.Close()

	res, err := newTestProvider(t, srv.URL).Grade(context.Background(), gradeParams(t))
	require.NoError(t, err)
	// sejong grades out of 700
	assert.Equal(t, float64(700), res.Feedback.Score)
	assert.Equal(t, "좋습니다", res.Feedback.Overall)
	assert.Len(t, res.Feedback.Edits, 1)
	assert.Equal(t, 20, res.Usage.OutputTokens)
}

func TestGrade_Overloaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer srv.Close()

	_, err := newTestProvider(t, srv.URL).Grade(context.Background(), gradeParams(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ai.EAIUnavailable))
}

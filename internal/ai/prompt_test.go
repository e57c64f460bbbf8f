package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DukeRupert/drphyllis/internal/rubric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams(t *testing.T) GradeParams {
	t.Helper()
	c, err := rubric.Default()
	require.NoError(t, err)
	u, ok := c.Find("konkuk")
	require.True(t, ok)
	return GradeParams{
		University:   *u,
		QuestionKey:  "문제1",
		QuestionText: "제시문을 요약하시오.",
		Answer:       "학생 답안 본문",
	}
}

func TestBuildPrompt(t *testing.T) {
	p := testParams(t)
	prompt := BuildPrompt(p)

	assert.Contains(t, prompt, "당신은 한국 대학 논술 첨삭 전문가입니다.")
	assert.Contains(t, prompt, "대학: 건국대 (slug: konkuk)")
	assert.Contains(t, prompt, "(만점 1000)")
	assert.Contains(t, prompt, "문항: 문제1")
	assert.Contains(t, prompt, "문제 지문:\n제시문을 요약하시오.")
	assert.Contains(t, prompt, "---- 수험생 답안 ----\n학생 답안 본문")
	assert.Contains(t, prompt, `"score": number(0~1000)`)
	assert.Equal(t, MinEdits, strings.Count(prompt, `{ "original": string, "revision": string }`))
	assert.Contains(t, prompt, "- JSON만 출력.")
}

func TestBuildPrompt_OmitsEmptyOptionalSections(t *testing.T) {
	p := testParams(t)
	p.QuestionText = "  "
	p.University.Bonus = ""

	prompt := BuildPrompt(p)
	assert.NotContains(t, prompt, "문제 지문:")
	assert.NotContains(t, prompt, "보너스 고려 사항")
}

func TestRetry(t *testing.T) {
	cfg := ProviderConfig{MaxRetries: 3, RetryBaseDelay: time.Millisecond}

	t.Run("retries transient errors", func(t *testing.T) {
		calls := 0
		out, err := Retry(context.Background(), cfg, nil, func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", EAIUnavailable
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		calls := 0
		_, err := Retry(context.Background(), cfg, nil, func(ctx context.Context) (string, error) {
			calls++
			return "", EAIUnauthorized
		})
		assert.True(t, errors.Is(err, EAIUnauthorized))
		assert.Equal(t, 1, calls)
	})

	t.Run("single attempt by default", func(t *testing.T) {
		calls := 0
		_, err := Retry(context.Background(), ProviderConfig{}.WithDefaults(), nil, func(ctx context.Context) (int, error) {
			calls++
			return 0, EAIRateLimit
		})
		assert.True(t, errors.Is(err, EAIRateLimit))
		assert.Equal(t, 1, calls)
	})
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, EAIUnauthorized, ClassifyStatus(401, ""))
	assert.Equal(t, EAIRateLimit, ClassifyStatus(429, ""))
	assert.Equal(t, EAITimeout, ClassifyStatus(504, ""))
	assert.Equal(t, EAIUnavailable, ClassifyStatus(503, ""))
	assert.False(t, IsRetryable(ClassifyStatus(400, "bad")))
}

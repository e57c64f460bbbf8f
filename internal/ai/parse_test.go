package ai

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutput(t *testing.T) {
	const answer = "환경 문제는 중요하다. 그러므로 대책이 필요하다."

	tests := []struct {
		name      string
		content   string
		scale     int
		wantScore float64
		wantBonus float64
		wantRat   []string
		wantEdits int
	}{
		{
			name:      "well formed",
			content:   `{"score": 82, "bonus": 3, "rationale": ["a", "b"], "evidence": ["e"], "overall": "좋음", "edits": [{"original": "x", "revision": "y"}]}`,
			scale:     100,
			wantScore: 82,
			wantBonus: 3,
			wantRat:   []string{"a", "b"},
			wantEdits: 1,
		},
		{
			name:      "score above scale is clamped",
			content:   `{"score": 1200}`,
			scale:     1000,
			wantScore: 1000,
			wantRat:   []string{},
			wantEdits: 1,
		},
		{
			name:      "negative score is clamped",
			content:   `{"score": -5}`,
			scale:     100,
			wantScore: 0,
			wantRat:   []string{},
			wantEdits: 1,
		},
		{
			name:      "single rationale is wrapped",
			content:   `{"score": 50, "rationale": "근거 하나"}`,
			scale:     100,
			wantScore: 50,
			wantRat:   []string{"근거 하나"},
			wantEdits: 1,
		},
		{
			name:      "string bonus is parsed",
			content:   `{"score": 50, "bonus": "2.5"}`,
			scale:     100,
			wantScore: 50,
			wantBonus: 2.5,
			wantRat:   []string{},
			wantEdits: 1,
		},
		{
			name:      "incomplete edits are dropped",
			content:   `{"score": 70, "edits": [{"original": "x"}, {"original": "a", "revision": "b"}, {"revision": "z"}]}`,
			scale:     100,
			wantScore: 70,
			wantRat:   []string{},
			wantEdits: 1,
		},
		{
			name:      "fenced output",
			content:   "```json\n{\"score\": 40}\n```",
			scale:     100,
			wantScore: 40,
			wantRat:   []string{},
			wantEdits: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb, raw, err := ParseOutput(tt.content, tt.scale, answer)
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, fb.Score)
			assert.Equal(t, tt.wantBonus, fb.Bonus)
			assert.Equal(t, tt.wantRat, fb.Rationale)
			assert.Len(t, fb.Edits, tt.wantEdits)
			assert.NotNil(t, fb.Evidence)
			assert.NotEmpty(t, raw)
		})
	}
}

func TestParseOutput_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not json", content: "죄송합니다, 채점할 수 없습니다."},
		{name: "missing score", content: `{"overall": "좋음"}`},
		{name: "score not numeric", content: `{"score": "high"}`},
		{name: "edits not a list", content: `{"score": 10, "edits": "none"}`},
		{name: "truncated", content: `{"score": 10, "edits": [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseOutput(tt.content, 100, "답안")
			require.Error(t, err)
			assert.True(t, errors.Is(err, EAIMalformed))
		})
	}
}

func TestFallbackEdit(t *testing.T) {
	e := FallbackEdit("  첫 문장입니다! 두 번째 문장.")
	assert.Equal(t, "첫 문장입니다", e.Original)
	assert.True(t, strings.HasPrefix(e.Revision, "첫 문장입니다 — "))

	long := FallbackEdit(strings.Repeat("가", 300))
	assert.Equal(t, 120, len([]rune(long.Original)))

	empty := FallbackEdit(".")
	assert.Equal(t, "원문 예시", empty.Original)
}

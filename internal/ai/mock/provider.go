// Package mock provides a deterministic grader for tests and local development.
package mock

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/drphyllis/internal/ai"
)

// Model is reported as the model name of canned gradings.
const Model = "mock-grader-v1"

// Provider is a mock grader for testing and development
type Provider struct {
	logger *slog.Logger

	mu sync.Mutex

	// Configurable responses for testing
	Response *ai.GradeResult
	Error    error

	// Output, when set, is fed through the real parser instead of the canned
	// grading.
	Output string

	// Call tracking for testing
	GradeCalls int
	LastParams ai.GradeParams
}

var _ ai.Grader = (*Provider)(nil)

// New creates a new mock grader
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
	}
}

// Grade returns a canned grading scaled to the university's rubric.
func (p *Provider) Grade(ctx context.Context, params ai.GradeParams) (*ai.GradeResult, error) {
	p.mu.Lock()
	p.GradeCalls++
	p.LastParams = params
	resp, gradeErr, output := p.Response, p.Error, p.Output
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, ai.WrapError("grade", ai.EAITimeout)
	}

	// If a custom response or error is set, use it
	if gradeErr != nil {
		return nil, gradeErr
	}
	if resp != nil {
		return resp, nil
	}

	if output == "" {
		output = cannedOutput(params.University.Scale)
	}
	feedback, raw, err := ai.ParseOutput(output, params.University.Scale, params.Answer)
	if err != nil {
		return nil, ai.WrapError("parse response", err)
	}

	if p.logger != nil {
		p.logger.Debug("mock grading", "university", params.University.Slug, "question", params.QuestionKey)
	}

	return &ai.GradeResult{
		Feedback: feedback,
		Raw:      raw,
		Usage: ai.UsageInfo{
			Model:        Model,
			InputTokens:  1200,
			OutputTokens: 800,
			Duration:     250 * time.Millisecond,
		},
	}, nil
}

// Calls returns how many times Grade has run.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.GradeCalls
}

// Reset clears call counters and custom responses for testing
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GradeCalls = 0
	p.LastParams = ai.GradeParams{}
	p.Response = nil
	p.Error = nil
	p.Output = ""
}

func cannedOutput(scale int) string {
	out := map[string]any{
		"score": float64(scale*78) / 100,
		"bonus": 0,
		"rationale": []string{
			"제시문의 핵심 논지를 정확히 파악하였습니다.",
			"비교 기준이 명확하지 않아 논증의 설득력이 다소 약합니다.",
		},
		"evidence": []string{"두 번째 문단의 사례 제시"},
		"overall":  "전반적으로 구조가 안정적이며 요약이 정확합니다. 다만 비교의 기준을 먼저 밝히면 논리가 더욱 선명해집니다. 결론에서 자신의 견해를 한 문장으로 압축해 보십시오.",
		"edits": []map[string]string{
			{"original": "이 글은 중요하다.", "revision": "본 제시문은 논의의 출발점으로서 핵심적 의의를 지닌다."},
			{"original": "그래서 문제가 생긴다.", "revision": "이로 인해 구조적 문제가 필연적으로 파생된다."},
			{"original": "두 입장은 다르다.", "revision": "두 입장은 전제와 귀결의 측면에서 뚜렷한 대비를 이룬다."},
			{"original": "예를 들면 이렇다.", "revision": "구체적 사례를 통해 이를 실증적으로 확인할 수 있다."},
			{"original": "결론적으로 좋다.", "revision": "결론적으로 이 관점은 현실적 타당성을 확보한다."},
		},
	}
	b, _ := json.Marshal(out)
	return string(b)
}

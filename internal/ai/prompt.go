package ai

import (
	"fmt"
	"strconv"
	"strings"
)

// SystemPrompt frames the model as a grader.
const SystemPrompt = "You are a strict but fair Korean university essay grader."

// MinEdits is the number of sentence rewrites the prompt asks for.
const MinEdits = 5

// BuildPrompt renders the grading instructions for one answer.
func BuildPrompt(p GradeParams) string {
	u := p.University
	c := p.Criterion()

	lines := []string{
		"당신은 한국 대학 논술 첨삭 전문가입니다.",
		"점수와 평가 근거를 제시하세요.",
		"첨삭 문장은 반드시 5개 이상 제시하며, 고급 어휘력과 논리적 연결어를 활용해 원문보다 학술적으로 세련되게 수정하세요.",
		"총평(Overall)은 3~4문장으로 작성하고, 마지막에는 학생이 바로 적용할 수 있는 글쓰기 전략 1가지를 제안하세요.",
		fmt.Sprintf("대학: %s (slug: %s)", u.Name, u.Slug),
		fmt.Sprintf("평가 체계: %s (만점 %d)", u.GradingType, u.Scale),
		"문항: " + p.QuestionKey,
		"문항 배점 비율: " + formatWeight(c.Weight),
		"문항 평가 포인트: " + c.Desc,
	}
	if u.Bonus != "" {
		lines = append(lines, "보너스 고려 사항(참고): "+u.Bonus)
	}
	if q := strings.TrimSpace(p.QuestionText); q != "" {
		lines = append(lines, "문제 지문:\n"+q)
	}
	lines = append(lines,
		"---- 수험생 답안 ----\n"+p.Answer+"\n---------------------",
		outputFormat(u.Scale),
		"규칙:",
		"- JSON만 출력.",
		"- edits 배열은 반드시 5개 이상 포함.",
		"- revision은 고급 어휘와 학술적 표현을 사용.",
	)

	return strings.Join(lines, "\n\n")
}

func outputFormat(scale int) string {
	var b strings.Builder
	b.WriteString("출력 형식(JSON): {\n")
	fmt.Fprintf(&b, "  \"score\": number(0~%d),\n", scale)
	b.WriteString("  \"bonus\": number,\n")
	b.WriteString("  \"rationale\": string[],\n")
	b.WriteString("  \"evidence\": string[],\n")
	b.WriteString("  \"overall\": string,\n")
	b.WriteString("  \"edits\": [\n")
	for i := 0; i < MinEdits; i++ {
		b.WriteString("    { \"original\": string, \"revision\": string }")
		if i < MinEdits-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("  ]\n}")
	return b.String()
}

func formatWeight(w float64) string {
	if w <= 0 {
		return "—"
	}
	return strconv.FormatFloat(w, 'f', -1, 64) + "%"
}

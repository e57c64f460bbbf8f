package ai

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed output_schema.json
var outputSchemaJSON []byte

const (
	fallbackOriginal    = "원문 예시"
	fallbackRevisionTag = " — 핵심 논지와 비교근거(자료·통계·사례)를 한 문장으로 명확히 덧붙여 논리적 인과를 드러냅니다."
	fallbackMaxRunes    = 120
)

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func outputSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("grading.json", bytes.NewReader(outputSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("grading.json")
	})
	return schema, schemaErr
}

// ParseOutput validates raw model output and normalizes it into feedback.
// The returned raw message is the JSON object that was extracted.
func ParseOutput(content string, scale int, answer string) (domain.Feedback, json.RawMessage, error) {
	raw := extractObject(content)
	if raw == nil {
		return domain.Feedback{}, nil, fmt.Errorf("%w: no JSON object in output", EAIMalformed)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return domain.Feedback{}, nil, fmt.Errorf("%w: %v", EAIMalformed, err)
	}

	s, err := outputSchema()
	if err != nil {
		return domain.Feedback{}, nil, fmt.Errorf("compile output schema: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return domain.Feedback{}, nil, fmt.Errorf("%w: %v", EAIMalformed, err)
	}

	obj := doc.(map[string]any)
	fb := domain.Feedback{
		Rationale: stringList(obj["rationale"]),
		Evidence:  []string{},
		Overall:   asString(obj["overall"]),
	}
	if items, ok := obj["evidence"].([]any); ok {
		fb.Evidence = stringList(items)
	}

	score, _ := asFloat(obj["score"])
	fb.Score = math.Max(0, math.Min(float64(scale), score))
	if bonus, ok := asFloat(obj["bonus"]); ok {
		fb.Bonus = bonus
	}

	if items, ok := obj["edits"].([]any); ok {
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			e := domain.Edit{Original: asString(m["original"]), Revision: asString(m["revision"])}
			if e.Original != "" && e.Revision != "" {
				fb.Edits = append(fb.Edits, e)
			}
		}
	}
	if len(fb.Edits) == 0 {
		fb.Edits = []domain.Edit{FallbackEdit(answer)}
	}

	return fb, json.RawMessage(raw), nil
}

// FallbackEdit builds a single suggestion from the first sentence of the
// answer, used when the model returned no usable edits.
func FallbackEdit(answer string) domain.Edit {
	sentence := answer
	if i := strings.IndexAny(answer, ".!?。\n"); i >= 0 {
		sentence = answer[:i]
	}
	sentence = strings.TrimSpace(sentence)
	if runes := []rune(sentence); len(runes) > fallbackMaxRunes {
		sentence = string(runes[:fallbackMaxRunes])
	}
	if sentence == "" {
		sentence = fallbackOriginal
	}

	return domain.Edit{
		Original: sentence,
		Revision: sentence + fallbackRevisionTag,
	}
}

// extractObject returns the outermost {...} span, tolerating code fences or
// prose around it.
func extractObject(content string) []byte {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return nil
	}
	return []byte(content[start : end+1])
}

func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, asString(item))
		}
		return out
	default:
		return []string{asString(t)}
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func asFloat(v any) (float64, bool) {
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	case float64:
		f = t
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

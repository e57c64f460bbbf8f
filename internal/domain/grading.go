package domain

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxAnswerRunes bounds the essay length accepted for grading.
const MaxAnswerRunes = 20000

// GradeRequest is a student's submission.
type GradeRequest struct {
	University   string `json:"university"`
	QuestionID   string `json:"questionId"`
	Answer       string `json:"answer"`
	QuestionText string `json:"questionText,omitempty"`
}

// Validate checks required fields before any quota logic runs.
func (r GradeRequest) Validate() error {
	const op = "grading.validate"

	var ve *ValidationError
	add := func(field, msg string) {
		if ve == nil {
			ve = NewValidationError(op, field, msg)
			return
		}
		ve.Fields[field] = msg
	}

	if strings.TrimSpace(r.University) == "" {
		add("university", "University is required")
	}
	if strings.TrimSpace(r.QuestionID) == "" {
		add("questionId", "Question is required")
	}
	if strings.TrimSpace(r.Answer) == "" {
		add("answer", "Answer is required")
	} else if utf8.RuneCountInString(r.Answer) > MaxAnswerRunes {
		add("answer", "Answer is too long")
	}

	if ve != nil {
		return ve
	}
	return nil
}

// Edit is one suggested sentence rewrite.
type Edit struct {
	Original string `json:"original"`
	Revision string `json:"revision"`
}

// Feedback is the normalized grading produced by the grading engine.
type Feedback struct {
	Score     float64  `json:"score"`
	Bonus     float64  `json:"bonus"`
	Rationale []string `json:"rationale"`
	Evidence  []string `json:"evidence"`
	Overall   string   `json:"overall"`
	Edits     []Edit   `json:"edits"`
}

// GradeResponse is returned by a successful grading.
type GradeResponse struct {
	ID         uuid.UUID `json:"id"`
	University string    `json:"university"`
	QuestionID string    `json:"questionId"`
	Scale      int       `json:"scale"`
	Feedback
	Model         string `json:"model"`
	Bucket        Bucket `json:"bucket"`
	Usage         *Usage `json:"usage"`
	UsageRecorded bool   `json:"usageRecorded"`
	Warning       string `json:"warning,omitempty"`
}

// WarningUsageNotRecorded marks a grading whose quota commit failed.
const WarningUsageNotRecorded = "usage_not_recorded"

// GradingRecord is a row of grading history.
type GradingRecord struct {
	ID           uuid.UUID
	Email        string
	University   string
	QuestionID   string
	Score        float64
	Scale        int
	Bucket       Bucket
	Model        string
	InputTokens  int
	OutputTokens int
	Result       json.RawMessage
	ArchiveKey   string
	CreatedAt    time.Time
}

// Package service contains the business logic layer.
//
// This file implements the grading service. A grading is only charged after
// the engine returned a well-formed result; a failed or timed-out call costs
// the student nothing.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/drphyllis/internal/ai"
	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/DukeRupert/drphyllis/internal/metrics"
	"github.com/DukeRupert/drphyllis/internal/rubric"
	"github.com/DukeRupert/drphyllis/internal/store"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultHistoryLimit is the number of gradings listed when none is asked for.
	DefaultHistoryLimit = 20

	// MaxHistoryLimit caps a single history page.
	MaxHistoryLimit = 100
)

// =============================================================================
// Interface Definition
// =============================================================================

// GradingService defines operations for grading essays.
type GradingService interface {
	// Grade evaluates the caller's quota, grades the answer and commits one
	// unit of usage. A denied request returns a *PaywallError.
	Grade(ctx context.Context, email string, req domain.GradeRequest) (*domain.GradeResponse, error)

	// History returns the caller's most recent gradings, newest first.
	History(ctx context.Context, email string, limit int) ([]domain.GradingRecord, error)

	// Grading returns one of the caller's gradings together with its
	// archived document, if one was stored.
	Grading(ctx context.Context, email string, id uuid.UUID) (*GradingDetail, error)

	// Universities returns the rubric catalog.
	Universities() []rubric.University
}

// GradingDetail is a stored grading with its archived document. Document is
// nil when archiving is disabled or the document could not be read.
type GradingDetail struct {
	Record   domain.GradingRecord
	Document *ArchiveDocument
}

// PaywallError is returned when no bucket can fund a grading. It carries the
// usage the client shows next to the purchase prompt.
type PaywallError struct {
	Err   *domain.Error
	Usage *domain.Usage
}

func (e *PaywallError) Error() string {
	return e.Err.Error()
}

func (e *PaywallError) Unwrap() error {
	return e.Err
}

// GradingConfig configures the grading service.
type GradingConfig struct {
	Provider string        // grading engine name, for metrics
	Timeout  time.Duration // bound on one grading call, retries included
}

// =============================================================================
// Implementation
// =============================================================================

type gradingService struct {
	entitlements EntitlementService
	grader       ai.Grader
	catalog      *rubric.Catalog
	store        store.Store
	archiver     *Archiver
	config       GradingConfig
	logger       *slog.Logger
	now          func() time.Time
}

// NewGradingService creates a new GradingService.
func NewGradingService(
	entitlements EntitlementService,
	grader ai.Grader,
	catalog *rubric.Catalog,
	st store.Store,
	archiver *Archiver,
	config GradingConfig,
	logger *slog.Logger,
) GradingService {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &gradingService{
		entitlements: entitlements,
		grader:       grader,
		catalog:      catalog,
		store:        st,
		archiver:     archiver,
		config:       config,
		logger:       logger,
		now:          time.Now,
	}
}

// Grade evaluates, grades and commits one answer.
func (s *gradingService) Grade(ctx context.Context, email string, req domain.GradeRequest) (*domain.GradeResponse, error) {
	const op = "grading.grade"

	if err := req.Validate(); err != nil {
		return nil, err
	}
	email = domain.NormalizeEmail(email)

	university, ok := s.catalog.Find(req.University)
	if !ok {
		return nil, domain.NotFound(op, "university", req.University)
	}
	questionKey, ok := university.QuestionKey(req.QuestionID)
	if !ok {
		return nil, domain.NotFound(op, "question", req.QuestionID)
	}

	e, decision, err := s.entitlements.Evaluate(ctx, email)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		metrics.QuotaDenied()
		s.logger.Info("Quota exhausted", "email", email, "university", university.Slug)
		return nil, &PaywallError{
			Err:   domain.QuotaExhausted(op, s.entitlements.Policy().FreeLimit),
			Usage: domain.UsageOf(e, s.entitlements.Policy().FreeLimit),
		}
	}

	params := ai.GradeParams{
		University:   *university,
		QuestionKey:  questionKey,
		QuestionText: norm.NFC.String(req.QuestionText),
		Answer:       norm.NFC.String(req.Answer),
	}
	result, err := s.callGrader(ctx, params)
	if err != nil {
		return nil, err
	}

	// The student has their grading now; a client disconnect must not skip
	// the debit.
	commitCtx := context.WithoutCancel(ctx)

	resp := &domain.GradeResponse{
		ID:         uuid.New(),
		University: university.Slug,
		QuestionID: questionKey,
		Scale:      university.Scale,
		Feedback:   result.Feedback,
		Model:      result.Usage.Model,
	}

	committed, bucket, commitErr := s.commit(commitCtx, email, decision.Bucket)
	if commitErr != nil {
		reason := metrics.ReasonStore
		if domain.ErrorCode(commitErr) == domain.EPAYMENT {
			reason = metrics.ReasonExhausted
		}
		metrics.CommitFailed(reason)
		s.logger.Error("Grading commit failed",
			"email", email,
			"bucket", decision.Bucket,
			"reason", reason,
			"error", commitErr,
		)
		resp.UsageRecorded = false
		resp.Warning = domain.WarningUsageNotRecorded
		resp.Usage = domain.UsageOf(e, s.entitlements.Policy().FreeLimit)
	} else {
		resp.UsageRecorded = true
		resp.Bucket = bucket
		resp.Usage = domain.UsageOf(committed, s.entitlements.Policy().FreeLimit)
	}

	s.record(commitCtx, email, req, params, result, resp)

	s.logger.Info("Essay graded",
		"email", email,
		"university", university.Slug,
		"question", questionKey,
		"score", resp.Score,
		"bucket", resp.Bucket,
		"usage_recorded", resp.UsageRecorded,
	)
	return resp, nil
}

// History returns the caller's most recent gradings.
func (s *gradingService) History(ctx context.Context, email string, limit int) ([]domain.GradingRecord, error) {
	const op = "grading.history"

	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, domain.Unauthorized(op, "a verified email is required")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	records, err := s.store.ListGradings(ctx, email, limit)
	if err != nil {
		s.logger.Error("Failed to list gradings", "email", email, "error", err)
		return nil, domain.Unavailable(err, op)
	}
	return records, nil
}

// Grading returns one stored grading. A missing or unreadable archive does
// not fail the request.
func (s *gradingService) Grading(ctx context.Context, email string, id uuid.UUID) (*GradingDetail, error) {
	const op = "grading.get"

	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, domain.Unauthorized(op, "a verified email is required")
	}

	rec, err := s.store.GetGrading(ctx, email, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, domain.NotFound(op, "grading", id.String())
		}
		s.logger.Error("Failed to load grading", "email", email, "id", id, "error", err)
		return nil, domain.Unavailable(err, op)
	}

	doc, err := s.archiver.Load(ctx, rec.ArchiveKey)
	if err != nil {
		s.logger.Warn("Failed to load grading archive", "id", id, "key", rec.ArchiveKey, "error", err)
	}
	return &GradingDetail{Record: *rec, Document: doc}, nil
}

func (s *gradingService) Universities() []rubric.University {
	return s.catalog.List()
}

// =============================================================================
// Helper Methods
// =============================================================================

func (s *gradingService) callGrader(ctx context.Context, params ai.GradeParams) (*ai.GradeResult, error) {
	const op = "grading.call_engine"

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := s.now()
	result, err := s.grader.Grade(ctx, params)
	duration := time.Since(start)
	if err != nil {
		metrics.AICallFailed(s.config.Provider, duration)
		s.logger.Error("Grading engine failed",
			"provider", s.config.Provider,
			"university", params.University.Slug,
			"duration", duration,
			"error", err,
		)
		if errors.Is(err, ai.EAITimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.Upstream(err, op, "The grading engine timed out. You were not charged; please retry.")
		}
		return nil, domain.Upstream(err, op, "The grading engine is unavailable. You were not charged; please retry.")
	}

	metrics.AICallSucceeded(s.config.Provider, duration, result.Usage.InputTokens, result.Usage.OutputTokens)
	return result, nil
}

// commit debits the decided bucket. If a concurrent request drained it, the
// record is evaluated once more and the next eligible bucket is tried.
func (s *gradingService) commit(ctx context.Context, email string, bucket domain.Bucket) (*domain.Entitlement, domain.Bucket, error) {
	e, err := s.entitlements.Commit(ctx, email, bucket)
	if err == nil {
		return e, bucket, nil
	}
	if domain.ErrorCode(err) != domain.EPAYMENT {
		return nil, "", err
	}

	_, decision, evalErr := s.entitlements.Evaluate(ctx, email)
	if evalErr != nil {
		return nil, "", evalErr
	}
	if !decision.Allowed {
		return nil, "", err
	}
	s.logger.Info("Bucket drained concurrently, retrying commit",
		"email", email,
		"from", bucket,
		"to", decision.Bucket,
	)
	e, err = s.entitlements.Commit(ctx, email, decision.Bucket)
	if err != nil {
		return nil, "", err
	}
	return e, decision.Bucket, nil
}

// record archives the grading and appends it to history. Both are best
// effort: the response has already been earned.
func (s *gradingService) record(ctx context.Context, email string, req domain.GradeRequest, params ai.GradeParams, result *ai.GradeResult, resp *domain.GradeResponse) {
	now := s.now().UTC()

	archiveKey, err := s.archiver.Save(ctx, email, ArchiveDocument{
		ID:           resp.ID,
		University:   resp.University,
		QuestionID:   resp.QuestionID,
		QuestionText: params.QuestionText,
		Answer:       params.Answer,
		Scale:        resp.Scale,
		Feedback:     resp.Feedback,
		ModelOutput:  result.Raw,
		Model:        resp.Model,
		Bucket:       resp.Bucket,
		CreatedAt:    now,
	})
	if err != nil {
		s.logger.Warn("Failed to archive grading", "id", resp.ID, "error", err)
	}

	feedback, err := json.Marshal(resp.Feedback)
	if err != nil {
		s.logger.Warn("Failed to encode grading feedback", "id", resp.ID, "error", err)
		feedback = nil
	}

	err = s.store.RecordGrading(ctx, &domain.GradingRecord{
		ID:           resp.ID,
		Email:        email,
		University:   resp.University,
		QuestionID:   resp.QuestionID,
		Score:        resp.Score,
		Scale:        resp.Scale,
		Bucket:       resp.Bucket,
		Model:        resp.Model,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		Result:       feedback,
		ArchiveKey:   archiveKey,
		CreatedAt:    now,
	})
	if err != nil {
		s.logger.Warn("Failed to record grading history", "id", resp.ID, "university", req.University, "error", err)
		// No history row points at the archive, so nothing could read it back.
		if err := s.archiver.Delete(ctx, archiveKey); err != nil {
			s.logger.Warn("Failed to remove orphaned archive", "key", archiveKey, "error", err)
		}
	}
}

// Package store persists entitlement records, the payment ledger and grading
// history.
//
// This package defines a Store interface with implementations for:
// - Postgres: database/sql over the pgx driver, for production
// - Memory: a mutex-guarded map, for tests and local development
//
// Every mutation that moves a counter is a single guarded operation so that
// concurrent requests for the same email can never double-spend a ticket or
// double-credit an order.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Store is the entitlement store.
type Store interface {
	// Get returns the record for email, or ErrNotFound.
	Get(ctx context.Context, email string) (*domain.Entitlement, error)

	// CreateDefault inserts a fresh record. Returns ErrConflict if a record
	// for the email already exists.
	CreateDefault(ctx context.Context, e *domain.Entitlement) (*domain.Entitlement, error)

	// Update applies a partial update. Returns ErrNotFound if absent.
	Update(ctx context.Context, email string, u domain.EntitlementUpdate) (*domain.Entitlement, error)

	// Consume debits one unit from bucket if, and only if, the bucket still
	// has something left. Returns ErrExhausted when the guard fails.
	Consume(ctx context.Context, email string, bucket domain.Bucket, freeLimit int) (*domain.Entitlement, error)

	// ResetWindow re-arms a lapsed free-trial window. It only writes when the
	// stored window ended before now, and returns the current record either way.
	ResetWindow(ctx context.Context, email string, now, windowEnd time.Time, clearPaid bool) (*domain.Entitlement, error)

	// Credit records the payment and credits its tickets atomically, at most
	// once per order id. applied is false when the order was already credited.
	Credit(ctx context.Context, c domain.Credit) (e *domain.Entitlement, applied bool, err error)

	// GetPayment returns the ledger row for an order id, or ErrNotFound.
	GetPayment(ctx context.Context, orderID string) (*domain.Payment, error)

	// RecordGrading appends a row of grading history.
	RecordGrading(ctx context.Context, g *domain.GradingRecord) error

	// ListGradings returns the most recent gradings for email, newest first.
	ListGradings(ctx context.Context, email string, limit int) ([]domain.GradingRecord, error)

	// GetGrading returns one grading owned by email, or ErrNotFound.
	GetGrading(ctx context.Context, email string, id uuid.UUID) (*domain.GradingRecord, error)
}

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrNotFound is returned when no record exists for the key.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a create races an existing row, or an
	// order id is replayed for a different email.
	ErrConflict = errors.New("record conflict")

	// ErrExhausted is returned when a guarded debit finds nothing to take.
	ErrExhausted = errors.New("bucket exhausted")
)

// Error wraps a backend failure with the operation that failed.
type Error struct {
	Op    string
	Email string
	Err   error
}

func (e *Error) Error() string {
	if e.Email != "" {
		return fmt.Sprintf("store %s %q: %v", e.Op, e.Email, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error indicates a lost race or replay.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsExhausted returns true if a guarded debit found the bucket empty.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrExhausted)
}

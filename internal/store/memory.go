package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/google/uuid"
)

// Memory implements Store in process memory. A single mutex serializes all
// mutations, which gives the same guarantees as the guarded SQL in Postgres.
type Memory struct {
	mu           sync.Mutex
	entitlements map[string]domain.Entitlement
	payments     map[string]domain.Payment
	gradings     []domain.GradingRecord
	now          func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entitlements: make(map[string]domain.Entitlement),
		payments:     make(map[string]domain.Payment),
		now:          time.Now,
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Get(ctx context.Context, email string) (*domain.Entitlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "Get", Email: email, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entitlements[email]
	if !ok {
		return nil, &Error{Op: "Get", Email: email, Err: ErrNotFound}
	}
	return &e, nil
}

func (m *Memory) CreateDefault(ctx context.Context, e *domain.Entitlement) (*domain.Entitlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "CreateDefault", Email: e.Email, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entitlements[e.Email]; exists {
		return nil, &Error{Op: "CreateDefault", Email: e.Email, Err: ErrConflict}
	}
	row := *e
	m.entitlements[e.Email] = row
	return &row, nil
}

func (m *Memory) Update(ctx context.Context, email string, u domain.EntitlementUpdate) (*domain.Entitlement, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return m.mutate(ctx, "Update", email, func(e domain.Entitlement) (domain.Entitlement, error) {
		return u.Apply(e), nil
	})
}

func (m *Memory) Consume(ctx context.Context, email string, bucket domain.Bucket, freeLimit int) (*domain.Entitlement, error) {
	return m.mutate(ctx, "Consume", email, func(e domain.Entitlement) (domain.Entitlement, error) {
		next, ok := domain.Consume(e, bucket, freeLimit)
		if !ok {
			return e, ErrExhausted
		}
		return next, nil
	})
}

func (m *Memory) ResetWindow(ctx context.Context, email string, now, windowEnd time.Time, clearPaid bool) (*domain.Entitlement, error) {
	return m.mutate(ctx, "ResetWindow", email, func(e domain.Entitlement) (domain.Entitlement, error) {
		if !e.FreeWindowEnd.Before(now) {
			return e, nil
		}
		e.FreeUsageCount = 0
		e.FreeWindowEnd = windowEnd
		if clearPaid {
			e.StandardTickets, e.PremiumTickets, e.VIPTickets = 0, 0, 0
			e.PlanType = domain.PlanTypeFree
		}
		return e, nil
	})
}

func (m *Memory) Credit(ctx context.Context, c domain.Credit) (*domain.Entitlement, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, &Error{Op: "Credit", Email: c.Email, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, seen := m.payments[c.OrderID]; seen {
		if p.Email != c.Email {
			return nil, false, &Error{Op: "Credit", Email: c.Email, Err: ErrConflict}
		}
		e := m.entitlements[c.Email]
		return &e, false, nil
	}

	e, ok := m.entitlements[c.Email]
	if !ok {
		e = *domain.NewEntitlement(c.Email, c.Now, c.Policy)
	}
	e = domain.AddTickets(e, c.Plan.Bucket(), c.Quantity)
	e.UpdatedAt = m.now().UTC()
	m.entitlements[c.Email] = e

	m.payments[c.OrderID] = domain.Payment{
		ID:         uuid.New(),
		OrderID:    c.OrderID,
		Email:      c.Email,
		Provider:   c.Provider,
		PaymentKey: c.PaymentKey,
		Amount:     c.Amount,
		Plan:       c.Plan,
		Quantity:   c.Quantity,
		CreatedAt:  m.now().UTC(),
	}
	return &e, true, nil
}

func (m *Memory) GetPayment(ctx context.Context, orderID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[orderID]
	if !ok {
		return nil, &Error{Op: "GetPayment", Err: ErrNotFound}
	}
	return &p, nil
}

func (m *Memory) RecordGrading(ctx context.Context, g *domain.GradingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gradings = append(m.gradings, *g)
	return nil
}

func (m *Memory) ListGradings(ctx context.Context, email string, limit int) ([]domain.GradingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Walk backwards so records with equal timestamps stay newest first.
	var out []domain.GradingRecord
	for i := len(m.gradings) - 1; i >= 0; i-- {
		if g := m.gradings[i]; g.Email == email {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) GetGrading(ctx context.Context, email string, id uuid.UUID) (*domain.GradingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, g := range m.gradings {
		if g.ID == id && g.Email == email {
			return &g, nil
		}
	}
	return nil, &Error{Op: "GetGrading", Email: email, Err: ErrNotFound}
}

// mutate runs fn against the stored record under the lock and saves the
// result unless fn fails.
func (m *Memory) mutate(ctx context.Context, op, email string, fn func(domain.Entitlement) (domain.Entitlement, error)) (*domain.Entitlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: op, Email: email, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entitlements[email]
	if !ok {
		return nil, &Error{Op: op, Email: email, Err: ErrNotFound}
	}
	next, err := fn(e)
	if err != nil {
		return nil, &Error{Op: op, Email: email, Err: err}
	}
	if next != e {
		next.UpdatedAt = m.now().UTC()
	}
	m.entitlements[email] = next
	return &next, nil
}

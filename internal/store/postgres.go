package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// Postgres implements Store on a database/sql handle opened with the pgx
// driver. Counter changes are guarded single statements; Credit runs in one
// transaction keyed on the unique payments.order_id.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle. Migrations must already be
// applied.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

const entitlementColumns = `email, free_usage_count, free_window_end, standard_tickets,
	premium_tickets, vip_tickets, plan_type, usage_expiry_days, created_at, updated_at`

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (p *Postgres) Get(ctx context.Context, email string) (*domain.Entitlement, error) {
	e, err := getEntitlement(ctx, p.db, email)
	if err != nil {
		return nil, &Error{Op: "Get", Email: email, Err: err}
	}
	return e, nil
}

func (p *Postgres) CreateDefault(ctx context.Context, e *domain.Entitlement) (*domain.Entitlement, error) {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO entitlements (`+entitlementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (email) DO NOTHING
		RETURNING `+entitlementColumns,
		e.Email, e.FreeUsageCount, e.FreeWindowEnd, e.StandardTickets,
		e.PremiumTickets, e.VIPTickets, string(e.PlanType), e.UsageExpiryDays,
		e.CreatedAt, e.UpdatedAt,
	)

	created, err := scanEntitlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &Error{Op: "CreateDefault", Email: e.Email, Err: ErrConflict}
	}
	if err != nil {
		return nil, &Error{Op: "CreateDefault", Email: e.Email, Err: err}
	}
	return created, nil
}

func (p *Postgres) Update(ctx context.Context, email string, u domain.EntitlementUpdate) (*domain.Entitlement, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	var (
		sets []string
		args = []any{email}
	)
	set := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(column), len(args)))
	}
	if u.FreeUsageCount != nil {
		set("free_usage_count", *u.FreeUsageCount)
	}
	if u.FreeWindowEnd != nil {
		set("free_window_end", *u.FreeWindowEnd)
	}
	if u.StandardTickets != nil {
		set("standard_tickets", *u.StandardTickets)
	}
	if u.PremiumTickets != nil {
		set("premium_tickets", *u.PremiumTickets)
	}
	if u.VIPTickets != nil {
		set("vip_tickets", *u.VIPTickets)
	}
	if u.PlanType != nil {
		set("plan_type", string(*u.PlanType))
	}
	if u.UsageExpiryDays != nil {
		set("usage_expiry_days", *u.UsageExpiryDays)
	}
	if len(sets) == 0 {
		return p.Get(ctx, email)
	}

	row := p.db.QueryRowContext(ctx, `
		UPDATE entitlements SET `+strings.Join(sets, ", ")+`, updated_at = NOW()
		WHERE email = $1
		RETURNING `+entitlementColumns, args...)

	e, err := scanEntitlement(row)
	if err != nil {
		return nil, &Error{Op: "Update", Email: email, Err: translate(err)}
	}
	return e, nil
}

func (p *Postgres) Consume(ctx context.Context, email string, bucket domain.Bucket, freeLimit int) (*domain.Entitlement, error) {
	var row *sql.Row
	switch {
	case bucket == domain.BucketFree:
		row = p.db.QueryRowContext(ctx, `
			UPDATE entitlements
			SET free_usage_count = free_usage_count + 1, updated_at = NOW()
			WHERE email = $1 AND free_usage_count < $2
			RETURNING `+entitlementColumns, email, freeLimit)
	case bucket.Paid():
		col := pq.QuoteIdentifier(ticketColumn(bucket))
		row = p.db.QueryRowContext(ctx, `
			UPDATE entitlements
			SET `+col+` = `+col+` - 1, updated_at = NOW()
			WHERE email = $1 AND `+col+` > 0
			RETURNING `+entitlementColumns, email)
	default:
		return nil, &Error{Op: "Consume", Email: email, Err: fmt.Errorf("unknown bucket %q", bucket)}
	}

	e, err := scanEntitlement(row)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, &Error{Op: "Consume", Email: email, Err: err}
	}

	// Zero rows is either a missing record or a failed guard.
	if _, getErr := getEntitlement(ctx, p.db, email); getErr != nil {
		return nil, &Error{Op: "Consume", Email: email, Err: getErr}
	}
	return nil, &Error{Op: "Consume", Email: email, Err: ErrExhausted}
}

func (p *Postgres) ResetWindow(ctx context.Context, email string, now, windowEnd time.Time, clearPaid bool) (*domain.Entitlement, error) {
	query := `
		UPDATE entitlements
		SET free_usage_count = 0, free_window_end = $3, updated_at = NOW()`
	if clearPaid {
		query += `, standard_tickets = 0, premium_tickets = 0, vip_tickets = 0, plan_type = 'free'`
	}
	query += `
		WHERE email = $1 AND free_window_end < $2
		RETURNING ` + entitlementColumns

	e, err := scanEntitlement(p.db.QueryRowContext(ctx, query, email, now, windowEnd))
	if errors.Is(err, sql.ErrNoRows) {
		// Already current, possibly reset by a concurrent request.
		return p.Get(ctx, email)
	}
	if err != nil {
		return nil, &Error{Op: "ResetWindow", Email: email, Err: err}
	}
	return e, nil
}

func (p *Postgres) Credit(ctx context.Context, c domain.Credit) (*domain.Entitlement, bool, error) {
	fail := func(err error) (*domain.Entitlement, bool, error) {
		return nil, false, &Error{Op: "Credit", Email: c.Email, Err: err}
	}

	bucket := c.Plan.Bucket()
	if !bucket.Paid() || c.Quantity <= 0 {
		return fail(fmt.Errorf("invalid credit of %d for plan %q", c.Quantity, c.Plan))
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer tx.Rollback() //nolint:errcheck

	fresh := domain.NewEntitlement(c.Email, c.Now, c.Policy)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entitlements (email, free_window_end, usage_expiry_days, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (email) DO NOTHING`,
		fresh.Email, fresh.FreeWindowEnd, fresh.UsageExpiryDays, fresh.CreatedAt,
	); err != nil {
		return fail(err)
	}

	var paymentID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO payments (id, order_id, email, provider, payment_key, amount, plan, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id`,
		uuid.New(), c.OrderID, c.Email, string(c.Provider), c.PaymentKey,
		c.Amount, string(c.Plan), c.Quantity,
	).Scan(&paymentID)

	if errors.Is(err, sql.ErrNoRows) {
		// Replay: the order was credited before.
		var owner string
		if err := tx.QueryRowContext(ctx,
			`SELECT email FROM payments WHERE order_id = $1`, c.OrderID,
		).Scan(&owner); err != nil {
			return fail(err)
		}
		if owner != c.Email {
			return fail(ErrConflict)
		}
		e, err := getEntitlement(ctx, tx, c.Email)
		if err != nil {
			return fail(err)
		}
		if err := tx.Commit(); err != nil {
			return fail(err)
		}
		return e, false, nil
	}
	if err != nil {
		return fail(err)
	}

	col := pq.QuoteIdentifier(ticketColumn(bucket))
	e, err := scanEntitlement(tx.QueryRowContext(ctx, `
		UPDATE entitlements
		SET `+col+` = `+col+` + $2, plan_type = 'paid', updated_at = NOW()
		WHERE email = $1
		RETURNING `+entitlementColumns, c.Email, c.Quantity))
	if err != nil {
		return fail(err)
	}

	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	return e, true, nil
}

func (p *Postgres) GetPayment(ctx context.Context, orderID string) (*domain.Payment, error) {
	var (
		pay            domain.Payment
		provider, plan string
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, order_id, email, provider, payment_key, amount, plan, quantity, created_at
		FROM payments WHERE order_id = $1`, orderID,
	).Scan(&pay.ID, &pay.OrderID, &pay.Email, &provider, &pay.PaymentKey,
		&pay.Amount, &plan, &pay.Quantity, &pay.CreatedAt)
	if err != nil {
		return nil, &Error{Op: "GetPayment", Err: translate(err)}
	}
	pay.Provider = domain.PaymentProvider(provider)
	pay.Plan = domain.Plan(plan)
	return &pay, nil
}

func (p *Postgres) RecordGrading(ctx context.Context, g *domain.GradingRecord) error {
	result := pqtype.NullRawMessage{RawMessage: g.Result, Valid: len(g.Result) > 0}
	archiveKey := sql.NullString{String: g.ArchiveKey, Valid: g.ArchiveKey != ""}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO gradings (id, email, university, question_id, score, scale, bucket,
			model, input_tokens, output_tokens, result, archive_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		g.ID, g.Email, g.University, g.QuestionID, g.Score, g.Scale, string(g.Bucket),
		g.Model, g.InputTokens, g.OutputTokens, result, archiveKey, g.CreatedAt,
	)
	if err != nil {
		return &Error{Op: "RecordGrading", Email: g.Email, Err: err}
	}
	return nil
}

const gradingColumns = `id, email, university, question_id, score, scale, bucket, model,
	input_tokens, output_tokens, result, archive_key, created_at`

func (p *Postgres) ListGradings(ctx context.Context, email string, limit int) ([]domain.GradingRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+gradingColumns+`
		FROM gradings
		WHERE email = $1
		ORDER BY created_at DESC
		LIMIT $2`, email, limit)
	if err != nil {
		return nil, &Error{Op: "ListGradings", Email: email, Err: err}
	}
	defer rows.Close()

	var out []domain.GradingRecord
	for rows.Next() {
		g, err := scanGrading(rows)
		if err != nil {
			return nil, &Error{Op: "ListGradings", Email: email, Err: err}
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "ListGradings", Email: email, Err: err}
	}
	return out, nil
}

func (p *Postgres) GetGrading(ctx context.Context, email string, id uuid.UUID) (*domain.GradingRecord, error) {
	g, err := scanGrading(p.db.QueryRowContext(ctx,
		`SELECT `+gradingColumns+` FROM gradings WHERE id = $1 AND email = $2`, id, email))
	if err != nil {
		return nil, &Error{Op: "GetGrading", Email: email, Err: translate(err)}
	}
	return g, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntitlement(row rowScanner) (*domain.Entitlement, error) {
	var (
		e        domain.Entitlement
		planType string
	)
	err := row.Scan(&e.Email, &e.FreeUsageCount, &e.FreeWindowEnd, &e.StandardTickets,
		&e.PremiumTickets, &e.VIPTickets, &planType, &e.UsageExpiryDays,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.PlanType = domain.PlanType(planType)
	e.FreeWindowEnd = e.FreeWindowEnd.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

func scanGrading(row rowScanner) (*domain.GradingRecord, error) {
	var (
		g          domain.GradingRecord
		bucket     string
		result     pqtype.NullRawMessage
		archiveKey sql.NullString
	)
	err := row.Scan(&g.ID, &g.Email, &g.University, &g.QuestionID, &g.Score,
		&g.Scale, &bucket, &g.Model, &g.InputTokens, &g.OutputTokens,
		&result, &archiveKey, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	g.Bucket = domain.Bucket(bucket)
	if result.Valid {
		g.Result = result.RawMessage
	}
	g.ArchiveKey = archiveKey.String
	g.CreatedAt = g.CreatedAt.UTC()
	return &g, nil
}

func getEntitlement(ctx context.Context, q querier, email string) (*domain.Entitlement, error) {
	e, err := scanEntitlement(q.QueryRowContext(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE email = $1`, email))
	if err != nil {
		return nil, translate(err)
	}
	return e, nil
}

func ticketColumn(b domain.Bucket) string {
	return string(b) + "_tickets"
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "23514": // check_violation
			return fmt.Errorf("%w: %s", ErrExhausted, pgErr.ConstraintName)
		}
	}
	return err
}

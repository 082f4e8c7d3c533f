package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Repository implements aggregate, transaction-log, and finalization storage
// on PostgreSQL. Idempotency relies on the store's unique constraints, CAS on
// a version-conditioned update; there are no application-level locks.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed payments repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetAggregate(ctx context.Context, orgID, bookingID uuid.UUID) (Aggregate, error) {
	var a Aggregate
	err := r.db.QueryRow(ctx, `SELECT id, org_id, booking_id, currency, amount_total, amount_paid, amount_refunded, status, version, created_at, updated_at
FROM booking_payments WHERE org_id=$1 AND booking_id=$2`, orgID, bookingID).
		Scan(&a.ID, &a.OrgID, &a.BookingID, &a.Currency, &a.AmountTotal, &a.AmountPaid, &a.AmountRefunded, &a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Aggregate{}, ErrAggregateNotFound
		}
		return Aggregate{}, err
	}
	return a, nil
}

func (r *Repository) InsertAggregate(ctx context.Context, aggregate Aggregate) (Aggregate, error) {
	_, err := r.db.Exec(ctx, `INSERT INTO booking_payments (id, org_id, booking_id, currency, amount_total, amount_paid, amount_refunded, status, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		aggregate.ID, aggregate.OrgID, aggregate.BookingID, aggregate.Currency,
		aggregate.AmountTotal, aggregate.AmountPaid, aggregate.AmountRefunded,
		aggregate.Status, aggregate.Version, aggregate.CreatedAt, aggregate.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "uq_booking_payments_booking") {
			return Aggregate{}, ErrAggregateExists
		}
		return Aggregate{}, err
	}
	return aggregate, nil
}

func (r *Repository) UpdateAggregateCAS(ctx context.Context, aggregate Aggregate, expectedVersion int64) (bool, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE booking_payments
SET amount_paid=$3, amount_refunded=$4, status=$5, version=$6, updated_at=$7
WHERE id=$1 AND version=$2`,
		aggregate.ID, expectedVersion,
		aggregate.AmountPaid, aggregate.AmountRefunded, aggregate.Status, aggregate.Version, aggregate.UpdatedAt)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *Repository) InsertTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	_, err := r.db.Exec(ctx, `INSERT INTO booking_payment_transactions (id, org_id, booking_id, payment_id, type, provider, amount_minor, currency, occurred_at, request_id, provider_event_id, before_status, after_status, raw, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		t.ID, t.OrgID, t.BookingID, t.PaymentID, t.Type, t.Provider, t.AmountMinor, t.Currency,
		t.OccurredAt, t.RequestID, t.ProviderEventID, nullString(string(t.BeforeStatus)), nullString(string(t.AfterStatus)), t.Raw, t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "uq_booking_payment_tx_request", "uq_booking_payment_tx_event") {
			return Transaction{}, ErrDuplicateTransaction
		}
		return Transaction{}, err
	}
	return t, nil
}

func (r *Repository) FindFinalization(ctx context.Context, provider, eventID string) (*FinalizationRecord, error) {
	var rec FinalizationRecord
	err := r.db.QueryRow(ctx, `SELECT id, org_id, provider, event_id, event_type, payment_intent_id, booking_id, decision, reason, created_at
FROM payment_finalizations WHERE provider=$1 AND event_id=$2`, provider, eventID).
		Scan(&rec.ID, &rec.OrgID, &rec.Provider, &rec.EventID, &rec.EventType, &rec.PaymentIntentID, &rec.BookingID, &rec.Decision, &rec.Reason, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) InsertFinalization(ctx context.Context, rec FinalizationRecord) error {
	_, err := r.db.Exec(ctx, `INSERT INTO payment_finalizations (id, org_id, provider, event_id, event_type, payment_intent_id, booking_id, decision, reason, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.ID, rec.OrgID, rec.Provider, rec.EventID, rec.EventType, rec.PaymentIntentID,
		rec.BookingID, rec.Decision, rec.Reason, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "uq_payment_finalizations_event") {
			return ErrFinalizationExists
		}
		return err
	}
	return nil
}

func (r *Repository) ListAppliedByIntent(ctx context.Context, orgID uuid.UUID, provider, paymentIntentID string) ([]FinalizationRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT id, org_id, provider, event_id, event_type, payment_intent_id, booking_id, decision, reason, created_at
FROM payment_finalizations WHERE org_id=$1 AND provider=$2 AND payment_intent_id=$3 AND decision='applied'
ORDER BY created_at ASC`, orgID, provider, paymentIntentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []FinalizationRecord
	for rows.Next() {
		var rec FinalizationRecord
		if err := rows.Scan(&rec.ID, &rec.OrgID, &rec.Provider, &rec.EventID, &rec.EventType, &rec.PaymentIntentID, &rec.BookingID, &rec.Decision, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Resolve maps an organization role to its finance account, failing closed
// when the mapping is missing.
func (r *Repository) Resolve(ctx context.Context, orgID uuid.UUID, role AccountRole) (uuid.UUID, error) {
	var accountID uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT account_id FROM finance_accounts WHERE org_id=$1 AND role=$2`, orgID, role).
		Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrAccountRoleUnmapped
		}
		return uuid.Nil, err
	}
	return accountID, nil
}

func isUniqueViolation(err error, constraints ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	for _, name := range constraints {
		if pgErr.ConstraintName == name {
			return true
		}
	}
	return false
}

func nullString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

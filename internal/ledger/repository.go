package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roamly/roamly-payments/internal/platform/db"
)

const uniqueViolation = "23505"

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed ledger repository.
func NewRepository(db *pgxpool.Pool) RepositoryPort {
	return &repository{db: db}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *repository) GetBalance(ctx context.Context, orgID, accountID uuid.UUID, currency string) (Balance, error) {
	var b Balance
	err := r.db.QueryRow(ctx, `SELECT org_id, account_id, currency, balance, as_of
FROM account_balances WHERE org_id=$1 AND account_id=$2 AND currency=$3`, orgID, accountID, currency).
		Scan(&b.OrgID, &b.AccountID, &b.Currency, &b.Balance, &b.AsOf)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) FindPosting(ctx context.Context, orgID uuid.UUID, sourceType, sourceID, event, amendID string) (*Posting, error) {
	var p Posting
	err := r.tx.QueryRow(ctx, `SELECT id, org_id, source_type, source_id, event, amend_id, currency, debit_total, credit_total, memo, occurred_at, posted_at, created_by
FROM ledger_postings WHERE org_id=$1 AND source_type=$2 AND source_id=$3 AND event=$4 AND amend_id=$5`,
		orgID, sourceType, sourceID, event, amendID).
		Scan(&p.ID, &p.OrgID, &p.SourceType, &p.SourceID, &p.Event, &p.AmendID, &p.Currency, &p.DebitTotal, &p.CreditTotal, &p.Memo, &p.OccurredAt, &p.PostedAt, &p.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rows, err := r.tx.Query(ctx, `SELECT account_id, direction, amount FROM ledger_entries WHERE posting_id=$1 ORDER BY id ASC`, p.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var line PostingLine
		if err := rows.Scan(&line.AccountID, &line.Direction, &line.Amount); err != nil {
			return nil, err
		}
		p.Lines = append(p.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *txRepository) InsertPosting(ctx context.Context, posting Posting) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_postings (id, org_id, source_type, source_id, event, amend_id, currency, debit_total, credit_total, memo, occurred_at, posted_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		posting.ID, posting.OrgID, posting.SourceType, posting.SourceID, posting.Event, posting.AmendID,
		posting.Currency, toNumeric(posting.DebitTotal), toNumeric(posting.CreditTotal), posting.Memo,
		posting.OccurredAt, posting.PostedAt, posting.CreatedBy)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "uq_ledger_postings_source" {
			return ErrPostingExists
		}
		return err
	}
	return nil
}

func (r *txRepository) InsertEntries(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if _, err := r.tx.Exec(ctx, `INSERT INTO ledger_entries (id, org_id, posting_id, account_id, currency, direction, amount, source_type, source_id, event, memo, occurred_at, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			e.ID, e.OrgID, e.PostingID, e.AccountID, e.Currency, e.Direction, toNumeric(e.Amount),
			e.SourceType, e.SourceID, e.Event, e.Memo, e.OccurredAt, e.PostedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetAccount(ctx context.Context, orgID, accountID uuid.UUID) (Account, error) {
	var a Account
	err := r.tx.QueryRow(ctx, `SELECT id, org_id, type, currency, created_at, updated_at
FROM accounts WHERE org_id=$1 AND id=$2`, orgID, accountID).
		Scan(&a.ID, &a.OrgID, &a.Type, &a.Currency, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) ApplyBalanceDelta(ctx context.Context, orgID, accountID uuid.UUID, currency string, delta float64, asOf time.Time) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO account_balances (org_id, account_id, currency, balance, as_of)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (org_id, account_id, currency)
DO UPDATE SET balance = account_balances.balance + EXCLUDED.balance, as_of = EXCLUDED.as_of`,
		orgID, accountID, currency, toNumeric(delta), asOf)
	return err
}

func (r *txRepository) SumEntries(ctx context.Context, orgID, accountID uuid.UUID, currency string) (float64, float64, error) {
	var debit, credit float64
	err := r.tx.QueryRow(ctx, `SELECT
COALESCE(SUM(amount) FILTER (WHERE direction='DEBIT'), 0),
COALESCE(SUM(amount) FILTER (WHERE direction='CREDIT'), 0)
FROM ledger_entries WHERE org_id=$1 AND account_id=$2 AND currency=$3`, orgID, accountID, currency).
		Scan(&debit, &credit)
	if err != nil {
		return 0, 0, err
	}
	return debit, credit, nil
}

func (r *txRepository) OverwriteBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO account_balances (org_id, account_id, currency, balance, as_of)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (org_id, account_id, currency)
DO UPDATE SET balance = EXCLUDED.balance, as_of = EXCLUDED.as_of`,
		balance.OrgID, balance.AccountID, balance.Currency, toNumeric(balance.Balance), balance.AsOf)
	return err
}

func toNumeric(v float64) any {
	return fmt.Sprintf("%.2f", v)
}

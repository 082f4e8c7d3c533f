package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, orgID, accountID uuid.UUID, currency string) (Balance, error)
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	FindPosting(ctx context.Context, orgID uuid.UUID, sourceType, sourceID, event, amendID string) (*Posting, error)
	InsertPosting(ctx context.Context, posting Posting) error
	InsertEntries(ctx context.Context, entries []Entry) error
	GetAccount(ctx context.Context, orgID, accountID uuid.UUID) (Account, error)
	ApplyBalanceDelta(ctx context.Context, orgID, accountID uuid.UUID, currency string, delta float64, asOf time.Time) error
	SumEntries(ctx context.Context, orgID, accountID uuid.UUID, currency string) (debit, credit float64, err error)
	OverwriteBalance(ctx context.Context, balance Balance) error
}

// MetricsPort records ledger counters. The zero value of every method must be
// safe to call with a nil receiver.
type MetricsPort interface {
	ObservePosting()
	ObserveBalanceSkip()
}

// Service validates and durably records double-entry postings and maintains
// the account balance cache.
type Service struct {
	repo    RepositoryPort
	logger  *slog.Logger
	metrics MetricsPort
	now     func() time.Time
}

// NewService constructs the posting service.
func NewService(repo RepositoryPort, logger *slog.Logger, metrics MetricsPort) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Post records a posting exactly once per (org, source, event[, amend id]).
// Calling it again with the same key returns the stored posting unchanged, so
// callers may retry freely.
func (s *Service) Post(ctx context.Context, input PostingInput) (Posting, error) {
	if err := input.Validate(); err != nil {
		return Posting{}, err
	}

	posting, replay, err := s.postOnce(ctx, input)
	if err == nil {
		if !replay && s.metrics != nil {
			s.metrics.ObservePosting()
		}
		return posting, nil
	}
	if !errors.Is(err, ErrPostingExists) {
		return Posting{}, err
	}

	// Another writer won the race on the idempotency key between our lookup
	// and insert. Its posting is committed now, so read it back.
	var existing *Posting
	lookupErr := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		found, err := tx.FindPosting(ctx, input.OrgID, input.SourceType, input.SourceID, input.Event, input.Meta.AmendID)
		if err != nil {
			return err
		}
		existing = found
		return nil
	})
	if lookupErr != nil {
		return Posting{}, lookupErr
	}
	if existing == nil {
		return Posting{}, err
	}
	return *existing, nil
}

func (s *Service) postOnce(ctx context.Context, input PostingInput) (Posting, bool, error) {
	now := s.now()
	occurredAt := now
	if input.OccurredAt != nil {
		occurredAt = *input.OccurredAt
	}
	debit, credit := input.Totals()

	posting := Posting{
		ID:          uuid.New(),
		OrgID:       input.OrgID,
		SourceType:  input.SourceType,
		SourceID:    input.SourceID,
		Event:       input.Event,
		AmendID:     input.Meta.AmendID,
		Currency:    input.Currency,
		DebitTotal:  debit,
		CreditTotal: credit,
		Memo:        input.Memo,
		OccurredAt:  occurredAt,
		PostedAt:    now,
		CreatedBy:   input.CreatedBy,
	}
	for _, line := range input.Lines {
		posting.Lines = append(posting.Lines, PostingLine{
			AccountID: line.Account.ID,
			Direction: line.Direction,
			Amount:    line.Amount,
		})
	}

	replay := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.FindPosting(ctx, input.OrgID, input.SourceType, input.SourceID, input.Event, input.Meta.AmendID)
		if err != nil {
			return err
		}
		if existing != nil {
			posting = *existing
			replay = true
			return nil
		}
		if err := tx.InsertPosting(ctx, posting); err != nil {
			return err
		}
		if err := tx.InsertEntries(ctx, entriesFor(posting)); err != nil {
			return err
		}
		return s.applyBalances(ctx, tx, posting)
	})
	if err != nil {
		return Posting{}, false, err
	}
	return posting, replay, nil
}

// applyBalances adjusts every touched account's cached balance. An account
// that cannot be resolved is skipped: the immutable ledger write must never
// be blocked by cache maintenance.
func (s *Service) applyBalances(ctx context.Context, tx TxRepository, posting Posting) error {
	for _, line := range posting.Lines {
		account, err := tx.GetAccount(ctx, posting.OrgID, line.AccountID)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				s.logger.Warn("skipping balance update for unresolved account",
					slog.String("org_id", posting.OrgID.String()),
					slog.String("account_id", line.AccountID.String()),
					slog.String("posting_id", posting.ID.String()))
				if s.metrics != nil {
					s.metrics.ObserveBalanceSkip()
				}
				continue
			}
			return err
		}
		natural, err := NaturalDirection(account.Type)
		if err != nil {
			return err
		}
		delta := line.Amount
		if line.Direction != natural {
			delta = -line.Amount
		}
		if err := tx.ApplyBalanceDelta(ctx, posting.OrgID, line.AccountID, posting.Currency, delta, posting.PostedAt); err != nil {
			return err
		}
	}
	return nil
}

// Recalculate rebuilds the cached balance for one account and currency from
// the entry log. It is a repair tool, not part of the posting path.
func (s *Service) Recalculate(ctx context.Context, orgID, accountID uuid.UUID, currencyCode string) (Balance, error) {
	var balance Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccount(ctx, orgID, accountID)
		if err != nil {
			return err
		}
		natural, err := NaturalDirection(account.Type)
		if err != nil {
			return err
		}
		debit, credit, err := tx.SumEntries(ctx, orgID, accountID, currencyCode)
		if err != nil {
			return err
		}
		total := debit - credit
		if natural == DirectionCredit {
			total = credit - debit
		}
		balance = Balance{
			OrgID:     orgID,
			AccountID: accountID,
			Currency:  currencyCode,
			Balance:   total,
			AsOf:      s.now(),
		}
		return tx.OverwriteBalance(ctx, balance)
	})
	if err != nil {
		return Balance{}, err
	}
	return balance, nil
}

// Balance reads the cached balance for one account and currency.
func (s *Service) Balance(ctx context.Context, orgID, accountID uuid.UUID, currencyCode string) (Balance, error) {
	return s.repo.GetBalance(ctx, orgID, accountID, currencyCode)
}

func entriesFor(posting Posting) []Entry {
	entries := make([]Entry, 0, len(posting.Lines))
	for _, line := range posting.Lines {
		entries = append(entries, Entry{
			ID:         uuid.New(),
			OrgID:      posting.OrgID,
			PostingID:  posting.ID,
			AccountID:  line.AccountID,
			Currency:   posting.Currency,
			Direction:  line.Direction,
			Amount:     line.Amount,
			SourceType: posting.SourceType,
			SourceID:   posting.SourceID,
			Event:      posting.Event,
			Memo:       posting.Memo,
			OccurredAt: posting.OccurredAt,
			PostedAt:   posting.PostedAt,
		})
	}
	return entries
}

package payments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TransactionLogPort abstracts storage for the append-only transaction log.
// InsertTransaction must return ErrDuplicateTransaction when a dedupe key
// matches a prior row.
type TransactionLogPort interface {
	InsertTransaction(ctx context.Context, transaction Transaction) (Transaction, error)
}

// TransactionInput describes one provider occurrence to record.
type TransactionInput struct {
	OrgID           uuid.UUID
	BookingID       uuid.UUID
	PaymentID       string
	Type            TransactionType
	Provider        string
	AmountMinor     int64
	Currency        string
	OccurredAt      time.Time
	RequestID       string
	ProviderEventID string
	BeforeStatus    PaymentStatus
	AfterStatus     PaymentStatus
	Raw             json.RawMessage
}

// TransactionLog is the idempotency gate for webhook processing: the first
// insert per dedupe key wins, every replay is a safe no-op.
type TransactionLog struct {
	repo TransactionLogPort
	now  func() time.Time
}

// NewTransactionLog constructs the log.
func NewTransactionLog(repo TransactionLogPort) *TransactionLog {
	return &TransactionLog{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (l *TransactionLog) WithNow(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// Insert attempts a uniqueness-guarded insert. A dedupe-key match is reported
// through the result, not as an error.
func (l *TransactionLog) Insert(ctx context.Context, in TransactionInput) (InsertResult, error) {
	transaction := Transaction{
		ID:              uuid.New(),
		OrgID:           in.OrgID,
		BookingID:       in.BookingID,
		PaymentID:       in.PaymentID,
		Type:            in.Type,
		Provider:        in.Provider,
		AmountMinor:     in.AmountMinor,
		Currency:        in.Currency,
		OccurredAt:      in.OccurredAt,
		RequestID:       in.RequestID,
		ProviderEventID: in.ProviderEventID,
		BeforeStatus:    in.BeforeStatus,
		AfterStatus:     in.AfterStatus,
		Raw:             in.Raw,
		CreatedAt:       l.now(),
	}
	inserted, err := l.repo.InsertTransaction(ctx, transaction)
	if err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			return InsertResult{AlreadyExists: true}, nil
		}
		return InsertResult{}, err
	}
	return InsertResult{Transaction: inserted}, nil
}

package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"
)

// balanceTolerance is the allowed drift between debit and credit totals,
// expressed in currency units.
const balanceTolerance = 0.01

// PostingLineInput describes one leg of a posting request.
type PostingLineInput struct {
	Account   AccountRef
	Direction Direction
	Amount    float64
}

// PostingMeta carries optional posting metadata. AmendID extends the
// idempotency key for controlled re-posting of the same source and event.
type PostingMeta struct {
	AmendID string
}

// PostingInput groups fields required to record a posting.
type PostingInput struct {
	OrgID      uuid.UUID
	SourceType string
	SourceID   string
	Event      string
	Currency   string
	Memo       string
	CreatedBy  string
	OccurredAt *time.Time
	Meta       PostingMeta
	Lines      []PostingLineInput
}

// Validate ensures the posting meets the double-entry invariant before any
// write happens.
func (in PostingInput) Validate() error {
	if in.OrgID == uuid.Nil {
		return fmt.Errorf("%w: organization required", ErrInvalidSource)
	}
	if in.SourceType == "" || in.SourceID == "" {
		return ErrInvalidSource
	}
	if in.Event == "" {
		return fmt.Errorf("%w: event name required", ErrInvalidSource)
	}
	if _, err := currency.ParseISO(in.Currency); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, in.Currency)
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	var debit, credit float64
	for idx, line := range in.Lines {
		if line.Account.ID == uuid.Nil {
			return fmt.Errorf("%w: line %d missing account", ErrInvalidAccountRef, idx)
		}
		if !line.Direction.Valid() {
			return fmt.Errorf("%w: line %d", ErrInvalidDirection, idx)
		}
		if line.Amount <= 0 {
			return fmt.Errorf("%w: line %d", ErrLineAmount, idx)
		}
		if line.Direction == DirectionDebit {
			debit += line.Amount
		} else {
			credit += line.Amount
		}
	}
	if math.Abs(debit-credit) > balanceTolerance {
		return fmt.Errorf("%w: debit %.2f credit %.2f", ErrUnbalanced, debit, credit)
	}
	return nil
}

// Totals returns the summed debit and credit amounts.
func (in PostingInput) Totals() (debit, credit float64) {
	for _, line := range in.Lines {
		if line.Direction == DirectionDebit {
			debit += line.Amount
		} else {
			credit += line.Amount
		}
	}
	return debit, credit
}

package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountType enumerates the fixed set of finance account types.
type AccountType string

const (
	AccountTypeAgency   AccountType = "agency"
	AccountTypePlatform AccountType = "platform"
	AccountTypeSupplier AccountType = "supplier"
	AccountTypeOther    AccountType = "other"
)

// Direction marks a posting line as debit or credit.
type Direction string

const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

// Valid reports whether the direction is one of the two legal values.
func (d Direction) Valid() bool {
	return d == DirectionDebit || d == DirectionCredit
}

// NaturalDirection returns the direction in which an account's balance grows.
// Agency and other accounts grow with debit (exposure), platform and supplier
// accounts grow with credit (payable). The mapping is exhaustive: an account
// type outside it is an error, never a silent fallback.
func NaturalDirection(t AccountType) (Direction, error) {
	switch t {
	case AccountTypeAgency, AccountTypeOther:
		return DirectionDebit, nil
	case AccountTypePlatform, AccountTypeSupplier:
		return DirectionCredit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAccountType, t)
	}
}

// AccountRef is the single explicit form of an account identifier. Upstream
// systems pass accounts around both as bare UUIDs and as "acct_" prefixed
// strings; ParseAccountRef accepts both and everything else fails closed.
type AccountRef struct {
	ID uuid.UUID
}

const accountRefPrefix = "acct_"

// ParseAccountRef parses an account identifier in either accepted form.
func ParseAccountRef(raw string) (AccountRef, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), accountRefPrefix)
	id, err := uuid.Parse(trimmed)
	if err != nil {
		return AccountRef{}, fmt.Errorf("%w: %q", ErrInvalidAccountRef, raw)
	}
	if id == uuid.Nil {
		return AccountRef{}, fmt.Errorf("%w: %q", ErrInvalidAccountRef, raw)
	}
	return AccountRef{ID: id}, nil
}

// String formats the reference in its canonical form.
func (r AccountRef) String() string {
	return accountRefPrefix + r.ID.String()
}

// Account is a finance account owned by an organization. This core never
// mutates accounts; it only resolves them for balance maintenance.
type Account struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	Type      AccountType
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance is the materialized running balance per (org, account, currency).
type Balance struct {
	OrgID     uuid.UUID
	AccountID uuid.UUID
	Currency  string
	Balance   float64
	AsOf      time.Time
}

// Posting is an immutable double-entry record of one accounting event.
type Posting struct {
	ID          uuid.UUID
	OrgID       uuid.UUID
	SourceType  string
	SourceID    string
	Event       string
	AmendID     string
	Currency    string
	DebitTotal  float64
	CreditTotal float64
	Memo        string
	OccurredAt  time.Time
	PostedAt    time.Time
	CreatedBy   string
	Lines       []PostingLine
}

// PostingLine is one leg of a posting.
type PostingLine struct {
	AccountID uuid.UUID
	Direction Direction
	Amount    float64
}

// Entry is the denormalized per-line record written alongside a posting so
// account activity can be queried without joining postings.
type Entry struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	PostingID  uuid.UUID
	AccountID  uuid.UUID
	Currency   string
	Direction  Direction
	Amount     float64
	SourceType string
	SourceID   string
	Event      string
	Memo       string
	OccurredAt time.Time
	PostedAt   time.Time
}

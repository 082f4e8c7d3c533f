package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type postingKey struct {
	orgID      uuid.UUID
	sourceType string
	sourceID   string
	event      string
	amendID    string
}

type balanceKey struct {
	orgID     uuid.UUID
	accountID uuid.UUID
	currency  string
}

type memoryLedgerRepo struct {
	postings map[postingKey]Posting
	entries  []Entry
	accounts map[uuid.UUID]Account
	balances map[balanceKey]Balance

	// stagedWinner simulates a concurrent writer landing between the lookup
	// and the insert: the first insert fails and the winner becomes visible.
	stagedWinner *Posting
}

type memoryLedgerTx struct {
	repo *memoryLedgerRepo
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		postings: make(map[postingKey]Posting),
		accounts: make(map[uuid.UUID]Account),
		balances: make(map[balanceKey]Balance),
	}
}

func (r *memoryLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryLedgerTx{repo: r})
}

func (r *memoryLedgerRepo) GetBalance(ctx context.Context, orgID, accountID uuid.UUID, currency string) (Balance, error) {
	b, ok := r.balances[balanceKey{orgID, accountID, currency}]
	if !ok {
		return Balance{}, ErrBalanceNotFound
	}
	return b, nil
}

func keyFor(p Posting) postingKey {
	return postingKey{p.OrgID, p.SourceType, p.SourceID, p.Event, p.AmendID}
}

func (tx *memoryLedgerTx) FindPosting(ctx context.Context, orgID uuid.UUID, sourceType, sourceID, event, amendID string) (*Posting, error) {
	p, ok := tx.repo.postings[postingKey{orgID, sourceType, sourceID, event, amendID}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (tx *memoryLedgerTx) InsertPosting(ctx context.Context, posting Posting) error {
	key := keyFor(posting)
	if tx.repo.stagedWinner != nil {
		tx.repo.postings[keyFor(*tx.repo.stagedWinner)] = *tx.repo.stagedWinner
		tx.repo.stagedWinner = nil
		return ErrPostingExists
	}
	if _, ok := tx.repo.postings[key]; ok {
		return ErrPostingExists
	}
	tx.repo.postings[key] = posting
	return nil
}

func (tx *memoryLedgerTx) InsertEntries(ctx context.Context, entries []Entry) error {
	tx.repo.entries = append(tx.repo.entries, entries...)
	return nil
}

func (tx *memoryLedgerTx) GetAccount(ctx context.Context, orgID, accountID uuid.UUID) (Account, error) {
	acct, ok := tx.repo.accounts[accountID]
	if !ok || acct.OrgID != orgID {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (tx *memoryLedgerTx) ApplyBalanceDelta(ctx context.Context, orgID, accountID uuid.UUID, currency string, delta float64, asOf time.Time) error {
	key := balanceKey{orgID, accountID, currency}
	b := tx.repo.balances[key]
	b.OrgID = orgID
	b.AccountID = accountID
	b.Currency = currency
	b.Balance += delta
	b.AsOf = asOf
	tx.repo.balances[key] = b
	return nil
}

func (tx *memoryLedgerTx) SumEntries(ctx context.Context, orgID, accountID uuid.UUID, currency string) (float64, float64, error) {
	var debit, credit float64
	for _, e := range tx.repo.entries {
		if e.OrgID != orgID || e.AccountID != accountID || e.Currency != currency {
			continue
		}
		if e.Direction == DirectionDebit {
			debit += e.Amount
		} else {
			credit += e.Amount
		}
	}
	return debit, credit, nil
}

func (tx *memoryLedgerTx) OverwriteBalance(ctx context.Context, balance Balance) error {
	tx.repo.balances[balanceKey{balance.OrgID, balance.AccountID, balance.Currency}] = balance
	return nil
}

type countingMetrics struct {
	postings int
	skips    int
}

func (m *countingMetrics) ObservePosting()     { m.postings++ }
func (m *countingMetrics) ObserveBalanceSkip() { m.skips++ }

func setupLedger(t *testing.T) (*memoryLedgerRepo, *Service, *countingMetrics, uuid.UUID, uuid.UUID, uuid.UUID) {
	t.Helper()
	repo := newMemoryLedgerRepo()
	metrics := &countingMetrics{}
	svc := NewService(repo, nil, metrics)

	orgID := uuid.New()
	agencyID := uuid.New()
	platformID := uuid.New()
	repo.accounts[agencyID] = Account{ID: agencyID, OrgID: orgID, Type: AccountTypeAgency, Currency: "EUR"}
	repo.accounts[platformID] = Account{ID: platformID, OrgID: orgID, Type: AccountTypePlatform, Currency: "EUR"}
	return repo, svc, metrics, orgID, agencyID, platformID
}

func captureInput(orgID, agencyID, platformID uuid.UUID, amount float64) PostingInput {
	return PostingInput{
		OrgID:      orgID,
		SourceType: "booking",
		SourceID:   "booking-1",
		Event:      "payment_captured",
		Currency:   "EUR",
		Lines: []PostingLineInput{
			{Account: AccountRef{ID: agencyID}, Direction: DirectionDebit, Amount: amount},
			{Account: AccountRef{ID: platformID}, Direction: DirectionCredit, Amount: amount},
		},
	}
}

func TestPostRecordsPostingAndBalances(t *testing.T) {
	ctx := context.Background()
	repo, svc, metrics, orgID, agencyID, platformID := setupLedger(t)

	posting, err := svc.Post(ctx, captureInput(orgID, agencyID, platformID, 120))
	require.NoError(t, err)
	require.Equal(t, 120.0, posting.DebitTotal)
	require.Equal(t, 120.0, posting.CreditTotal)
	require.Len(t, posting.Lines, 2)
	require.Len(t, repo.entries, 2)
	require.Equal(t, 1, metrics.postings)

	agency, err := svc.Balance(ctx, orgID, agencyID, "EUR")
	require.NoError(t, err)
	require.InDelta(t, 120.0, agency.Balance, 0.001)

	platform, err := svc.Balance(ctx, orgID, platformID, "EUR")
	require.NoError(t, err)
	require.InDelta(t, 120.0, platform.Balance, 0.001)
}

func TestPostIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, svc, metrics, orgID, agencyID, platformID := setupLedger(t)

	first, err := svc.Post(ctx, captureInput(orgID, agencyID, platformID, 80))
	require.NoError(t, err)

	second, err := svc.Post(ctx, captureInput(orgID, agencyID, platformID, 80))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, repo.postings, 1)
	require.Len(t, repo.entries, 2)
	require.Equal(t, 1, metrics.postings)

	agency, err := svc.Balance(ctx, orgID, agencyID, "EUR")
	require.NoError(t, err)
	require.InDelta(t, 80.0, agency.Balance, 0.001)
}

func TestPostAmendIDExtendsIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	repo, svc, _, orgID, agencyID, platformID := setupLedger(t)

	in := captureInput(orgID, agencyID, platformID, 50)
	in.Meta.AmendID = "evt-1"
	first, err := svc.Post(ctx, in)
	require.NoError(t, err)

	in.Meta.AmendID = "evt-2"
	second, err := svc.Post(ctx, in)
	require.NoError(t, err)

	require.NotEqual(t, first.ID, second.ID)
	require.Len(t, repo.postings, 2)

	agency, err := svc.Balance(ctx, orgID, agencyID, "EUR")
	require.NoError(t, err)
	require.InDelta(t, 100.0, agency.Balance, 0.001)
}

func TestPostRefundReducesBalances(t *testing.T) {
	ctx := context.Background()
	_, svc, _, orgID, agencyID, platformID := setupLedger(t)

	_, err := svc.Post(ctx, captureInput(orgID, agencyID, platformID, 200))
	require.NoError(t, err)

	refund := PostingInput{
		OrgID:      orgID,
		SourceType: "booking",
		SourceID:   "booking-1",
		Event:      "payment_refunded",
		Currency:   "EUR",
		Lines: []PostingLineInput{
			{Account: AccountRef{ID: platformID}, Direction: DirectionDebit, Amount: 200},
			{Account: AccountRef{ID: agencyID}, Direction: DirectionCredit, Amount: 200},
		},
	}
	_, err = svc.Post(ctx, refund)
	require.NoError(t, err)

	agency, err := svc.Balance(ctx, orgID, agencyID, "EUR")
	require.NoError(t, err)
	require.InDelta(t, 0.0, agency.Balance, 0.001)

	platform, err := svc.Balance(ctx, orgID, platformID, "EUR")
	require.NoError(t, err)
	require.InDelta(t, 0.0, platform.Balance, 0.001)
}

func TestPostSkipsBalanceForUnresolvedAccount(t *testing.T) {
	ctx := context.Background()
	repo, svc, metrics, orgID, agencyID, platformID := setupLedger(t)
	delete(repo.accounts, platformID)

	posting, err := svc.Post(ctx, captureInput(orgID, agencyID, platformID, 75))
	require.NoError(t, err)
	require.Len(t, repo.postings, 1)
	require.Len(t, repo.entries, 2)
	require.Equal(t, 1, metrics.skips)

	agency, err := svc.Balance(ctx, orgID, agencyID, "EUR")
	require.NoError(t, err)
	require.InDelta(t, 75.0, agency.Balance, 0.001)

	_, err = svc.Balance(ctx, posting.OrgID, platformID, "EUR")
	require.ErrorIs(t, err, ErrBalanceNotFound)
}

func TestPostFailsOnUnknownAccountType(t *testing.T) {
	ctx := context.Background()
	repo, svc, _, orgID, agencyID, platformID := setupLedger(t)
	acct := repo.accounts[platformID]
	acct.Type = "escrow"
	repo.accounts[platformID] = acct

	_, err := svc.Post(ctx, captureInput(orgID, agencyID, platformID, 75))
	require.ErrorIs(t, err, ErrUnknownAccountType)
}

func TestPostReturnsWinnerAfterInsertRace(t *testing.T) {
	ctx := context.Background()
	repo, svc, _, orgID, agencyID, platformID := setupLedger(t)

	in := captureInput(orgID, agencyID, platformID, 60)
	winner := Posting{
		ID:          uuid.New(),
		OrgID:       orgID,
		SourceType:  in.SourceType,
		SourceID:    in.SourceID,
		Event:       in.Event,
		Currency:    in.Currency,
		DebitTotal:  60,
		CreditTotal: 60,
	}
	repo.stagedWinner = &winner

	posting, err := svc.Post(ctx, in)
	require.NoError(t, err)
	require.Equal(t, winner.ID, posting.ID)
	require.Len(t, repo.postings, 1)
}

func TestRecalculateMatchesIncrementalBalance(t *testing.T) {
	ctx := context.Background()
	repo, svc, _, orgID, agencyID, platformID := setupLedger(t)

	_, err := svc.Post(ctx, captureInput(orgID, agencyID, platformID, 120))
	require.NoError(t, err)

	in := captureInput(orgID, agencyID, platformID, 30)
	in.SourceID = "booking-2"
	_, err = svc.Post(ctx, in)
	require.NoError(t, err)

	incremental, err := svc.Balance(ctx, orgID, agencyID, "EUR")
	require.NoError(t, err)

	// A drifted cache row must be repaired from the entry log.
	key := balanceKey{orgID, agencyID, "EUR"}
	drifted := repo.balances[key]
	drifted.Balance = 9999
	repo.balances[key] = drifted

	repaired, err := svc.Recalculate(ctx, orgID, agencyID, "EUR")
	require.NoError(t, err)
	require.InDelta(t, incremental.Balance, repaired.Balance, 0.001)

	stored, err := svc.Balance(ctx, orgID, agencyID, "EUR")
	require.NoError(t, err)
	require.InDelta(t, 150.0, stored.Balance, 0.001)
}

func TestRecalculateCreditNaturalAccount(t *testing.T) {
	ctx := context.Background()
	_, svc, _, orgID, agencyID, platformID := setupLedger(t)

	_, err := svc.Post(ctx, captureInput(orgID, agencyID, platformID, 90))
	require.NoError(t, err)

	repaired, err := svc.Recalculate(ctx, orgID, platformID, "EUR")
	require.NoError(t, err)
	require.InDelta(t, 90.0, repaired.Balance, 0.001)
}

func TestPostRejectsInvalidInputBeforeWrites(t *testing.T) {
	ctx := context.Background()
	repo, svc, _, orgID, agencyID, platformID := setupLedger(t)

	in := captureInput(orgID, agencyID, platformID, 100)
	in.Lines[1].Amount = 99
	_, err := svc.Post(ctx, in)
	require.ErrorIs(t, err, ErrUnbalanced)
	require.Empty(t, repo.postings)
	require.Empty(t, repo.entries)
}

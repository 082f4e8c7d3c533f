package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type aggregateKeyT struct {
	orgID     uuid.UUID
	bookingID uuid.UUID
}

type memoryAggregateRepo struct {
	aggregates map[aggregateKeyT]Aggregate

	// casFailures makes that many CAS attempts lose before one succeeds.
	casFailures int
	// raceCaptures lands one competing capture increment per entry before
	// the caller's CAS attempt is reported lost.
	raceCaptures []int64
	// insertRace makes the first insert fail as if another writer
	// provisioned the row concurrently.
	insertRace bool
}

func newMemoryAggregateRepo() *memoryAggregateRepo {
	return &memoryAggregateRepo{aggregates: make(map[aggregateKeyT]Aggregate)}
}

func (r *memoryAggregateRepo) GetAggregate(ctx context.Context, orgID, bookingID uuid.UUID) (Aggregate, error) {
	agg, ok := r.aggregates[aggregateKeyT{orgID, bookingID}]
	if !ok {
		return Aggregate{}, ErrAggregateNotFound
	}
	return agg, nil
}

func (r *memoryAggregateRepo) InsertAggregate(ctx context.Context, aggregate Aggregate) (Aggregate, error) {
	key := aggregateKeyT{aggregate.OrgID, aggregate.BookingID}
	if r.insertRace {
		r.insertRace = false
		racing := aggregate
		racing.ID = uuid.New()
		r.aggregates[key] = racing
		return Aggregate{}, ErrAggregateExists
	}
	if _, ok := r.aggregates[key]; ok {
		return Aggregate{}, ErrAggregateExists
	}
	r.aggregates[key] = aggregate
	return aggregate, nil
}

func (r *memoryAggregateRepo) UpdateAggregateCAS(ctx context.Context, aggregate Aggregate, expectedVersion int64) (bool, error) {
	if r.casFailures > 0 {
		r.casFailures--
		return false, nil
	}
	if len(r.raceCaptures) > 0 {
		delta := r.raceCaptures[0]
		r.raceCaptures = r.raceCaptures[1:]
		key := aggregateKeyT{aggregate.OrgID, aggregate.BookingID}
		winner := r.aggregates[key]
		winner.AmountPaid += delta
		winner.Status = StatusFor(winner.AmountPaid, winner.AmountRefunded, winner.AmountTotal)
		winner.Version++
		r.aggregates[key] = winner
		return false, nil
	}
	key := aggregateKeyT{aggregate.OrgID, aggregate.BookingID}
	current, ok := r.aggregates[key]
	if !ok || current.Version != expectedVersion {
		return false, nil
	}
	r.aggregates[key] = aggregate
	return true, nil
}

func seedAggregate(repo *memoryAggregateRepo, orgID, bookingID uuid.UUID, total, paid, refunded int64) {
	status := StatusFor(paid, refunded, total)
	repo.aggregates[aggregateKeyT{orgID, bookingID}] = Aggregate{
		ID:             uuid.New(),
		OrgID:          orgID,
		BookingID:      bookingID,
		Currency:       "EUR",
		AmountTotal:    total,
		AmountPaid:     paid,
		AmountRefunded: refunded,
		Status:         status,
		Version:        1,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name                  string
		paid, refunded, total int64
		want                  PaymentStatus
	}{
		{"nothing paid", 0, 0, 10000, StatusPending},
		{"partially paid", 4000, 0, 10000, StatusPartiallyPaid},
		{"fully paid", 10000, 0, 10000, StatusPaid},
		{"overpaid counts as paid", 12000, 0, 10000, StatusPaid},
		{"fully refunded", 10000, 10000, 10000, StatusRefunded},
		{"partial refund of full payment", 10000, 4000, 10000, StatusPaid},
		{"partial refund of partial payment", 4000, 2000, 10000, StatusPartiallyPaid},
		{"zero paid zero refunded zero total", 0, 0, 0, StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, StatusFor(tc.paid, tc.refunded, tc.total))
		})
	}
}

func TestEnsureProvisionsAggregateOnce(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAggregateRepo()
	svc := NewAggregateService(repo, nil, nil)
	orgID, bookingID := uuid.New(), uuid.New()

	first, err := svc.Ensure(ctx, orgID, bookingID, 10000, "EUR")
	require.NoError(t, err)
	require.Equal(t, StatusPending, first.Status)
	require.Equal(t, int64(1), first.Version)
	require.Equal(t, int64(10000), first.AmountTotal)

	second, err := svc.Ensure(ctx, orgID, bookingID, 99999, "USD")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, int64(10000), second.AmountTotal)
}

func TestEnsureReturnsWinnerAfterInsertRace(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAggregateRepo()
	repo.insertRace = true
	svc := NewAggregateService(repo, nil, nil)
	orgID, bookingID := uuid.New(), uuid.New()

	agg, err := svc.Ensure(ctx, orgID, bookingID, 10000, "EUR")
	require.NoError(t, err)
	require.Equal(t, repo.aggregates[aggregateKeyT{orgID, bookingID}].ID, agg.ID)
}

func TestApplyCaptureFullPayment(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAggregateRepo()
	svc := NewAggregateService(repo, nil, nil)
	orgID, bookingID := uuid.New(), uuid.New()
	seedAggregate(repo, orgID, bookingID, 10000, 0, 0)

	before, after, err := svc.ApplyCapture(ctx, orgID, bookingID, 10000)
	require.NoError(t, err)
	require.Equal(t, StatusPending, before.Status)
	require.Equal(t, StatusPaid, after.Status)
	require.Equal(t, int64(10000), after.AmountPaid)
	require.Equal(t, before.Version+1, after.Version)
}

func TestApplyCapturePartialPayments(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAggregateRepo()
	svc := NewAggregateService(repo, nil, nil)
	orgID, bookingID := uuid.New(), uuid.New()
	seedAggregate(repo, orgID, bookingID, 10000, 0, 0)

	_, after, err := svc.ApplyCapture(ctx, orgID, bookingID, 4000)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyPaid, after.Status)

	_, after, err = svc.ApplyCapture(ctx, orgID, bookingID, 6000)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, after.Status)
	require.Equal(t, int64(10000), after.AmountPaid)
	require.Equal(t, int64(3), after.Version)
}

func TestApplyRefundFullAmount(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAggregateRepo()
	svc := NewAggregateService(repo, nil, nil)
	orgID, bookingID := uuid.New(), uuid.New()
	seedAggregate(repo, orgID, bookingID, 10000, 10000, 0)

	before, after, err := svc.ApplyRefund(ctx, orgID, bookingID, 10000)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, before.Status)
	require.Equal(t, StatusRefunded, after.Status)
	require.Equal(t, int64(10000), after.AmountRefunded)
}

func TestApplyCaptureRejectsExceedingTotal(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAggregateRepo()
	svc := NewAggregateService(repo, nil, nil)
	orgID, bookingID := uuid.New(), uuid.New()
	seedAggregate(repo, orgID, bookingID, 10000, 8000, 0)

	_, _, err := svc.ApplyCapture(ctx, orgID, bookingID, 3000)
	require.ErrorIs(t, err, ErrCaptureExceedsTotal)
	require.Equal(t, int64(8000), repo.aggregates[aggregateKeyT{orgID, bookingID}].AmountPaid)
}

func TestApplyRefundRejectsExceedingPaid(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAggregateRepo()
	svc := NewAggregateService(repo, nil, nil)
	orgID, bookingID := uuid.New(), uuid.New()
	seedAggregate(repo, orgID, bookingID, 10000, 4000, 0)

	_, _, err := svc.ApplyRefund(ctx, orgID, bookingID, 5000)
	require.ErrorIs(t, err, ErrRefundExceedsPaid)
}

func TestApplyRejectsNonPositiveDelta(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAggregateRepo()
	svc := NewAggregateService(repo, nil, nil)
	orgID, bookingID := uuid.New(), uuid.New()
	seedAggregate(repo, orgID, bookingID, 10000, 0, 0)

	_, _, err := svc.ApplyCapture(ctx, orgID, bookingID, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = svc.ApplyRefund(ctx, orgID, bookingID, -100)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestConcurrentCaptureDeltasBothLand(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAggregateRepo()
	// A competing writer lands its 3000 capture while ours is in flight;
	// our 2000 must re-read and apply on top, never overwrite.
	repo.raceCaptures = []int64{3000}
	svc := NewAggregateService(repo, nil, nil)
	orgID, bookingID := uuid.New(), uuid.New()
	seedAggregate(repo, orgID, bookingID, 10000, 0, 0)

	before, after, err := svc.ApplyCapture(ctx, orgID, bookingID, 2000)
	require.NoError(t, err)
	require.Equal(t, int64(3000), before.AmountPaid)
	require.Equal(t, int64(5000), after.AmountPaid)
	require.Equal(t, StatusPartiallyPaid, after.Status)

	stored := repo.aggregates[aggregateKeyT{orgID, bookingID}]
	require.Equal(t, int64(5000), stored.AmountPaid)
	require.Equal(t, int64(3), stored.Version)
}

func TestApplySurfacesConflictAfterRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAggregateRepo()
	repo.casFailures = 2
	svc := NewAggregateService(repo, nil, nil)
	orgID, bookingID := uuid.New(), uuid.New()
	seedAggregate(repo, orgID, bookingID, 10000, 0, 0)

	_, _, err := svc.ApplyCapture(ctx, orgID, bookingID, 10000)
	require.ErrorIs(t, err, ErrVersionConflict)
	require.Equal(t, int64(0), repo.aggregates[aggregateKeyT{orgID, bookingID}].AmountPaid)
}

func TestGetWithoutCacheLoadsFromRepo(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAggregateRepo()
	svc := NewAggregateService(repo, nil, nil)
	orgID, bookingID := uuid.New(), uuid.New()

	_, err := svc.Get(ctx, orgID, bookingID)
	require.ErrorIs(t, err, ErrAggregateNotFound)

	seedAggregate(repo, orgID, bookingID, 10000, 4000, 0)
	agg, err := svc.Get(ctx, orgID, bookingID)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyPaid, agg.Status)
}

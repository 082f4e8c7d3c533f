package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// casAttempts bounds the optimistic-concurrency retry loop. One fresh retry
// after a lost race; after that the conflict is surfaced to the caller.
const casAttempts = 2

// AggregateRepositoryPort abstracts storage for booking payment aggregates.
type AggregateRepositoryPort interface {
	GetAggregate(ctx context.Context, orgID, bookingID uuid.UUID) (Aggregate, error)
	InsertAggregate(ctx context.Context, aggregate Aggregate) (Aggregate, error)
	// UpdateAggregateCAS writes the new amounts and status conditioned on the
	// version still matching. It reports false when another writer won.
	UpdateAggregateCAS(ctx context.Context, aggregate Aggregate, expectedVersion int64) (bool, error)
}

// AggregateService maintains per-booking paid/refunded amounts and the
// derived status using optimistic concurrency.
type AggregateService struct {
	repo   AggregateRepositoryPort
	cache  *AggregateCache
	logger *slog.Logger
	now    func() time.Time
}

// NewAggregateService constructs the aggregate service. The cache is optional.
func NewAggregateService(repo AggregateRepositoryPort, cache *AggregateCache, logger *slog.Logger) *AggregateService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AggregateService{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *AggregateService) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Ensure provisions the aggregate row on first payment-related activity.
// An existing row is returned unchanged.
func (s *AggregateService) Ensure(ctx context.Context, orgID, bookingID uuid.UUID, totalMinor int64, currencyCode string) (Aggregate, error) {
	existing, err := s.repo.GetAggregate(ctx, orgID, bookingID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrAggregateNotFound) {
		return Aggregate{}, err
	}
	now := s.now()
	aggregate := Aggregate{
		ID:          uuid.New(),
		OrgID:       orgID,
		BookingID:   bookingID,
		Currency:    currencyCode,
		AmountTotal: totalMinor,
		Status:      StatusPending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	inserted, err := s.repo.InsertAggregate(ctx, aggregate)
	if err != nil {
		if errors.Is(err, ErrAggregateExists) {
			return s.repo.GetAggregate(ctx, orgID, bookingID)
		}
		return Aggregate{}, err
	}
	return inserted, nil
}

// Get reads the aggregate, via the cache when one is configured.
func (s *AggregateService) Get(ctx context.Context, orgID, bookingID uuid.UUID) (Aggregate, error) {
	if s.cache == nil {
		return s.repo.GetAggregate(ctx, orgID, bookingID)
	}
	return s.cache.Fetch(ctx, orgID, bookingID, func(ctx context.Context) (Aggregate, error) {
		return s.repo.GetAggregate(ctx, orgID, bookingID)
	})
}

// ApplyCapture increments the paid amount by delta and recomputes the status.
func (s *AggregateService) ApplyCapture(ctx context.Context, orgID, bookingID uuid.UUID, delta int64) (Aggregate, Aggregate, error) {
	return s.apply(ctx, orgID, bookingID, delta, func(agg *Aggregate, delta int64) error {
		next := agg.AmountPaid + delta
		if next > agg.AmountTotal {
			return fmt.Errorf("%w: paid %d total %d", ErrCaptureExceedsTotal, next, agg.AmountTotal)
		}
		agg.AmountPaid = next
		return nil
	})
}

// ApplyRefund increments the refunded amount by delta and recomputes the status.
func (s *AggregateService) ApplyRefund(ctx context.Context, orgID, bookingID uuid.UUID, delta int64) (Aggregate, Aggregate, error) {
	return s.apply(ctx, orgID, bookingID, delta, func(agg *Aggregate, delta int64) error {
		next := agg.AmountRefunded + delta
		if next > agg.AmountPaid {
			return fmt.Errorf("%w: refunded %d paid %d", ErrRefundExceedsPaid, next, agg.AmountPaid)
		}
		agg.AmountRefunded = next
		return nil
	})
}

func (s *AggregateService) apply(ctx context.Context, orgID, bookingID uuid.UUID, delta int64, mutate func(*Aggregate, int64) error) (Aggregate, Aggregate, error) {
	if delta <= 0 {
		return Aggregate{}, Aggregate{}, fmt.Errorf("%w: delta %d", ErrInvalidAmount, delta)
	}
	for attempt := 0; attempt < casAttempts; attempt++ {
		before, err := s.repo.GetAggregate(ctx, orgID, bookingID)
		if err != nil {
			return Aggregate{}, Aggregate{}, err
		}
		after := before
		if err := mutate(&after, delta); err != nil {
			return Aggregate{}, Aggregate{}, err
		}
		after.Status = StatusFor(after.AmountPaid, after.AmountRefunded, after.AmountTotal)
		after.Version = before.Version + 1
		after.UpdatedAt = s.now()

		ok, err := s.repo.UpdateAggregateCAS(ctx, after, before.Version)
		if err != nil {
			return Aggregate{}, Aggregate{}, err
		}
		if ok {
			s.invalidate(ctx, orgID, bookingID)
			return before, after, nil
		}
	}
	return Aggregate{}, Aggregate{}, ErrVersionConflict
}

func (s *AggregateService) invalidate(ctx context.Context, orgID, bookingID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, orgID, bookingID); err != nil {
		s.logger.Warn("invalidate aggregate cache", slog.Any("error", err),
			slog.String("booking_id", bookingID.String()))
	}
}

package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roamly/roamly-payments/internal/platform/httpx"
)

// FinalizationStore persists one decision per (provider, event id).
type FinalizationStore interface {
	FindFinalization(ctx context.Context, provider, eventID string) (*FinalizationRecord, error)
	InsertFinalization(ctx context.Context, record FinalizationRecord) error
	ListAppliedByIntent(ctx context.Context, orgID uuid.UUID, provider, paymentIntentID string) ([]FinalizationRecord, error)
}

// OrchestratorPort is the slice of the orchestrator the guard drives.
type OrchestratorPort interface {
	RecordCaptureSucceeded(ctx context.Context, in PaymentEventInput) (*Result, error)
	RecordRefundSucceeded(ctx context.Context, in PaymentEventInput) (*Result, error)
}

// AggregateReader reads the current booking payment state.
type AggregateReader interface {
	Get(ctx context.Context, orgID, bookingID uuid.UUID) (Aggregate, error)
}

// GuardMetrics counts guard decisions.
type GuardMetrics interface {
	ObserveEventDecision(eventType, decision string)
}

// Outcome is the guard's classification of one provider event. Decisions
// other than applied are successful, side-effect-free results, not errors.
type Outcome struct {
	Decision Decision
	Reason   string
	Result   *Result
}

// FinalizeGuard is the sole gate in front of the orchestrator. It classifies
// every inbound provider event before any side effect occurs.
type FinalizeGuard struct {
	store      FinalizationStore
	orch       OrchestratorPort
	aggregates AggregateReader
	events     BookingEventAppender
	logger     *slog.Logger
	metrics    GuardMetrics
	now        func() time.Time
}

// NewFinalizeGuard constructs the guard. Metrics are optional.
func NewFinalizeGuard(store FinalizationStore, orch OrchestratorPort, aggregates AggregateReader, events BookingEventAppender, logger *slog.Logger, metrics GuardMetrics) *FinalizeGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &FinalizeGuard{
		store:      store,
		orch:       orch,
		aggregates: aggregates,
		events:     events,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// WithNow overrides the clock for testing.
func (g *FinalizeGuard) WithNow(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// Apply decides whether the event should be applied, ignored as a duplicate,
// or ignored as out of order, and applies it when allowed.
func (g *FinalizeGuard) Apply(ctx context.Context, event ProviderEvent) (Outcome, error) {
	if err := validateEvent(event); err != nil {
		return Outcome{}, err
	}

	// Rule 1: the event id was seen before. The stored record is the decision
	// of record; every later sighting is a duplicate.
	seen, err := g.store.FindFinalization(ctx, event.Provider, event.EventID)
	if err != nil {
		return Outcome{}, err
	}
	if seen != nil {
		return g.observe(event, Outcome{
			Decision: DecisionIgnoredDuplicate,
			Reason:   fmt.Sprintf("event already recorded with decision %s", seen.Decision),
		}), nil
	}

	status, err := g.currentStatus(ctx, event)
	if err != nil {
		return Outcome{}, err
	}

	// Rule 3 input: an applied record with the opposite signal for the same
	// payment intent makes this event contradictory.
	contradiction, err := g.contradictionFor(ctx, event)
	if err != nil {
		return Outcome{}, err
	}

	outcome, err := g.decide(ctx, event, status, contradiction)
	if err != nil {
		return Outcome{}, err
	}
	return g.observe(event, outcome), nil
}

func (g *FinalizeGuard) decide(ctx context.Context, event ProviderEvent, status PaymentStatus, contradiction *FinalizationRecord) (Outcome, error) {
	switch event.Type {
	case EventCaptureSucceeded:
		if status.settled() {
			return g.ignore(ctx, event, DecisionIgnoredDuplicate, fmt.Sprintf("booking already finalized with status %s", status))
		}
		if contradiction != nil {
			return g.ignore(ctx, event, DecisionIgnoredOutOfOrder, fmt.Sprintf("success event after applied %s", contradiction.EventType))
		}
		return g.applyMoneyEvent(ctx, event, g.orch.RecordCaptureSucceeded)

	case EventRefundSucceeded:
		if status == StatusRefunded {
			return g.ignore(ctx, event, DecisionIgnoredDuplicate, "booking already refunded")
		}
		if status == StatusPending {
			return g.ignore(ctx, event, DecisionIgnoredOutOfOrder, "refund before any capture")
		}
		if contradiction != nil {
			return g.ignore(ctx, event, DecisionIgnoredOutOfOrder, fmt.Sprintf("success event after applied %s", contradiction.EventType))
		}
		return g.applyMoneyEvent(ctx, event, g.orch.RecordRefundSucceeded)

	case EventCaptureFailed, EventRefundFailed:
		if contradiction != nil {
			return g.ignore(ctx, event, DecisionIgnoredOutOfOrder, fmt.Sprintf("failure event after applied %s", contradiction.EventType))
		}
		if event.Type == EventCaptureFailed && status != StatusPending {
			return g.ignore(ctx, event, DecisionIgnoredOutOfOrder, fmt.Sprintf("capture failure but booking status is %s", status))
		}
		if event.Type == EventRefundFailed && status == StatusRefunded {
			return g.ignore(ctx, event, DecisionIgnoredOutOfOrder, "refund failure but booking already refunded")
		}
		return g.applyFailureEvent(ctx, event)

	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownEventType, event.Type)
	}
}

// applyMoneyEvent delegates to the orchestrator, then records the decision.
func (g *FinalizeGuard) applyMoneyEvent(ctx context.Context, event ProviderEvent, record func(context.Context, PaymentEventInput) (*Result, error)) (Outcome, error) {
	result, err := record(ctx, PaymentEventInput{
		OrgID:           event.Metadata.OrgID,
		BookingID:       event.Metadata.BookingID,
		AgencyID:        event.Metadata.AgencyID,
		PaymentID:       event.PaymentIntentID,
		Provider:        event.Provider,
		AmountMinor:     event.Metadata.AmountMinor,
		TotalMinor:      event.Metadata.TotalMinor,
		Currency:        event.Metadata.Currency,
		OccurredAt:      event.OccurredAt,
		// The provider event id is the dedupe key here. The correlation id
		// groups a whole flow and can repeat across distinct deliveries, so
		// it must not feed the request-id unique index.
		ProviderEventID: event.EventID,
		CorrelationID:   event.Metadata.CorrelationID,
		Raw:             event.Raw,
	})
	if err != nil {
		return Outcome{}, err
	}
	if result == nil {
		// The transaction log saw this occurrence under another event id or a
		// concurrent delivery; nothing was applied.
		return g.ignore(ctx, event, DecisionIgnoredDuplicate, "transaction already logged")
	}
	if err := g.writeRecord(ctx, event, DecisionApplied, "applied"); err != nil {
		return Outcome{}, err
	}
	return Outcome{Decision: DecisionApplied, Reason: "applied", Result: result}, nil
}

// applyFailureEvent records the failure without any money movement: only the
// finalization record and a lifecycle event are written.
func (g *FinalizeGuard) applyFailureEvent(ctx context.Context, event ProviderEvent) (Outcome, error) {
	if err := g.events.Append(ctx, BookingEvent{
		OrgID:     event.Metadata.OrgID,
		BookingID: event.Metadata.BookingID,
		Type:      BookingEventPaymentFailed,
		At:        event.OccurredAt,
		Meta: map[string]any{
			"payment_id":     event.PaymentIntentID,
			"provider":       event.Provider,
			"event_type":     string(event.Type),
			"correlation_id": event.Metadata.CorrelationID,
			"event_id":       event.EventID,
		},
	}); err != nil {
		return Outcome{}, err
	}
	if err := g.writeRecord(ctx, event, DecisionApplied, "failure recorded"); err != nil {
		return Outcome{}, err
	}
	return Outcome{Decision: DecisionApplied, Reason: "failure recorded"}, nil
}

func (g *FinalizeGuard) ignore(ctx context.Context, event ProviderEvent, decision Decision, reason string) (Outcome, error) {
	if err := g.writeRecord(ctx, event, decision, reason); err != nil {
		return Outcome{}, err
	}
	return Outcome{Decision: decision, Reason: reason}, nil
}

func (g *FinalizeGuard) writeRecord(ctx context.Context, event ProviderEvent, decision Decision, reason string) error {
	err := g.store.InsertFinalization(ctx, FinalizationRecord{
		ID:              uuid.New(),
		OrgID:           event.Metadata.OrgID,
		Provider:        event.Provider,
		EventID:         event.EventID,
		EventType:       event.Type,
		PaymentIntentID: event.PaymentIntentID,
		BookingID:       event.Metadata.BookingID,
		Decision:        decision,
		Reason:          reason,
		CreatedAt:       g.now(),
	})
	if errors.Is(err, ErrFinalizationExists) {
		// A concurrent delivery recorded the event first; its row stands.
		g.logger.Info("finalization already recorded",
			slog.String("provider", event.Provider),
			slog.String("event_id", event.EventID))
		return nil
	}
	return err
}

func (g *FinalizeGuard) currentStatus(ctx context.Context, event ProviderEvent) (PaymentStatus, error) {
	aggregate, err := g.aggregates.Get(ctx, event.Metadata.OrgID, event.Metadata.BookingID)
	if err != nil {
		if errors.Is(err, ErrAggregateNotFound) {
			// No payment activity yet for this booking.
			return StatusPending, nil
		}
		return "", err
	}
	return aggregate.Status, nil
}

func (g *FinalizeGuard) contradictionFor(ctx context.Context, event ProviderEvent) (*FinalizationRecord, error) {
	applied, err := g.store.ListAppliedByIntent(ctx, event.Metadata.OrgID, event.Provider, event.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	for i := range applied {
		if event.Type.contradicts(applied[i].EventType) {
			return &applied[i], nil
		}
	}
	return nil, nil
}

func (g *FinalizeGuard) observe(event ProviderEvent, outcome Outcome) Outcome {
	if g.metrics != nil {
		g.metrics.ObserveEventDecision(string(event.Type), string(outcome.Decision))
	}
	return outcome
}

func validateEvent(event ProviderEvent) error {
	if !event.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, event.Type)
	}
	if event.EventID == "" || event.Provider == "" || event.PaymentIntentID == "" {
		return fmt.Errorf("payments: event id, provider, and payment intent required: %w", httpx.ErrValidation)
	}
	if event.Metadata.OrgID == uuid.Nil || event.Metadata.BookingID == uuid.Nil {
		return fmt.Errorf("payments: organization and booking metadata required: %w", httpx.ErrValidation)
	}
	if event.Type.success() && event.Metadata.AmountMinor <= 0 {
		return fmt.Errorf("payments: amount_minor must be positive: %w", httpx.ErrValidation)
	}
	return nil
}

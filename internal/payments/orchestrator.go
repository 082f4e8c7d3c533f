package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roamly/roamly-payments/internal/ledger"
)

// BookingEventAppender appends lifecycle events to the external booking
// event log.
type BookingEventAppender interface {
	Append(ctx context.Context, event BookingEvent) error
}

// FinanceAccountResolver maps (organization, role) to a ledger account.
// Resolution fails closed: an unmapped role is ErrAccountRoleUnmapped.
type FinanceAccountResolver interface {
	Resolve(ctx context.Context, orgID uuid.UUID, role AccountRole) (uuid.UUID, error)
}

// LedgerPort is the slice of the posting service the orchestrator uses.
type LedgerPort interface {
	Post(ctx context.Context, input ledger.PostingInput) (ledger.Posting, error)
}

// PaymentEventInput carries one provider occurrence through the pipeline.
type PaymentEventInput struct {
	OrgID           uuid.UUID
	BookingID       uuid.UUID
	AgencyID        uuid.UUID
	PaymentID       string
	Provider        string
	AmountMinor     int64
	TotalMinor      int64
	Currency        string
	OccurredAt      time.Time
	RequestID       string
	ProviderEventID string
	CorrelationID   string
	Raw             json.RawMessage
}

// Result bundles the outcome of one applied payment event.
type Result struct {
	Transaction Transaction
	Before      Aggregate
	After       Aggregate
}

// Orchestrator sequences transaction logging, lifecycle-event emission,
// ledger posting, and aggregate update for a single payment event. The order
// is load-bearing: the transaction log is written and checked first, so at
// most one invocation per distinct provider event ever reaches the later
// steps.
type Orchestrator struct {
	txlog      *TransactionLog
	events     BookingEventAppender
	accounts   FinanceAccountResolver
	ledger     LedgerPort
	aggregates *AggregateService
	logger     *slog.Logger
}

// NewOrchestrator constructs the orchestrator.
func NewOrchestrator(txlog *TransactionLog, events BookingEventAppender, accounts FinanceAccountResolver, ledgerSvc LedgerPort, aggregates *AggregateService, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		txlog:      txlog,
		events:     events,
		accounts:   accounts,
		ledger:     ledgerSvc,
		aggregates: aggregates,
		logger:     logger,
	}
}

// RecordCaptureSucceeded applies a successful capture. It returns nil when
// the event was already processed.
func (o *Orchestrator) RecordCaptureSucceeded(ctx context.Context, in PaymentEventInput) (*Result, error) {
	return o.record(ctx, in, recordPlan{
		transactionType: TransactionCaptureSucceeded,
		lifecycleEvent:  BookingEventPaymentCaptured,
		postingEvent:    "payment_captured",
		debitRole:       RoleAgency,
		creditRole:      RolePlatform,
		applyDelta:      o.aggregates.ApplyCapture,
	})
}

// RecordRefundSucceeded applies a successful refund. It returns nil when the
// event was already processed.
func (o *Orchestrator) RecordRefundSucceeded(ctx context.Context, in PaymentEventInput) (*Result, error) {
	return o.record(ctx, in, recordPlan{
		transactionType: TransactionRefundSucceeded,
		lifecycleEvent:  BookingEventPaymentRefunded,
		postingEvent:    "payment_refunded",
		debitRole:       RolePlatform,
		creditRole:      RoleAgency,
		applyDelta:      o.aggregates.ApplyRefund,
	})
}

type recordPlan struct {
	transactionType TransactionType
	lifecycleEvent  string
	postingEvent    string
	debitRole       AccountRole
	creditRole      AccountRole
	applyDelta      func(ctx context.Context, orgID, bookingID uuid.UUID, delta int64) (Aggregate, Aggregate, error)
}

func (o *Orchestrator) record(ctx context.Context, in PaymentEventInput, plan recordPlan) (*Result, error) {
	inserted, err := o.txlog.Insert(ctx, TransactionInput{
		OrgID:           in.OrgID,
		BookingID:       in.BookingID,
		PaymentID:       in.PaymentID,
		Type:            plan.transactionType,
		Provider:        in.Provider,
		AmountMinor:     in.AmountMinor,
		Currency:        in.Currency,
		OccurredAt:      in.OccurredAt,
		RequestID:       in.RequestID,
		ProviderEventID: in.ProviderEventID,
		Raw:             in.Raw,
	})
	if err != nil {
		return nil, err
	}
	if inserted.AlreadyExists {
		// Replayed event: no lifecycle event, no posting, no aggregate change.
		return nil, nil
	}

	if err := o.events.Append(ctx, BookingEvent{
		OrgID:     in.OrgID,
		BookingID: in.BookingID,
		Type:      plan.lifecycleEvent,
		At:        in.OccurredAt,
		Meta: map[string]any{
			"payment_id":     in.PaymentID,
			"provider":       in.Provider,
			"amount_minor":   in.AmountMinor,
			"currency":       in.Currency,
			"correlation_id": in.CorrelationID,
			"event_id":       in.ProviderEventID,
		},
	}); err != nil {
		return nil, err
	}

	if err := o.postLedger(ctx, in, plan); err != nil {
		return nil, err
	}

	// First payment activity for the booking provisions the aggregate row;
	// an existing row wins, so replays and refunds see the original total.
	if _, err := o.aggregates.Ensure(ctx, in.OrgID, in.BookingID, bookingTotal(in), in.Currency); err != nil {
		return nil, err
	}

	before, after, err := plan.applyDelta(ctx, in.OrgID, in.BookingID, in.AmountMinor)
	if err != nil {
		return nil, err
	}

	return &Result{Transaction: inserted.Transaction, Before: before, After: after}, nil
}

func (o *Orchestrator) postLedger(ctx context.Context, in PaymentEventInput, plan recordPlan) error {
	debitAccount, err := o.accounts.Resolve(ctx, in.OrgID, plan.debitRole)
	if err != nil {
		return fmt.Errorf("resolve %s account: %w", plan.debitRole, err)
	}
	creditAccount, err := o.accounts.Resolve(ctx, in.OrgID, plan.creditRole)
	if err != nil {
		return fmt.Errorf("resolve %s account: %w", plan.creditRole, err)
	}

	occurredAt := in.OccurredAt
	amount := minorToUnits(in.AmountMinor)
	_, err = o.ledger.Post(ctx, ledger.PostingInput{
		OrgID:      in.OrgID,
		SourceType: "booking",
		SourceID:   in.BookingID.String(),
		Event:      plan.postingEvent,
		Currency:   in.Currency,
		Memo:       fmt.Sprintf("%s %s via %s", plan.postingEvent, in.PaymentID, in.Provider),
		OccurredAt: &occurredAt,
		// Several payments can hit one booking; the provider event id keeps
		// each posting's idempotency key distinct.
		Meta: ledger.PostingMeta{AmendID: in.ProviderEventID},
		Lines: []ledger.PostingLineInput{
			{Account: ledger.AccountRef{ID: debitAccount}, Direction: ledger.DirectionDebit, Amount: amount},
			{Account: ledger.AccountRef{ID: creditAccount}, Direction: ledger.DirectionCredit, Amount: amount},
		},
	})
	return err
}

// minorToUnits converts integer minor units to the decimal currency units the
// ledger stores.
func minorToUnits(minor int64) float64 {
	return float64(minor) / 100
}

// bookingTotal falls back to the event amount when the provider omits the
// booking total, covering single-capture bookings.
func bookingTotal(in PaymentEventInput) int64 {
	if in.TotalMinor > 0 {
		return in.TotalMinor
	}
	return in.AmountMinor
}

package payments

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is derived from the aggregate amounts, never stored as a
// transition.
type PaymentStatus string

const (
	StatusPending       PaymentStatus = "PENDING"
	StatusPartiallyPaid PaymentStatus = "PARTIALLY_PAID"
	StatusPaid          PaymentStatus = "PAID"
	StatusRefunded      PaymentStatus = "REFUNDED"
)

// StatusFor maps (paid, refunded, total) to exactly one status.
func StatusFor(paid, refunded, total int64) PaymentStatus {
	switch {
	case paid == 0:
		return StatusPending
	case refunded == paid:
		return StatusRefunded
	case paid >= total:
		return StatusPaid
	default:
		return StatusPartiallyPaid
	}
}

// settled reports whether the status is a terminal success outcome.
func (s PaymentStatus) settled() bool {
	return s == StatusPaid || s == StatusRefunded
}

// Aggregate is the per-booking running payment state, amounts in integer
// minor units. Mutated only through CAS updates keyed on Version.
type Aggregate struct {
	ID             uuid.UUID
	OrgID          uuid.UUID
	BookingID      uuid.UUID
	Currency       string
	AmountTotal    int64
	AmountPaid     int64
	AmountRefunded int64
	Status         PaymentStatus
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TransactionType enumerates payment-provider occurrences the log records.
type TransactionType string

const (
	TransactionCaptureSucceeded TransactionType = "capture_succeeded"
	TransactionRefundSucceeded  TransactionType = "refund_succeeded"
)

// Transaction is one append-only log entry for a provider occurrence.
type Transaction struct {
	ID              uuid.UUID
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
	CreatedAt       time.Time
}

// InsertResult distinguishes a fresh insert from a benign duplicate so
// callers cannot mistake a replay for a fatal error.
type InsertResult struct {
	Transaction   Transaction
	AlreadyExists bool
}

// Decision is the finalize guard's classification of a provider event.
type Decision string

const (
	DecisionApplied           Decision = "applied"
	DecisionIgnoredDuplicate  Decision = "ignored_duplicate"
	DecisionIgnoredOutOfOrder Decision = "ignored_out_of_order"
)

// FinalizationRecord stores one decision per (provider, event id) ever seen.
type FinalizationRecord struct {
	ID              uuid.UUID
	OrgID           uuid.UUID
	Provider        string
	EventID         string
	EventType       ProviderEventType
	PaymentIntentID string
	BookingID       uuid.UUID
	Decision        Decision
	Reason          string
	CreatedAt       time.Time
}

// ProviderEventType enumerates the provider notifications the guard accepts.
type ProviderEventType string

const (
	EventCaptureSucceeded ProviderEventType = "capture_succeeded"
	EventCaptureFailed    ProviderEventType = "capture_failed"
	EventRefundSucceeded  ProviderEventType = "refund_succeeded"
	EventRefundFailed     ProviderEventType = "refund_failed"
)

// success reports whether the event signals money movement.
func (t ProviderEventType) success() bool {
	return t == EventCaptureSucceeded || t == EventRefundSucceeded
}

// Known reports whether the event type is part of the contract.
func (t ProviderEventType) Known() bool {
	switch t {
	case EventCaptureSucceeded, EventCaptureFailed, EventRefundSucceeded, EventRefundFailed:
		return true
	}
	return false
}

// contradicts reports whether an applied record for the same payment intent
// makes this event out of order. The contract is deliberately minimal:
// success after failure and failure after success are contradictory, nothing
// else is.
func (t ProviderEventType) contradicts(applied ProviderEventType) bool {
	return t.success() != applied.success()
}

// EventMetadata carries the booking context parsed out of the provider payload.
type EventMetadata struct {
	BookingID     uuid.UUID
	OrgID         uuid.UUID
	AgencyID      uuid.UUID
	CorrelationID string
	AmountMinor   int64
	TotalMinor    int64
	Currency      string
}

// ProviderEvent is the parsed provider notification handed to the guard.
type ProviderEvent struct {
	EventID         string
	Type            ProviderEventType
	Provider        string
	PaymentIntentID string
	OccurredAt      time.Time
	Metadata        EventMetadata
	Raw             json.RawMessage
}

// BookingEvent is the human-readable lifecycle event appended to the external
// booking event log.
type BookingEvent struct {
	OrgID     uuid.UUID
	BookingID uuid.UUID
	Type      string
	Meta      map[string]any
	At        time.Time
}

// Lifecycle event types emitted by this core.
const (
	BookingEventPaymentCaptured = "PAYMENT_CAPTURED"
	BookingEventPaymentRefunded = "PAYMENT_REFUNDED"
	BookingEventPaymentFailed   = "PAYMENT_FAILED"
)

// AccountRole names the finance accounts the orchestrator posts against.
type AccountRole string

const (
	RoleAgency   AccountRole = "agency"
	RolePlatform AccountRole = "platform"
)

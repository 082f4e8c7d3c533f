package payments

import (
	"fmt"

	"github.com/roamly/roamly-payments/internal/platform/httpx"
)

var (
	// ErrAggregateNotFound indicates no payment aggregate exists for the booking.
	ErrAggregateNotFound = fmt.Errorf("payments: booking payment aggregate not found: %w", httpx.ErrNotFound)
	// ErrInvalidAmount indicates a non-positive capture or refund delta.
	ErrInvalidAmount = fmt.Errorf("payments: amount must be positive: %w", httpx.ErrValidation)
	// ErrCaptureExceedsTotal indicates paid would exceed the booking total.
	ErrCaptureExceedsTotal = fmt.Errorf("payments: capture would exceed booking total: %w", httpx.ErrConflict)
	// ErrRefundExceedsPaid indicates refunded would exceed the paid amount.
	ErrRefundExceedsPaid = fmt.Errorf("payments: refund would exceed paid amount: %w", httpx.ErrConflict)
	// ErrVersionConflict indicates the CAS update lost the race twice.
	// Safe to retry: the transaction log upstream makes redelivery idempotent.
	ErrVersionConflict = fmt.Errorf("payments: concurrent aggregate update: %w", httpx.ErrConcurrency)
	// ErrAggregateExists indicates the aggregate row was already provisioned.
	ErrAggregateExists = fmt.Errorf("payments: booking payment aggregate already exists: %w", httpx.ErrDuplicate)
	// ErrDuplicateTransaction indicates a dedupe key matched a prior insert.
	// Internal to the log; callers see an InsertResult, never this error.
	ErrDuplicateTransaction = fmt.Errorf("payments: transaction already recorded: %w", httpx.ErrDuplicate)
	// ErrFinalizationExists indicates the (provider, event id) pair was already decided.
	ErrFinalizationExists = fmt.Errorf("payments: finalization already recorded: %w", httpx.ErrDuplicate)
	// ErrUnknownEventType indicates a provider event type outside the contract.
	ErrUnknownEventType = fmt.Errorf("payments: unknown provider event type: %w", httpx.ErrValidation)
	// ErrAccountRoleUnmapped indicates no finance account is mapped for the role.
	ErrAccountRoleUnmapped = fmt.Errorf("payments: finance account role not mapped: %w", httpx.ErrNotFound)
)

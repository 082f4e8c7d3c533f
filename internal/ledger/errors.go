package ledger

import (
	"fmt"

	"github.com/roamly/roamly-payments/internal/platform/httpx"
)

var (
	// ErrTooFewLines indicates less than two posting lines.
	ErrTooFewLines = fmt.Errorf("ledger: posting requires at least two lines: %w", httpx.ErrValidation)
	// ErrUnbalanced indicates debit total != credit total.
	ErrUnbalanced = fmt.Errorf("ledger: debit and credit totals must balance: %w", httpx.ErrValidation)
	// ErrLineAmount indicates a non-positive line amount.
	ErrLineAmount = fmt.Errorf("ledger: line amounts must be positive: %w", httpx.ErrValidation)
	// ErrInvalidDirection indicates a direction outside DEBIT/CREDIT.
	ErrInvalidDirection = fmt.Errorf("ledger: invalid line direction: %w", httpx.ErrValidation)
	// ErrInvalidCurrency indicates a currency code outside ISO 4217.
	ErrInvalidCurrency = fmt.Errorf("ledger: invalid currency code: %w", httpx.ErrValidation)
	// ErrInvalidSource indicates a missing source reference.
	ErrInvalidSource = fmt.Errorf("ledger: source type and id required: %w", httpx.ErrValidation)
	// ErrAccountNotFound indicates the account could not be resolved.
	ErrAccountNotFound = fmt.Errorf("ledger: account not found: %w", httpx.ErrNotFound)
	// ErrBalanceNotFound indicates no cached balance for the account/currency.
	ErrBalanceNotFound = fmt.Errorf("ledger: balance not found: %w", httpx.ErrNotFound)
	// ErrUnknownAccountType indicates an account type outside the fixed mapping.
	// This fails loudly instead of defaulting to the agency rule.
	ErrUnknownAccountType = fmt.Errorf("ledger: unknown account type: %w", httpx.ErrConflict)
	// ErrPostingExists indicates the idempotency key raced with another insert.
	ErrPostingExists = fmt.Errorf("ledger: posting already recorded: %w", httpx.ErrDuplicate)
	// ErrInvalidAccountRef indicates an account reference that could not be parsed.
	ErrInvalidAccountRef = fmt.Errorf("ledger: invalid account reference: %w", httpx.ErrValidation)
)

package vault

import (
	"errors"

	"custody-vault/internal/ledger"
	"custody-vault/internal/pricing"
)

var (
	// ErrZeroAmount is returned when an operation moves no value
	ErrZeroAmount = errors.New("amount must be greater than zero")
	// ErrInvalidAmount is returned for negative amounts
	ErrInvalidAmount = errors.New("amount must not be negative")
	// ErrAmountMismatch is returned when the attached native value does not
	// match the requested deposit
	ErrAmountMismatch = errors.New("attached value does not match amount")
	// ErrCapExceeded is returned when a deposit would push the lifetime
	// deposits of an account above the per-account cap
	ErrCapExceeded = errors.New("per-account deposit cap exceeded")
	// ErrLimitExceeded is returned when a withdrawal is worth more than the
	// per-transaction limit
	ErrLimitExceeded = errors.New("per-transaction withdrawal limit exceeded")
	// ErrInsufficientFunds is returned when a withdrawal exceeds the held amount
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNothingToWithdraw is returned when the account holds nothing
	ErrNothingToWithdraw = errors.New("nothing to withdraw")
	// ErrPriceUnavailable is returned when the native price feed fails, reports
	// a non-positive price or is stale. It is pricing.ErrPriceUnavailable.
	ErrPriceUnavailable = pricing.ErrPriceUnavailable
	// ErrMetadataUnavailable is returned when a token cannot be resolved or its
	// decimals cannot be read. It is pricing.ErrMetadataUnavailable.
	ErrMetadataUnavailable = pricing.ErrMetadataUnavailable
	// ErrAlreadyProcessed is returned when a chain call was already applied.
	// It is ledger.ErrAlreadyProcessed.
	ErrAlreadyProcessed = ledger.ErrAlreadyProcessed
	// ErrTransferFailed is returned when an external value transfer fails
	ErrTransferFailed = errors.New("asset transfer failed")
	// ErrReentrancyDetected is returned when an operation starts while another
	// one is still executing
	ErrReentrancyDetected = errors.New("reentrant call detected")
	// ErrUnauthorized is returned when the operator lacks the admin capability
	ErrUnauthorized = errors.New("caller is not authorized")
	// ErrInvalidLimits is returned by NewLimits for inconsistent limits
	ErrInvalidLimits = errors.New("invalid vault limits")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrZeroAmount, "zero_amount"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrAmountMismatch, "amount_mismatch"},
	{ErrCapExceeded, "cap_exceeded"},
	{ErrLimitExceeded, "limit_exceeded"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrNothingToWithdraw, "nothing_to_withdraw"},
	{ErrPriceUnavailable, "price_unavailable"},
	{ErrMetadataUnavailable, "metadata_unavailable"},
	{ErrTransferFailed, "transfer_failed"},
	{ErrReentrancyDetected, "reentrancy_detected"},
	{ErrUnauthorized, "unauthorized"},
	{ErrAlreadyProcessed, "already_processed"},
}

// Reason maps an operation error onto a short label for metrics and API
// responses. Errors outside the vault taxonomy map to "internal".
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}

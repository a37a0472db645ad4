package ledger

import "errors"

var (
	// ErrNotFound is returned when an account, deposit or payout does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds occurs when the source wallet lacks available balance
	// to cover a requested movement. Nothing is applied when it is returned.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAlreadyProcessed guards re-entry into a deposit or payout that has
	// already left its initial state.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrExternalTransport indicates the payment rail call failed or timed out.
	// The attempt is terminal; callers may start a new one.
	ErrExternalTransport = errors.New("external transport failure")

	// ErrInvalidAmount rejects zero, negative or over-precise amounts.
	ErrInvalidAmount = errors.New("amount must be positive with at most 2 decimal places")

	// ErrAccountExists is returned by CreateAccount when the user already has one.
	ErrAccountExists = errors.New("account already exists")
)

// Kind returns the stable error kind exposed to API callers.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, ErrExternalTransport):
		return "external_transport_failure"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrAccountExists):
		return "account_exists"
	default:
		return "internal"
	}
}

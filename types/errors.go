package types

import "errors"

// Error is the typed error carried across package boundaries. Code is
// machine-readable; Message is safe to log and, for verification
// failures, to show to an end user.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Common error codes.
const (
	// ErrMalformedAmount marks an amount string that cannot be
	// losslessly converted to smallest units. Caller error, never
	// retried.
	ErrMalformedAmount = "MALFORMED_AMOUNT"

	// ErrChainUnavailable marks a transient provider failure: timeout,
	// connection error, rate limit. It means "unknown, retry", never
	// "invalid", and is never cached.
	ErrChainUnavailable = "CHAIN_UNAVAILABLE"

	// ErrUnsupportedChain marks a chain identifier with no configured
	// provider.
	ErrUnsupportedChain = "UNSUPPORTED_CHAIN"

	// ErrDuplicateTxHash signals the payment is already recorded. Both
	// recording paths convert it into an idempotent success.
	ErrDuplicateTxHash = "DUPLICATE_TX_HASH"

	// ErrVerificationFailed marks a recording attempt whose transaction
	// did not verify.
	ErrVerificationFailed = "VERIFICATION_FAILED"

	ErrConfigError = "CONFIG_ERROR"
	ErrLedgerError = "LEDGER_ERROR"
)

// HasCode reports whether err is (or wraps) a *Error with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// IsChainUnavailable reports whether err is a transient chain-access
// failure that a caller may retry.
func IsChainUnavailable(err error) bool {
	return HasCode(err, ErrChainUnavailable)
}

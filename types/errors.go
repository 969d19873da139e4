package types

import "errors"

// PaymentError is the structured error returned for protocol-level
// rejections. Code is stable and machine-readable; Message is for humans.
type PaymentError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *PaymentError) Error() string {
	return e.Message
}

// Rejection codes. The first group is payer-correctable; nonce_already_used
// is surfaced distinctly so callers can tell "already paid" from "rejected";
// the external execution codes are server/ledger-side conditions.
const (
	ErrChallengeExpired  = "challenge_expired"
	ErrParameterMismatch = "parameter_mismatch"
	ErrInvalidSignature  = "invalid_signature"
	ErrNonceAlreadyUsed  = "nonce_already_used"

	ErrExternalExecutionFailed  = "external_execution_failed"
	ErrExternalExecutionTimeout = "external_execution_timeout"

	ErrMalformedPayload   = "malformed_payload"
	ErrUnsupportedScheme  = "unsupported_scheme"
	ErrUnsupportedNetwork = "unsupported_network"
	ErrConfigError        = "config_error"
)

// NewPaymentError builds a PaymentError with the given code and message.
func NewPaymentError(code, message string) *PaymentError {
	return &PaymentError{Code: code, Message: message}
}

// CodeOf extracts the rejection code from an error chain. Errors that are
// not PaymentErrors report an empty code.
func CodeOf(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsRetryable reports whether a payer can correct the rejection by minting
// a fresh authorization against a fresh requirement. Nonce reuse and bad
// signatures are not retryable with the same authorization; a timeout is
// unknown, not negative, and must not be retried before reconciliation.
func IsRetryable(code string) bool {
	switch code {
	case ErrChallengeExpired, ErrParameterMismatch, ErrMalformedPayload:
		return true
	default:
		return false
	}
}

package x402gate

import (
	"errors"
	"fmt"
)

// PaymentError is the error type returned by every core operation that can
// fail for a payment-specific reason. Code is one of the Err* constants
// below and is what gets serialized to clients/logs; Message is a
// human-readable detail, Details carries structured context.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code vocabulary of the core, so callers can switch on e.Code
// without string literals scattered through the codebase. Scheme handlers
// also report snake_case reasons of their own in invalidReason/errorReason
// (for example evmexact's "signature_signer_mismatch" and svmexact's
// "missing_transfer_instruction"); those are not listed here.
const (
	// Negotiation / requirements selection.
	ErrCodeNoMatchingRequirement = "no_matching_requirement"
	ErrCodeUnsupportedScheme     = "unsupported_scheme"
	ErrCodeUnsupportedNetwork    = "unsupported_network"
	ErrCodeSchemeMismatch        = "scheme_mismatch"
	ErrCodeNetworkMismatch       = "network_mismatch"

	// Payload shape / decoding.
	ErrCodeInvalidPayment    = "invalid_payment"
	ErrCodePaymentRequired   = "payment_required"
	ErrCodeMalformedPayload  = "malformed_payload"
	ErrCodeUnsupportedVersion = "unsupported_version"

	// Verify-time failures.
	ErrCodeSignatureInvalid  = "invalid_signature"
	ErrCodeRecipientMismatch = "recipient_mismatch"
	ErrCodeAmountMismatch    = "amount_mismatch"
	ErrCodeNonceUsed         = "nonce_used"
	ErrCodeInsufficientFunds = "insufficient_funds"
	ErrCodePaymentExpired    = "payment_expired"

	// Settle-time / transport failures.
	ErrCodeSettlementFailed      = "settlement_failed"
	ErrCodeSettlementTimeout     = "settlement_timeout"
	ErrCodeFacilitatorUnreachable = "facilitator_unreachable"

	// Extensibility / hooks / catch-all.
	ErrCodePaymentHookError = "payment_hook_error"
	ErrCodeExtensionInvalid = "extension_invalid"
	ErrCodeInternal         = "internal_error"
)

// NewPaymentError constructs a PaymentError.
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ErrorCode extracts the snake_case wire code from err, falling back to
// ErrCodeInternal for errors that aren't a *PaymentError. Wire fields
// (error/invalidReason/errorReason) must always carry a bare snake_case
// code, never err.Error()'s human-readable "code: message" text.
func ErrorCode(err error) string {
	var perr *PaymentError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return ErrCodeInternal
}

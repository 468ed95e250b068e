package v2

import "errors"

// Sentinel errors for x402 v2 payment operations.
var (
	// ErrNoValidSigner indicates no signer can satisfy the payment requirements.
	ErrNoValidSigner = errors.New("x402: no signer can satisfy payment requirements")

	// ErrAmountExceeded indicates the payment amount exceeds the per-call limit.
	ErrAmountExceeded = errors.New("x402: payment amount exceeds per-call limit")

	// ErrInvalidRequirements indicates the payment requirements from the server are invalid.
	ErrInvalidRequirements = errors.New("x402: invalid payment requirements")

	// ErrSigningFailed indicates the payment signing operation failed.
	ErrSigningFailed = errors.New("x402: payment signing failed")

	// ErrNetworkError indicates a network error occurred during payment.
	ErrNetworkError = errors.New("x402: network error during payment")

	// ErrInvalidAmount indicates an invalid amount string.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidKey indicates an invalid private key.
	ErrInvalidKey = errors.New("x402: invalid private key")

	// ErrInvalidNetwork indicates an unsupported network.
	ErrInvalidNetwork = errors.New("x402: invalid or unsupported network")

	// ErrInvalidToken indicates invalid token configuration.
	ErrInvalidToken = errors.New("x402: invalid token configuration")

	// ErrInvalidKeystore indicates an invalid or corrupted keystore file.
	ErrInvalidKeystore = errors.New("x402: invalid keystore file")

	// ErrInvalidMnemonic indicates an invalid BIP39 mnemonic phrase.
	ErrInvalidMnemonic = errors.New("x402: invalid mnemonic phrase")

	// ErrNoTokens indicates no tokens are configured for the signer.
	ErrNoTokens = errors.New("x402: no tokens configured")

	// ErrFacilitatorUnavailable indicates the facilitator service is unavailable.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")

	// ErrVerificationFailed indicates payment verification failed.
	ErrVerificationFailed = errors.New("x402: payment verification failed")

	// ErrSettlementFailed indicates payment settlement failed.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")

	// ErrMalformedHeader indicates the X-PAYMENT header is malformed.
	ErrMalformedHeader = errors.New("x402: malformed payment header")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("x402: unsupported protocol version")

	// ErrUnsupportedScheme indicates an unsupported payment scheme.
	ErrUnsupportedScheme = errors.New("x402: unsupported payment scheme")
)

// ErrorCode represents payment error codes for programmatic handling.
type ErrorCode string

const (
	// ErrCodeNoValidSigner indicates no signer can satisfy requirements.
	ErrCodeNoValidSigner ErrorCode = "NO_VALID_SIGNER"

	// ErrCodeAmountExceeded indicates payment exceeds limits.
	ErrCodeAmountExceeded ErrorCode = "AMOUNT_EXCEEDED"

	// ErrCodeInvalidRequirements indicates invalid server requirements.
	ErrCodeInvalidRequirements ErrorCode = "INVALID_REQUIREMENTS"

	// ErrCodeSigningFailed indicates signing operation failed.
	ErrCodeSigningFailed ErrorCode = "SIGNING_FAILED"

	// ErrCodeNetworkError indicates network communication error.
	ErrCodeNetworkError ErrorCode = "NETWORK_ERROR"

	// ErrCodeUnsupportedScheme indicates unsupported payment scheme or network.
	ErrCodeUnsupportedScheme ErrorCode = "UNSUPPORTED_SCHEME"

	// ErrCodeUnsupportedVersion indicates unsupported x402 protocol version.
	ErrCodeUnsupportedVersion ErrorCode = "UNSUPPORTED_VERSION"
)

// PaymentError provides structured error information.
type PaymentError struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Details contains additional error context.
	Details map[string]interface{}

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a new PaymentError with the given code and message.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds additional context to the error.
// Lazily initializes the Details map if nil.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// InvalidReason is the closed taxonomy of VerifyResponse.InvalidReason values.
// A facilitator MUST only ever populate InvalidReason with one of these.
type InvalidReason string

const (
	// Client format.
	InvalidReasonInvalidPayload             InvalidReason = "invalid_payload"
	InvalidReasonInvalidScheme               InvalidReason = "invalid_scheme"
	InvalidReasonUnsupportedScheme            InvalidReason = "unsupported_scheme"
	InvalidReasonInvalidX402Version           InvalidReason = "invalid_x402_version"
	InvalidReasonInvalidPaymentRequirements   InvalidReason = "invalid_payment_requirements"
	InvalidReasonNoMatchingRequirements       InvalidReason = "no_matching_requirements"

	// Exact-EVM authorization checks.
	InvalidReasonExactEVMSignature               InvalidReason = "invalid_exact_evm_payload_signature"
	InvalidReasonExactEVMAuthValidAfter           InvalidReason = "invalid_exact_evm_payload_authorization_valid_after"
	InvalidReasonExactEVMAuthValidBefore          InvalidReason = "invalid_exact_evm_payload_authorization_valid_before"
	InvalidReasonExactEVMAuthValue                InvalidReason = "invalid_exact_evm_payload_authorization_value"
	InvalidReasonExactEVMAuthRecipientMismatch    InvalidReason = "invalid_exact_evm_payload_authorization_recipient_mismatch"
	InvalidReasonExactEVMAssetMismatch            InvalidReason = "invalid_exact_evm_payload_asset_mismatch"
	InvalidReasonExactEVMNonceUsed                InvalidReason = "invalid_exact_evm_payload_nonce_used"
	InvalidReasonInsufficientFunds                InvalidReason = "insufficient_funds"

	// Exact-SVM transaction shape, one per transaction verification rule.
	InvalidReasonExactSVMInstructionCount         InvalidReason = "invalid_exact_svm_payload_transaction_instruction_count"
	InvalidReasonExactSVMComputeBudgetShape        InvalidReason = "invalid_exact_svm_payload_transaction_compute_budget"
	InvalidReasonExactSVMComputeUnitPriceCeiling   InvalidReason = "invalid_exact_svm_payload_transaction_compute_unit_price_exceeded"
	InvalidReasonExactSVMCreateATAMismatch         InvalidReason = "invalid_exact_svm_payload_transaction_create_ata_mismatch"
	InvalidReasonExactSVMTransferAmount            InvalidReason = "invalid_exact_svm_payload_transaction_transfer_amount"
	InvalidReasonExactSVMTransferMint              InvalidReason = "invalid_exact_svm_payload_transaction_transfer_mint"
	InvalidReasonExactSVMTransferToIncorrectATA    InvalidReason = "invalid_exact_svm_payload_transaction_transfer_to_incorrect_ata"
	InvalidReasonExactSVMSourceATAMissing          InvalidReason = "invalid_exact_svm_payload_transaction_source_ata_missing"
	InvalidReasonExactSVMFeePayerMismatch          InvalidReason = "invalid_exact_svm_payload_transaction_fee_payer_mismatch"
	InvalidReasonExactSVMPreflightFailed           InvalidReason = "invalid_exact_svm_payload_transaction_preflight_failed"

	// Settlement/infra.
	InvalidReasonInvalidTransactionState    InvalidReason = "invalid_transaction_state"
	InvalidReasonUnexpectedVerifyError      InvalidReason = "unexpected_verify_error"
)

// SettleErrorReason is the closed taxonomy of SettleResponse.ErrorReason values.
type SettleErrorReason string

const (
	SettleErrorInvalidTransactionState        SettleErrorReason = "invalid_transaction_state"
	SettleErrorUnexpectedSettleError          SettleErrorReason = "unexpected_settle_error"
	SettleErrorExactSVMBlockHeightExceeded    SettleErrorReason = "settle_exact_svm_block_height_exceeded"
)

// invalidDescriptions renders a short human-readable sentence for each
// InvalidReason, kept in one table so every facilitator produces the same
// wording for the same failure.
var invalidDescriptions = map[InvalidReason]string{
	InvalidReasonInvalidPayload:                 "the payment payload could not be parsed",
	InvalidReasonInvalidScheme:                  "the payment scheme is malformed",
	InvalidReasonUnsupportedScheme:               "no handler is registered for this scheme/network",
	InvalidReasonInvalidX402Version:              "the facilitator does not implement this x402 protocol version",
	InvalidReasonInvalidPaymentRequirements:      "the supplied payment requirements are invalid",
	InvalidReasonNoMatchingRequirements:          "the payload's accepted requirement does not match any advertised option",
	InvalidReasonExactEVMSignature:               "the signature does not recover to the claimed payer address",
	InvalidReasonExactEVMAuthValidAfter:          "the authorization is not yet valid",
	InvalidReasonExactEVMAuthValidBefore:         "the authorization has expired",
	InvalidReasonExactEVMAuthValue:               "the authorized value does not equal the required amount",
	InvalidReasonExactEVMAuthRecipientMismatch:   "the authorization recipient does not match the requirement's payTo",
	InvalidReasonExactEVMAssetMismatch:           "the authorization asset does not match the requirement's asset",
	InvalidReasonExactEVMNonceUsed:               "the authorization nonce has already been consumed on-chain",
	InvalidReasonInsufficientFunds:               "the payer's on-chain balance is less than the authorized value",
	InvalidReasonExactSVMInstructionCount:        "the transaction does not contain the expected instruction count",
	InvalidReasonExactSVMComputeBudgetShape:      "the leading compute-budget instructions are missing or malformed",
	InvalidReasonExactSVMComputeUnitPriceCeiling: "the requested compute-unit price exceeds the facilitator's ceiling",
	InvalidReasonExactSVMCreateATAMismatch:       "the create-ATA instruction does not match payTo/asset",
	InvalidReasonExactSVMTransferAmount:          "the transfer instruction amount does not match the required amount",
	InvalidReasonExactSVMTransferMint:            "the transfer instruction mint does not match the required asset",
	InvalidReasonExactSVMTransferToIncorrectATA:  "the transfer destination is not the ATA derived from payTo and asset",
	InvalidReasonExactSVMSourceATAMissing:        "the payer's source token account does not exist",
	InvalidReasonExactSVMFeePayerMismatch:        "the transaction fee payer is not the facilitator",
	InvalidReasonExactSVMPreflightFailed:         "preflight simulation of the transaction failed",
	InvalidReasonInvalidTransactionState:         "the on-chain transaction reverted or was not found",
	InvalidReasonUnexpectedVerifyError:           "the facilitator could not be reached or returned an unexpected error",
}

// DescribeInvalidReason returns the canonical human-readable description for
// reason, falling back to the reason string itself if unknown.
func DescribeInvalidReason(reason InvalidReason) string {
	if desc, ok := invalidDescriptions[reason]; ok {
		return desc
	}
	return string(reason)
}

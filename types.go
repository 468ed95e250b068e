// Package x402 implements version 1 of the x402 HTTP micropayment protocol:
// a 402 Payment Required challenge/response flow where a client authorizes a
// blockchain payment and a facilitator verifies and settles it on the client's
// behalf. Version 2 of the protocol, with CAIP-2 network identifiers and
// protocol extensions, lives in the v2 subpackage.
package x402

import "time"

// PaymentRequirement describes a single acceptable way to pay for a resource.
// It is the v1 element of the "accepts" array returned in a 402 response.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier (e.g., "base-sepolia").
	Network string `json:"network"`

	// MaxAmountRequired is the payment amount in atomic units (e.g., wei).
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Resource is the URL of the protected resource.
	Resource string `json:"resource,omitempty"`

	// Description is a human-readable description of what is being paid for.
	Description string `json:"description,omitempty"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType,omitempty"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// MaxTimeoutSeconds is the validity period for the payment authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Asset is the token contract address.
	Asset string `json:"asset"`

	// Extra carries scheme-specific additional data (e.g., EIP-712 domain info).
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequirementsResponse is the 402 response body sent by resource servers.
type PaymentRequirementsResponse struct {
	// X402Version is the protocol version (1 for v1).
	X402Version int `json:"x402Version"`

	// Error is a human-readable error message.
	Error string `json:"error,omitempty"`

	// Accepts is an array of payment options the server will accept.
	Accepts []PaymentRequirement `json:"accepts"`
}

// EVMAuthorization contains EIP-3009 transferWithAuthorization parameters.
type EVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEVMPayload is the v1 "exact" scheme payload for EVM networks.
type ExactEVMPayload struct {
	Signature     string           `json:"signature"`
	Authorization EVMAuthorization `json:"authorization"`
}

// PaymentPayload is sent by clients to pay for resources.
type PaymentPayload struct {
	// X402Version is the protocol version (1 for v1).
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier.
	Network string `json:"network"`

	// Payload contains the scheme-specific signed payment data, typically
	// an ExactEVMPayload for the "exact" scheme.
	Payload interface{} `json:"payload"`
}

// SettlementResponse is returned by the facilitator /settle endpoint and is
// also what resource servers echo back in the X-PAYMENT-RESPONSE header.
type SettlementResponse struct {
	// Success indicates whether the payment was successfully settled.
	Success bool `json:"success"`

	// ErrorReason provides a short error code if the payment failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// Transaction is the blockchain transaction hash.
	Transaction string `json:"transaction"`

	// Network is the blockchain network where the payment was settled.
	Network string `json:"network"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`
}

// TimeoutConfig controls how long payment operations are allowed to run.
type TimeoutConfig struct {
	// RequestTimeout bounds the overall HTTP round trip for a facilitator call.
	RequestTimeout time.Duration

	// VerifyTimeout bounds a /verify call specifically.
	VerifyTimeout time.Duration

	// SettleTimeout bounds a /settle call specifically, which is typically
	// slower since it waits on chain confirmation.
	SettleTimeout time.Duration
}

// DefaultTimeouts are the timeouts used when a caller does not configure its own.
var DefaultTimeouts = TimeoutConfig{
	RequestTimeout: 10 * time.Second,
	VerifyTimeout:  5 * time.Second,
	SettleTimeout:  30 * time.Second,
}


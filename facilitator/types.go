// Package facilitator defines the v1 wire types exchanged with an x402
// facilitator service's /verify and /supported endpoints. The /settle
// response reuses x402.SettlementResponse since both the facilitator API
// and the X-PAYMENT-RESPONSE header carry the same shape.
package facilitator

import x402 "github.com/x402rail/x402-go"

// VerifyResponse is returned by the facilitator /verify endpoint.
type VerifyResponse struct {
	// IsValid indicates whether the payment is valid.
	IsValid bool `json:"isValid"`

	// InvalidReason provides a short error code if the payment is invalid.
	InvalidReason string `json:"invalidReason,omitempty"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`

	// PaymentPayload echoes the verified payload back to the caller. It is
	// filled in client-side by FacilitatorClient.Verify rather than sent by
	// the facilitator, so callers don't need to keep their own copy around.
	PaymentPayload x402.PaymentPayload `json:"-"`
}

// SupportedKind describes a payment type supported by a facilitator.
type SupportedKind struct {
	// X402Version is the protocol version supported.
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier.
	Network string `json:"network"`

	// Extra contains scheme-specific additional data, such as the facilitator's
	// feePayer address for SVM networks.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is returned by the facilitator /supported endpoint.
type SupportedResponse struct {
	// Kinds lists the payment types supported by the facilitator.
	Kinds []SupportedKind `json:"kinds"`
}

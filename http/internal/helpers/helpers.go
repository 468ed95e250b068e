// Package helpers provides internal utilities shared by the v1 HTTP facilitator client.
package helpers

import x402 "github.com/x402rail/x402-go"

// GetPayer extracts the payer address from a payment payload's scheme-specific
// data. It is used as a fallback when a facilitator's /verify response omits
// the payer field. Payload may already be a typed ExactEVMPayload (when the
// caller built it directly) or a map[string]interface{} (when it arrived via
// json.Unmarshal into the interface{} field); both are handled.
func GetPayer(payment x402.PaymentPayload) string {
	switch p := payment.Payload.(type) {
	case x402.ExactEVMPayload:
		return p.Authorization.From
	case *x402.ExactEVMPayload:
		if p != nil {
			return p.Authorization.From
		}
	case map[string]interface{}:
		auth, ok := p["authorization"].(map[string]interface{})
		if !ok {
			return ""
		}
		from, _ := auth["from"].(string)
		return from
	}
	return ""
}

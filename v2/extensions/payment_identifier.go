package extensions

import (
	"context"
	"fmt"
	"regexp"

	v2 "github.com/x402rail/x402-go/v2"
)

var paymentIdentifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// PaymentIdentifier lets a client attach an idempotency key to a payment so
// retried requests against an at-least-once transport layer don't settle
// twice server-side. The key itself is opaque to the facilitator; dedup
// logic using it lives above this package, in the resource-server runtime.
type PaymentIdentifier struct {
	// Required, when true, causes ValidatePayload to reject payloads that
	// omit the extension entirely.
	Required bool
}

func (p *PaymentIdentifier) Key() string { return "payment-identifier" }

func (p *PaymentIdentifier) Declare(requirement v2.PaymentRequirements) map[string]interface{} {
	return map[string]interface{}{"required": p.Required}
}

func (p *PaymentIdentifier) Enrich(ctx context.Context, declaration map[string]interface{}, transport TransportContext) map[string]interface{} {
	return declaration
}

func (p *PaymentIdentifier) OnSettle(ctx context.Context, settle SettleContext) (map[string]interface{}, bool) {
	return nil, false
}

// ValidatePayload checks a client-echoed payment-identifier extension value
// against the 16-128 char identifier pattern the extension requires. The
// resource-server runtime calls this after decoding PaymentPayload.Extensions,
// since the Extension interface's three hooks have no per-request-payload
// validation step of their own.
func (p *PaymentIdentifier) ValidatePayload(payload v2.PaymentPayload) error {
	ext, ok := payload.Extensions[p.Key()]
	if !ok {
		if p.Required {
			return fmt.Errorf("payment-identifier: required but missing")
		}
		return nil
	}
	id, ok := ext.Info["id"].(string)
	if !ok {
		return fmt.Errorf("payment-identifier: info.id must be a string")
	}
	if len(id) < 16 || len(id) > 128 {
		return fmt.Errorf("payment-identifier: id must be 16-128 characters, got %d", len(id))
	}
	if !paymentIdentifierPattern.MatchString(id) {
		return fmt.Errorf("payment-identifier: id must match ^[A-Za-z0-9_-]+$")
	}
	return nil
}

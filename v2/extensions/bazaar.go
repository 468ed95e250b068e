package extensions

import (
	"context"

	v2 "github.com/x402rail/x402-go/v2"
)

// Bazaar advertises endpoint-discovery metadata for a protected route. It
// carries forward a v1-style outputSchema (if the route was configured with
// one) into the v2 extensions map, so v1 clients migrating to v2 still see
// the same discovery shape.
type Bazaar struct {
	// OutputSchema is the route's JSON Schema describing its successful
	// response body, advertised verbatim under info.outputSchema.
	OutputSchema map[string]interface{}
}

func (b *Bazaar) Key() string { return "bazaar" }

func (b *Bazaar) Declare(requirement v2.PaymentRequirements) map[string]interface{} {
	info := map[string]interface{}{
		"method": "GET",
	}
	if b.OutputSchema != nil {
		info["outputSchema"] = b.OutputSchema
	}
	return info
}

func (b *Bazaar) Enrich(ctx context.Context, declaration map[string]interface{}, transport TransportContext) map[string]interface{} {
	declaration["method"] = transport.Method
	declaration["resource"] = transport.URL
	return declaration
}

func (b *Bazaar) OnSettle(ctx context.Context, settle SettleContext) (map[string]interface{}, bool) {
	return nil, false
}

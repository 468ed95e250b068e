package extensions

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/invopop/jsonschema"

	v2 "github.com/x402rail/x402-go/v2"
)

// SchemaProvider is implemented by extensions that ship a JSON Schema for
// their info object. The registry attaches the schema to the advertised
// declaration and validates client-echoed payloads against it before they
// reach any settle hook.
type SchemaProvider interface {
	Schema() map[string]interface{}
}

// Typed info shapes for the built-in extensions. These exist for schema
// generation; the hooks themselves still work on the decoded
// map[string]interface{} representation the wire format produces.

// BazaarInfo is the discovery metadata the bazaar extension advertises.
type BazaarInfo struct {
	Method       string                 `json:"method"`
	Resource     string                 `json:"resource,omitempty"`
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`
}

// PaymentIdentifierInfo is the payment-identifier extension's wire shape:
// the server declares {required}, the client echoes {id}.
type PaymentIdentifierInfo struct {
	Required bool   `json:"required,omitempty"`
	ID       string `json:"id,omitempty" jsonschema:"minLength=16,maxLength=128,pattern=^[A-Za-z0-9_-]+$"`
}

// SignInWithXInfo is the CAIP-122 challenge the sign-in-with-x extension
// binds to each request.
type SignInWithXInfo struct {
	Domain   string `json:"domain"`
	Nonce    string `json:"nonce,omitempty"`
	IssuedAt string `json:"issuedAt,omitempty"`
	Resource string `json:"resource,omitempty"`
}

// OfferReceiptInfo is the signed offer (in the challenge) or receipt (in the
// settle response) the offer-receipt extension produces.
type OfferReceiptInfo struct {
	Digest      string `json:"digest"`
	Signature   string `json:"signature"`
	Signer      string `json:"signer"`
	Transaction string `json:"transaction,omitempty"`
}

// GasSponsoringInfo is the erc20-approval-gas-sponsoring declaration; the
// client's echoed payload additionally carries the signed permit fields.
type GasSponsoringInfo struct {
	Spender   string `json:"spender"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount,omitempty"`
	Deadline  string `json:"deadline,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// ReputationInfo is the 8004-reputation identity/attestation shape.
type ReputationInfo struct {
	Registry    string `json:"registry"`
	AgentID     string `json:"agentId,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Attested    bool   `json:"attested,omitempty"`
}

// reflectSchema produces a Draft 2020-12 JSON Schema for v as the plain map
// the wire's Extension.Schema field carries. Inline (unreferenced) output so
// consumers don't need $defs resolution to validate against it.
func reflectSchema(v interface{}) map[string]interface{} {
	reflector := jsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	data, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func (b *Bazaar) Schema() map[string]interface{} {
	return reflectSchema(&BazaarInfo{})
}

func (p *PaymentIdentifier) Schema() map[string]interface{} {
	return reflectSchema(&PaymentIdentifierInfo{})
}

func (s *SignInWithX) Schema() map[string]interface{} {
	return reflectSchema(&SignInWithXInfo{})
}

func (o *OfferReceipt) Schema() map[string]interface{} {
	return reflectSchema(&OfferReceiptInfo{})
}

func (g *ERC20ApprovalGasSponsoring) Schema() map[string]interface{} {
	return reflectSchema(&GasSponsoringInfo{})
}

func (r *Reputation) Schema() map[string]interface{} {
	return reflectSchema(&ReputationInfo{})
}

// validateAgainstSchema structurally checks info against schema: every
// property listed in "required" must be present, and present properties must
// match their declared primitive JSON type. It intentionally stops at one
// level of depth - nested objects are opaque - which is the depth the
// built-in extensions' schemas actually use.
func validateAgainstSchema(schema, info map[string]interface{}) error {
	if required, ok := schema["required"].([]interface{}); ok {
		for _, name := range required {
			key, _ := name.(string)
			if _, present := info[key]; !present {
				return fmt.Errorf("missing required property %q", key)
			}
		}
	}
	properties, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return nil
	}
	for key, value := range info {
		prop, ok := properties[key].(map[string]interface{})
		if !ok {
			continue
		}
		declared, ok := prop["type"].(string)
		if !ok {
			continue
		}
		if !matchesJSONType(declared, value) {
			return fmt.Errorf("property %q is not of type %s", key, declared)
		}
	}
	return nil
}

func matchesJSONType(declared string, value interface{}) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number", "integer":
		switch value.(type) {
		case float64, json.Number, int, int64, uint64:
			return true
		}
		return false
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	default:
		return true
	}
}

// ValidateEchoed filters the extensions a client echoed in
// PaymentPayload.Extensions: entries for registered extensions that carry a
// schema are validated against it, and entries that fail validation are
// dropped with a warning rather than surfaced to settle hooks. Entries for
// unregistered keys pass through opaque - the protocol treats unknown
// extensions as forward-compatible data, not errors.
func (r *Registry) ValidateEchoed(logger *slog.Logger, echoed map[string]v2.Extension) map[string]v2.Extension {
	if len(echoed) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]v2.Extension, len(echoed))
	for key, ext := range echoed {
		registered, ok := r.extensions[key]
		if !ok {
			out[key] = ext
			continue
		}
		provider, ok := registered.(SchemaProvider)
		if !ok {
			out[key] = ext
			continue
		}
		schema := provider.Schema()
		if schema == nil {
			out[key] = ext
			continue
		}
		if err := validateAgainstSchema(schema, ext.Info); err != nil {
			logger.Warn("dropping extension payload failing schema validation",
				"extension", key, "error", err)
			continue
		}
		out[key] = ext
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Package extensions implements the x402 v2 extension registry: named,
// independently-loaded protocol extensions that enrich a route's advertised
// PaymentRequired declaration and, on successful settlement, attach extra
// data to the SettleResponse.
package extensions

import (
	"context"
	"sync"

	v2 "github.com/x402rail/x402-go/v2"
)

// TransportContext carries the per-request, transport-bound data an
// extension's enrichDeclaration hook may need (the resource URL, HTTP
// method, and the raw request headers it is allowed to read).
type TransportContext struct {
	Method  string
	URL     string
	Headers map[string][]string
}

// SettleContext carries the data an onSettle hook needs to build its
// response attachment: the verified payer, the settlement result, and the
// declaration that was advertised for the matched requirement.
type SettleContext struct {
	Payer       string
	Settlement  *v2.SettleResponse
	Requirement v2.PaymentRequirements

	// Echoed holds the extension map the client sent back in
	// PaymentPayload.Extensions, already schema-validated, keyed the same
	// way it appeared in the 402 challenge.
	Echoed map[string]v2.Extension
}

// Extension is one named protocol extension. Every method is called for each
// registered extension; one with nothing request-bound to add returns the
// declaration unchanged (or nil) from Enrich and false from OnSettle.
type Extension interface {
	// Key is the extension's unique identifier, e.g. "bazaar".
	Key() string

	// Declare converts route configuration into the info object advertised
	// in PaymentRequired.extensions[Key()].
	Declare(requirement v2.PaymentRequirements) map[string]interface{}

	// Enrich is called per-request to inject request-bound data into the
	// declaration produced by Declare. Extensions MUST NOT depend on
	// another extension's state within the same request.
	Enrich(ctx context.Context, declaration map[string]interface{}, transport TransportContext) map[string]interface{}

	// OnSettle is called after a successful settlement; when it returns true,
	// the returned map becomes the Info of SettleResponse.Extensions[Key()].
	OnSettle(ctx context.Context, settle SettleContext) (map[string]interface{}, bool)
}

// Registry holds the extensions active for a resource server instance.
// Populated once at startup and read concurrently per-request thereafter.
type Registry struct {
	mu         sync.RWMutex
	extensions map[string]Extension
	order      []string
}

func NewRegistry() *Registry {
	return &Registry{extensions: make(map[string]Extension)}
}

// Register adds ext to the registry. Registering the same key twice panics
// at startup rather than silently shadowing, since a silent duplicate would
// be a configuration bug no request-time code path can recover from.
func (r *Registry) Register(ext Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.extensions[ext.Key()]; exists {
		panic("extensions: duplicate registration for key " + ext.Key())
	}
	r.extensions[ext.Key()] = ext
	r.order = append(r.order, ext.Key())
}

// Keys returns the registered extension identifiers, for /supported.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, len(r.order))
	copy(keys, r.order)
	return keys
}

// Lookup returns the extension registered under key, if any.
func (r *Registry) Lookup(key string) (Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext, ok := r.extensions[key]
	return ext, ok
}

// DeclareAndEnrich runs Declare then Enrich for every registered extension
// against requirement, returning the map to attach to PaymentRequired.extensions.
// Extension ordering is unspecified and enrichment runs independently per key.
func (r *Registry) DeclareAndEnrich(ctx context.Context, requirement v2.PaymentRequirements, transport TransportContext) map[string]v2.Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.extensions) == 0 {
		return nil
	}
	out := make(map[string]v2.Extension, len(r.extensions))
	for key, ext := range r.extensions {
		declaration := ext.Declare(requirement)
		if declaration == nil {
			declaration = map[string]interface{}{}
		}
		enriched := ext.Enrich(ctx, declaration, transport)
		if enriched == nil {
			enriched = declaration
		}
		entry := v2.Extension{Info: enriched}
		if provider, ok := ext.(SchemaProvider); ok {
			entry.Schema = provider.Schema()
		}
		out[key] = entry
	}
	return out
}

// RunSettleHooks invokes OnSettle for every registered extension, merging
// results into a map suitable for SettleResponse.Extensions.
func (r *Registry) RunSettleHooks(ctx context.Context, settle SettleContext) map[string]v2.Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out map[string]v2.Extension
	for key, ext := range r.extensions {
		info, ok := ext.OnSettle(ctx, settle)
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]v2.Extension)
		}
		out[key] = v2.Extension{Info: info}
	}
	return out
}

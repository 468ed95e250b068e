// Package scheme holds the facilitator-side (x402Version, network, scheme)
// dispatch registry. A SchemeHandler knows how to verify and settle exactly
// one payment scheme on one network family; the Registry maps incoming
// requests to the right handler.
package scheme

import (
	"context"
	"fmt"
	"strings"
	"sync"

	v2 "github.com/x402rail/x402-go/v2"
)

// Handler performs chain-read verification and chain-write settlement for a
// single (network, scheme) pair. Verify MUST NOT mutate chain state.
type Handler interface {
	// Scheme is the payment scheme identifier this handler serves (e.g. "exact").
	Scheme() string

	// CaipFamily returns the CAIP-2 namespace pattern this handler serves,
	// e.g. "eip155:*" for all EVM chains or "solana:5eykt4Us..." for one
	// specific Solana cluster. A registry registers one handler instance per
	// concrete network, so this is informational/defensive, not the lookup key.
	CaipFamily() string

	// Extra returns facilitator-enrichment data to merge into advertised
	// PaymentRequirements.Extra for this network (e.g. feePayer for SVM).
	Extra(network string) map[string]interface{}

	Verify(ctx context.Context, payload v2.PaymentPayload, requirements v2.PaymentRequirements) (*v2.VerifyResponse, error)
	Settle(ctx context.Context, payload v2.PaymentPayload, requirements v2.PaymentRequirements) (*v2.SettleResponse, error)
}

// key identifies one (x402Version, network, scheme) dispatch slot.
type key struct {
	version int
	network string
	scheme  string
}

// Registry is a read-mostly (x402Version, network, scheme) -> Handler map.
// It is populated once at startup via RegisterScheme/RegisterSchemeV1 and
// read concurrently thereafter; the mutex protects registration, not lookup
// traffic, which is the expected access pattern for a process-lifetime table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[key]Handler
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[key]Handler)}
}

// RegisterScheme registers h to serve x402 v2 requests for (network, scheme).
// Returns an error if a handler is already registered for that slot.
func (r *Registry) RegisterScheme(network, schemeName string, h Handler) error {
	return r.register(v2.X402Version, network, schemeName, h)
}

// RegisterSchemeV1 registers h to serve legacy x402 v1 requests for
// (network, scheme). v1 and v2 share the facilitator-side verification
// rules; only the wire envelope differs, which is handled above this layer.
func (r *Registry) RegisterSchemeV1(network, schemeName string, h Handler) error {
	return r.register(1, network, schemeName, h)
}

func (r *Registry) register(version int, network, schemeName string, h Handler) error {
	if h == nil {
		return fmt.Errorf("scheme: nil handler for %s/%s", network, schemeName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{version: version, network: network, scheme: schemeName}
	if _, exists := r.handlers[k]; exists {
		return fmt.Errorf("scheme: handler already registered for x402Version=%d network=%s scheme=%s", version, network, schemeName)
	}
	r.handlers[k] = h
	return nil
}

// Lookup returns the handler registered for (x402Version, network, scheme).
func (r *Registry) Lookup(x402Version int, network, schemeName string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[key{version: x402Version, network: network, scheme: schemeName}]
	return h, ok
}

// Supported lists every (x402Version, network, scheme) slot currently
// registered, in the shape the /supported endpoint returns.
func (r *Registry) Supported() []v2.SupportedKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]v2.SupportedKind, 0, len(r.handlers))
	for k, h := range r.handlers {
		kinds = append(kinds, v2.SupportedKind{
			X402Version: k.version,
			Scheme:      k.scheme,
			Network:     k.network,
			Extra:       h.Extra(k.network),
		})
	}
	return kinds
}

// MatchesFamily reports whether network falls within the CAIP-2 namespace
// pattern family (e.g. family "eip155:*" matches network "eip155:8453").
func MatchesFamily(family, network string) bool {
	if family == network {
		return true
	}
	prefix, ok := strings.CutSuffix(family, "*")
	if !ok {
		return false
	}
	return strings.HasPrefix(network, prefix)
}

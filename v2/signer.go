package v2

import (
	"fmt"
	"math/big"
	"strings"
)

// Signer creates signed payment payloads for a specific network.
// Implementations handle blockchain-specific signing for EVM (Ethereum-compatible chains)
// and SVM (Solana) networks.
type Signer interface {
	// Network returns the CAIP-2 network identifier (e.g., "eip155:8453").
	Network() string

	// Scheme returns the payment scheme identifier (e.g., "exact").
	Scheme() string

	// CanSign checks if this signer can satisfy the given payment requirements.
	// Returns true if the signer supports the required network and has the required token.
	CanSign(requirements *PaymentRequirements) bool

	// Sign creates a signed PaymentPayload for the given requirements.
	// Returns an error if signing fails or if the payment exceeds configured limits.
	Sign(requirements *PaymentRequirements) (*PaymentPayload, error)

	// GetPriority returns the signer's priority level.
	// Lower numbers indicate higher priority (1 > 2 > 3).
	GetPriority() int

	// GetTokens returns the list of tokens supported by this signer.
	GetTokens() []TokenConfig

	// GetMaxAmount returns the per-call spending limit, or nil if no limit is set.
	GetMaxAmount() *big.Int
}

// MultiNetworkSigner aggregates one underlying Signer per chain namespace
// (the part of a CAIP-2 identifier before the colon, e.g. "eip155" or
// "solana") behind a single Signer, dispatching every call to the member
// whose namespace matches the requirement's network. A wallet holding both
// an EVM and an SVM key registers one signer for each and is used
// interchangeably with either through this facade.
type MultiNetworkSigner struct {
	byNamespace map[string]Signer
	priority    int
}

// NewMultiNetworkSigner builds a MultiNetworkSigner from members, keyed by
// the namespace of each member's own Network(). Registering two members for
// the same namespace is a configuration error: the later one silently
// replaces the earlier, so callers must keep one signer per namespace.
func NewMultiNetworkSigner(members ...Signer) *MultiNetworkSigner {
	m := &MultiNetworkSigner{byNamespace: make(map[string]Signer, len(members))}
	for _, member := range members {
		ns := namespaceOf(member.Network())
		m.byNamespace[ns] = member
	}
	return m
}

func namespaceOf(network string) string {
	ns, _, found := strings.Cut(network, ":")
	if !found {
		return network
	}
	return ns
}

func (m *MultiNetworkSigner) memberFor(network string) (Signer, bool) {
	member, ok := m.byNamespace[namespaceOf(network)]
	return member, ok
}

// Network returns "multi" since a MultiNetworkSigner isn't bound to one
// network; use CanSign/Sign against a specific requirement instead.
func (m *MultiNetworkSigner) Network() string { return "multi" }

// Scheme returns the scheme of one member signer, picked in map iteration
// order, or "" if no member is registered for any namespace.
func (m *MultiNetworkSigner) Scheme() string {
	for _, member := range m.byNamespace {
		return member.Scheme()
	}
	return ""
}

func (m *MultiNetworkSigner) CanSign(requirements *PaymentRequirements) bool {
	member, ok := m.memberFor(requirements.Network)
	return ok && member.CanSign(requirements)
}

func (m *MultiNetworkSigner) Sign(requirements *PaymentRequirements) (*PaymentPayload, error) {
	member, ok := m.memberFor(requirements.Network)
	if !ok {
		return nil, fmt.Errorf("%w: no signer registered for namespace %q", ErrNoValidSigner, namespaceOf(requirements.Network))
	}
	return member.Sign(requirements)
}

func (m *MultiNetworkSigner) GetPriority() int { return m.priority }

// GetTokens returns the union of every member's supported tokens.
func (m *MultiNetworkSigner) GetTokens() []TokenConfig {
	var tokens []TokenConfig
	for _, member := range m.byNamespace {
		tokens = append(tokens, member.GetTokens()...)
	}
	return tokens
}

// GetMaxAmount returns nil: per-member limits are enforced by each member's
// own Sign/CanSign, not by a single aggregate ceiling.
func (m *MultiNetworkSigner) GetMaxAmount() *big.Int { return nil }

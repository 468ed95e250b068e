package extensions

import (
	"context"

	v2 "github.com/x402rail/x402-go/v2"
)

// Reputation carries an agent-registry identity (ERC-8004-style) in the
// payment challenge and, optionally, a facilitator settlement attestation
// in the receipt, feeding a feedback-aggregation protocol this facilitator
// doesn't itself implement (that lives in the registry service).
type Reputation struct {
	// RegistryAddress is the on-chain agent registry contract this
	// facilitator is attesting against.
	RegistryAddress string
	// AgentID identifies the resource server's own registered agent, if any.
	AgentID string
}

func (r *Reputation) Key() string { return "8004-reputation" }

func (r *Reputation) Declare(requirement v2.PaymentRequirements) map[string]interface{} {
	if r.RegistryAddress == "" {
		return nil
	}
	info := map[string]interface{}{
		"registry": r.RegistryAddress,
	}
	if r.AgentID != "" {
		info["agentId"] = r.AgentID
	}
	return info
}

func (r *Reputation) Enrich(ctx context.Context, declaration map[string]interface{}, transport TransportContext) map[string]interface{} {
	return declaration
}

func (r *Reputation) OnSettle(ctx context.Context, settle SettleContext) (map[string]interface{}, bool) {
	if r.RegistryAddress == "" {
		return nil, false
	}
	return map[string]interface{}{
		"registry":    r.RegistryAddress,
		"payer":       settle.Payer,
		"transaction": settle.Settlement.Transaction,
		"attested":    true,
	}, true
}

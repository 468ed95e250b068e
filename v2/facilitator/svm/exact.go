package svm

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"

	v2 "github.com/x402rail/x402-go/v2"
	solutil "github.com/x402rail/x402-go/v2/internal/solana"
)

// maxComputeUnitPrice caps the micro-lamports-per-compute-unit price a
// client may request, so a malicious payload can't force the facilitator to
// overpay for priority fees.
const maxComputeUnitPrice = 1_000_000

// Handler is the facilitator-side "exact" scheme implementation for Solana.
// One Handler instance serves one concrete CAIP-2 Solana cluster.
type Handler struct {
	Network string
	Client  ChainClient
}

func NewHandler(network string, client ChainClient) *Handler {
	return &Handler{Network: network, Client: client}
}

func (h *Handler) Scheme() string     { return "exact" }
func (h *Handler) CaipFamily() string { return "solana:*" }

func (h *Handler) Extra(network string) map[string]interface{} {
	return map[string]interface{}{
		"feePayer": h.Client.FeePayer().String(),
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

func decodeSVMPayload(raw interface{}) (*v2.SVMPayload, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("remarshal svm payload: %w", err)
	}
	var payload v2.SVMPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode svm payload: %w", err)
	}
	return &payload, nil
}

// decoded holds the parsed shape of the client-built transaction, filled in
// as Verify walks the instruction list.
type decoded struct {
	feePayer    solana.PublicKey
	payer       solana.PublicKey
	sourceATA   solana.PublicKey
	destATA     solana.PublicKey
	mint        solana.PublicKey
	amount      uint64
	sawCreateATA bool
}

// Verify applies the six deterministic exact-SVM verification rules: overall
// instruction count, compute-budget instruction shape and price ceiling, an
// optional create-ATA instruction matching payTo/asset, the trailing
// transfer instruction's amount/mint/destination (SPL Token or Token-2022),
// fee-payer isolation from the token movement, and preflight simulation
// success. Verify never submits the transaction; only Settle does.
func (h *Handler) Verify(ctx context.Context, payload v2.PaymentPayload, requirements v2.PaymentRequirements) (*v2.VerifyResponse, error) {
	svmPayload, err := decodeSVMPayload(payload.Payload)
	if err != nil {
		return invalid(v2.InvalidReasonInvalidPayload, map[string]interface{}{"error": err.Error()}), nil
	}

	tx, err := solana.TransactionFromBase64(svmPayload.Transaction)
	if err != nil {
		return invalid(v2.InvalidReasonInvalidPayload, map[string]interface{}{"error": err.Error()}), nil
	}

	d, verifyResp, err := h.decodeInstructions(tx, requirements)
	if err != nil {
		return nil, err
	}
	if verifyResp != nil {
		return verifyResp, nil
	}

	// Rule: fee payer isolation - the facilitator's fee payer must not be
	// the source or destination of the token movement it is sponsoring.
	if d.feePayer.Equals(d.sourceATA) || d.feePayer.Equals(d.destATA) {
		return invalid(v2.InvalidReasonExactSVMFeePayerMismatch, nil), nil
	}
	if !d.feePayer.Equals(h.Client.FeePayer()) {
		return invalid(v2.InvalidReasonExactSVMFeePayerMismatch, map[string]interface{}{
			"expected": h.Client.FeePayer().String(),
			"actual":   d.feePayer.String(),
		}), nil
	}

	// Rule: source ATA must already exist (the payer's token account).
	exists, err := h.Client.AccountExists(ctx, d.sourceATA)
	if err != nil {
		return nil, fmt.Errorf("check source ata: %w", err)
	}
	if !exists {
		return invalid(v2.InvalidReasonExactSVMSourceATAMissing, map[string]interface{}{"sourceAta": d.sourceATA.String()}), nil
	}

	// Rule: preflight simulation must succeed.
	if err := h.Client.Simulate(ctx, tx); err != nil {
		return invalid(v2.InvalidReasonExactSVMPreflightFailed, map[string]interface{}{"error": err.Error()}), nil
	}

	return &v2.VerifyResponse{IsValid: true, Payer: d.payer.String()}, nil
}

// decodeInstructions walks tx's instruction list and validates its shape,
// returning a populated decoded on success or a non-nil VerifyResponse
// describing the first violated rule.
func (h *Handler) decodeInstructions(tx *solana.Transaction, requirements v2.PaymentRequirements) (*decoded, *v2.VerifyResponse, error) {
	instructions := tx.Message.Instructions
	// Rule: instruction count - [computeLimit, computePrice, (createATA), transferChecked].
	if len(instructions) != 3 && len(instructions) != 4 {
		return nil, invalid(v2.InvalidReasonExactSVMInstructionCount, map[string]interface{}{"count": len(instructions)}), nil
	}

	d := &decoded{feePayer: tx.Message.AccountKeys[0]}

	programID := func(inst solana.CompiledInstruction) (solana.PublicKey, error) {
		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			return solana.PublicKey{}, fmt.Errorf("program id index out of range")
		}
		return tx.Message.AccountKeys[inst.ProgramIDIndex], nil
	}

	// Rule: compute-budget instructions at positions 0/1, price under ceiling.
	for i := 0; i < 2; i++ {
		pid, err := programID(instructions[i])
		if err != nil || !pid.Equals(solutil.ComputeBudgetProgramID) {
			return nil, invalid(v2.InvalidReasonExactSVMComputeBudgetShape, map[string]interface{}{"index": i}), nil
		}
		data := []byte(instructions[i].Data)
		if len(data) < 1 {
			return nil, invalid(v2.InvalidReasonExactSVMComputeBudgetShape, map[string]interface{}{"index": i}), nil
		}
		switch data[0] {
		case 2: // SetComputeUnitLimit
			if len(data) != 5 {
				return nil, invalid(v2.InvalidReasonExactSVMComputeBudgetShape, map[string]interface{}{"index": i}), nil
			}
		case 3: // SetComputeUnitPrice
			if len(data) != 9 {
				return nil, invalid(v2.InvalidReasonExactSVMComputeBudgetShape, map[string]interface{}{"index": i}), nil
			}
			price := binary.LittleEndian.Uint64(data[1:9])
			if price > maxComputeUnitPrice {
				return nil, invalid(v2.InvalidReasonExactSVMComputeUnitPriceCeiling, map[string]interface{}{"price": price}), nil
			}
		default:
			return nil, invalid(v2.InvalidReasonExactSVMComputeBudgetShape, map[string]interface{}{"index": i}), nil
		}
	}

	idx := 2
	if len(instructions) == 4 {
		// Rule: optional create-ATA instruction must match payTo/asset.
		inst := instructions[idx]
		pid, err := programID(inst)
		if err != nil || !pid.Equals(solana.SPLAssociatedTokenAccountProgramID) {
			return nil, invalid(v2.InvalidReasonExactSVMCreateATAMismatch, nil), nil
		}
		accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
		if err != nil || len(accounts) < 4 {
			return nil, invalid(v2.InvalidReasonExactSVMCreateATAMismatch, nil), nil
		}
		owner := accounts[2].PublicKey
		mint := accounts[3].PublicKey
		payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
		if err != nil || !owner.Equals(payTo) {
			return nil, invalid(v2.InvalidReasonExactSVMCreateATAMismatch, map[string]interface{}{"owner": owner.String()}), nil
		}
		assetMint, err := solana.PublicKeyFromBase58(requirements.Asset)
		if err != nil || !mint.Equals(assetMint) {
			return nil, invalid(v2.InvalidReasonExactSVMCreateATAMismatch, map[string]interface{}{"mint": mint.String()}), nil
		}
		d.sawCreateATA = true
		idx++
	}

	// Rule: trailing transfer instruction - amount/mint/destination-ATA match.
	transferInst := instructions[idx]
	pid, err := programID(transferInst)
	if err != nil || (!pid.Equals(solana.TokenProgramID) && !pid.Equals(solana.Token2022ProgramID)) {
		return nil, invalid(v2.InvalidReasonExactSVMTransferMint, nil), nil
	}
	accounts, err := transferInst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return nil, invalid(v2.InvalidReasonInvalidPayload, map[string]interface{}{"error": err.Error()}), nil
	}
	decodedInst, err := token.DecodeInstruction(accounts, []byte(transferInst.Data))
	if err != nil {
		return nil, invalid(v2.InvalidReasonInvalidPayload, map[string]interface{}{"error": err.Error()}), nil
	}

	required, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return nil, invalid(v2.InvalidReasonInvalidPaymentRequirements, nil), nil
	}
	assetMint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return nil, invalid(v2.InvalidReasonInvalidPaymentRequirements, nil), nil
	}
	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, invalid(v2.InvalidReasonInvalidPaymentRequirements, nil), nil
	}
	expectedDestATA, err := solutil.DeriveAssociatedTokenAddress(payTo, assetMint)
	if err != nil {
		return nil, invalid(v2.InvalidReasonInvalidPaymentRequirements, nil), nil
	}

	// Accounts resolve positionally per the SPL token program layout:
	// TransferChecked = [source, mint, destination, owner, ...signers];
	// Transfer = [source, destination, owner, ...signers].
	switch impl := decodedInst.Impl.(type) {
	case *token.TransferChecked:
		if len(accounts) < 4 {
			return nil, invalid(v2.InvalidReasonInvalidPayload, nil), nil
		}
		if impl.Amount == nil || *impl.Amount != required.Uint64() {
			return nil, invalid(v2.InvalidReasonExactSVMTransferAmount, map[string]interface{}{"amount": impl.Amount}), nil
		}
		if !accounts[1].PublicKey.Equals(assetMint) {
			return nil, invalid(v2.InvalidReasonExactSVMTransferMint, nil), nil
		}
		if !accounts[2].PublicKey.Equals(expectedDestATA) {
			return nil, invalid(v2.InvalidReasonExactSVMTransferToIncorrectATA, nil), nil
		}
		d.amount = *impl.Amount
		d.mint = assetMint
		d.destATA = expectedDestATA
		d.sourceATA = accounts[0].PublicKey
		d.payer = accounts[3].PublicKey
	case *token.Transfer:
		if len(accounts) < 3 {
			return nil, invalid(v2.InvalidReasonInvalidPayload, nil), nil
		}
		if impl.Amount == nil || *impl.Amount != required.Uint64() {
			return nil, invalid(v2.InvalidReasonExactSVMTransferAmount, map[string]interface{}{"amount": impl.Amount}), nil
		}
		if !accounts[1].PublicKey.Equals(expectedDestATA) {
			return nil, invalid(v2.InvalidReasonExactSVMTransferToIncorrectATA, nil), nil
		}
		d.amount = *impl.Amount
		d.mint = assetMint
		d.destATA = expectedDestATA
		d.sourceATA = accounts[0].PublicKey
		d.payer = accounts[2].PublicKey
	default:
		return nil, invalid(v2.InvalidReasonExactSVMTransferMint, map[string]interface{}{"error": "unexpected instruction type"}), nil
	}

	return d, nil, nil
}

// Settle re-verifies, co-signs as fee payer, submits, and waits for
// confirmation. A blockhash expiry surfaces as
// settle_exact_svm_block_height_exceeded per the documented settlement
// failure taxonomy, distinct from a generic settlement error.
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

	svmPayload, err := decodeSVMPayload(payload.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode svm payload: %w", err)
	}
	tx, err := solana.TransactionFromBase64(svmPayload.Transaction)
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	sig, err := h.Client.CoSignAndSubmit(ctx, tx)
	if err != nil {
		if blockheightExceeded(err) {
			return &v2.SettleResponse{
				Success:      false,
				ErrorReason:  string(v2.SettleErrorExactSVMBlockHeightExceeded),
				ErrorMessage: err.Error(),
				Network:      requirements.Network,
			}, nil
		}
		return &v2.SettleResponse{
			Success:      false,
			ErrorReason:  string(v2.SettleErrorUnexpectedSettleError),
			ErrorMessage: err.Error(),
			Network:      requirements.Network,
		}, nil
	}

	return &v2.SettleResponse{Success: true, Transaction: sig, Network: requirements.Network, Payer: verify.Payer}, nil
}

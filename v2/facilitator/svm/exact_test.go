package svm

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v2 "github.com/x402rail/x402-go/v2"
	solutil "github.com/x402rail/x402-go/v2/internal/solana"
)

type stubSVM struct {
	feePayer     solana.PublicKey
	sourceExists bool
	simulateErr  error
	submitSig    string
	submitErr    error
	submitted    int
}

func (s *stubSVM) FeePayer() solana.PublicKey { return s.feePayer }

func (s *stubSVM) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	return s.sourceExists, nil
}

func (s *stubSVM) Simulate(ctx context.Context, tx *solana.Transaction) error {
	return s.simulateErr
}

func (s *stubSVM) CoSignAndSubmit(ctx context.Context, tx *solana.Transaction) (string, error) {
	s.submitted++
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return s.submitSig, nil
}

type svmFixture struct {
	handler      *Handler
	chain        *stubSVM
	clientKey    solana.PrivateKey
	client       solana.PublicKey
	payTo        solana.PublicKey
	mint         solana.PublicKey
	feePayer     solana.PublicKey
	requirements v2.PaymentRequirements
}

func newSVMFixture(t *testing.T) *svmFixture {
	t.Helper()
	clientWallet := solana.NewWallet()
	payTo := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	feePayer := solana.NewWallet().PublicKey()

	chain := &stubSVM{
		feePayer:     feePayer,
		sourceExists: true,
		submitSig:    "5ig123",
	}

	return &svmFixture{
		handler:   NewHandler(v2.NetworkSolanaDevnet, chain),
		chain:     chain,
		clientKey: clientWallet.PrivateKey,
		client:    clientWallet.PublicKey(),
		payTo:     payTo,
		mint:      mint,
		feePayer:  feePayer,
		requirements: v2.PaymentRequirements{
			Scheme:            "exact",
			Network:           v2.NetworkSolanaDevnet,
			MaxAmountRequired: "1000",
			PayTo:             payTo.String(),
			Asset:             mint.String(),
		},
	}
}

type txOptions struct {
	amount           uint64
	computeUnitPrice uint64
	destOwner        solana.PublicKey
	feePayer         solana.PublicKey
	includeCreateATA bool
	dropComputePrice bool
}

func (f *svmFixture) defaultOptions() txOptions {
	return txOptions{
		amount:           1000,
		computeUnitPrice: solutil.DefaultComputeUnitPrice,
		destOwner:        f.payTo,
		feePayer:         f.feePayer,
		includeCreateATA: true,
	}
}

// buildPayload assembles and partially signs the client-side transaction the
// exact-SVM scheme expects, returning it wrapped as a PaymentPayload.
func (f *svmFixture) buildPayload(t *testing.T, opts txOptions) v2.PaymentPayload {
	t.Helper()

	sourceATA, err := solutil.DeriveAssociatedTokenAddress(f.client, f.mint)
	require.NoError(t, err)
	destATA, err := solutil.DeriveAssociatedTokenAddress(opts.destOwner, f.mint)
	require.NoError(t, err)

	instructions := []solana.Instruction{
		solutil.BuildSetComputeUnitLimitInstruction(solutil.DefaultComputeUnits),
	}
	if !opts.dropComputePrice {
		instructions = append(instructions, solutil.BuildSetComputeUnitPriceInstruction(opts.computeUnitPrice))
	}
	if opts.includeCreateATA {
		createATA, err := solutil.BuildCreateIdempotentATAInstruction(opts.feePayer, f.payTo, f.mint)
		require.NoError(t, err)
		instructions = append(instructions, createATA)
	}
	instructions = append(instructions,
		solutil.BuildTransferCheckedInstruction(sourceATA, f.mint, destATA, f.client, opts.amount, 6))

	tx, err := solana.NewTransaction(instructions, solana.Hash{}, solana.TransactionPayer(opts.feePayer))
	require.NoError(t, err)

	_, err = tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(f.client) {
			return &f.clientKey
		}
		return nil
	})
	require.NoError(t, err)

	txBytes, err := tx.MarshalBinary()
	require.NoError(t, err)

	return v2.PaymentPayload{
		X402Version: v2.X402Version,
		Scheme:      "exact",
		Network:     v2.NetworkSolanaDevnet,
		Accepted:    f.requirements,
		Payload: &v2.SVMPayload{
			Transaction: base64.StdEncoding.EncodeToString(txBytes),
		},
	}
}

func TestSVMVerifyValidTransaction(t *testing.T) {
	f := newSVMFixture(t)
	payload := f.buildPayload(t, f.defaultOptions())

	resp, err := f.handler.Verify(context.Background(), payload, f.requirements)
	require.NoError(t, err)
	assert.True(t, resp.IsValid, "reason: %s", resp.InvalidReason)
	assert.Equal(t, f.client.String(), resp.Payer)
}

func TestSVMVerifyWithoutCreateATA(t *testing.T) {
	f := newSVMFixture(t)
	opts := f.defaultOptions()
	opts.includeCreateATA = false
	payload := f.buildPayload(t, opts)

	resp, err := f.handler.Verify(context.Background(), payload, f.requirements)
	require.NoError(t, err)
	assert.True(t, resp.IsValid, "reason: %s", resp.InvalidReason)
}

func TestSVMVerifyWrongInstructionCount(t *testing.T) {
	f := newSVMFixture(t)
	opts := f.defaultOptions()
	opts.dropComputePrice = true
	opts.includeCreateATA = false
	payload := f.buildPayload(t, opts)

	resp, err := f.handler.Verify(context.Background(), payload, f.requirements)
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Equal(t, string(v2.InvalidReasonExactSVMInstructionCount), resp.InvalidReason)
}

func TestSVMVerifyComputeUnitPriceCeiling(t *testing.T) {
	f := newSVMFixture(t)
	opts := f.defaultOptions()
	opts.computeUnitPrice = 2_000_000
	payload := f.buildPayload(t, opts)

	resp, err := f.handler.Verify(context.Background(), payload, f.requirements)
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Equal(t, string(v2.InvalidReasonExactSVMComputeUnitPriceCeiling), resp.InvalidReason)
}

func TestSVMVerifyWrongDestinationATA(t *testing.T) {
	f := newSVMFixture(t)
	opts := f.defaultOptions()
	opts.destOwner = solana.NewWallet().PublicKey()
	opts.includeCreateATA = false
	payload := f.buildPayload(t, opts)

	resp, err := f.handler.Verify(context.Background(), payload, f.requirements)
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Equal(t, string(v2.InvalidReasonExactSVMTransferToIncorrectATA), resp.InvalidReason)
}

func TestSVMVerifyInsufficientAmount(t *testing.T) {
	f := newSVMFixture(t)
	opts := f.defaultOptions()
	opts.amount = 500
	payload := f.buildPayload(t, opts)

	resp, err := f.handler.Verify(context.Background(), payload, f.requirements)
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Equal(t, string(v2.InvalidReasonExactSVMTransferAmount), resp.InvalidReason)
}

func TestSVMVerifyFeePayerMismatch(t *testing.T) {
	f := newSVMFixture(t)
	opts := f.defaultOptions()
	opts.feePayer = solana.NewWallet().PublicKey()
	payload := f.buildPayload(t, opts)

	resp, err := f.handler.Verify(context.Background(), payload, f.requirements)
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Equal(t, string(v2.InvalidReasonExactSVMFeePayerMismatch), resp.InvalidReason)
}

func TestSVMVerifySourceATAMissing(t *testing.T) {
	f := newSVMFixture(t)
	f.chain.sourceExists = false
	payload := f.buildPayload(t, f.defaultOptions())

	resp, err := f.handler.Verify(context.Background(), payload, f.requirements)
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Equal(t, string(v2.InvalidReasonExactSVMSourceATAMissing), resp.InvalidReason)
}

func TestSVMVerifyPreflightFailure(t *testing.T) {
	f := newSVMFixture(t)
	f.chain.simulateErr = errors.New("custom program error: 0x1")
	payload := f.buildPayload(t, f.defaultOptions())

	resp, err := f.handler.Verify(context.Background(), payload, f.requirements)
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Equal(t, string(v2.InvalidReasonExactSVMPreflightFailed), resp.InvalidReason)
}

func TestSVMVerifyNeverSubmits(t *testing.T) {
	f := newSVMFixture(t)
	payload := f.buildPayload(t, f.defaultOptions())

	_, err := f.handler.Verify(context.Background(), payload, f.requirements)
	require.NoError(t, err)
	assert.Zero(t, f.chain.submitted)
}

func TestSVMSettleSuccess(t *testing.T) {
	f := newSVMFixture(t)
	payload := f.buildPayload(t, f.defaultOptions())

	resp, err := f.handler.Settle(context.Background(), payload, f.requirements)
	require.NoError(t, err)
	assert.True(t, resp.Success, "reason: %s", resp.ErrorReason)
	assert.Equal(t, "5ig123", resp.Transaction)
	assert.Equal(t, f.client.String(), resp.Payer)
	assert.Equal(t, 1, f.chain.submitted)
}

func TestSVMSettleBlockHeightExceeded(t *testing.T) {
	f := newSVMFixture(t)
	f.chain.submitErr = errors.New("rpc: block height exceeded")
	payload := f.buildPayload(t, f.defaultOptions())

	resp, err := f.handler.Settle(context.Background(), payload, f.requirements)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, string(v2.SettleErrorExactSVMBlockHeightExceeded), resp.ErrorReason)
}

func TestSVMSettleRejectsInvalidTransaction(t *testing.T) {
	f := newSVMFixture(t)
	opts := f.defaultOptions()
	opts.amount = 1
	payload := f.buildPayload(t, opts)

	resp, err := f.handler.Settle(context.Background(), payload, f.requirements)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, string(v2.SettleErrorInvalidTransactionState), resp.ErrorReason)
	assert.Zero(t, f.chain.submitted)
}

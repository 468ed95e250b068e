// Package svm implements the facilitator-side "exact" scheme handler for
// Solana: decoding and validating the client-built, partially signed
// transfer transaction, co-signing as fee payer, and submitting it.
package svm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ChainClient is the read/write surface the exact-SVM scheme handler needs
// from a live Solana RPC connection.
type ChainClient interface {
	FeePayer() solana.PublicKey

	// AccountExists reports whether account has been created on-chain
	// (used to check the payer's source ATA isn't empty).
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)

	// Simulate runs a preflight simulation of tx, returning an error if it
	// would fail on submission.
	Simulate(ctx context.Context, tx *solana.Transaction) error

	// CoSignAndSubmit adds the fee payer's signature to tx (already signed
	// by the client) and submits it, waiting for confirmation.
	CoSignAndSubmit(ctx context.Context, tx *solana.Transaction) (string, error)
}

// RPCClient is the production ChainClient backed by gagliardetto/solana-go's
// rpc package, co-signing with the facilitator's own fee-payer key.
type RPCClient struct {
	rpc        *rpc.Client
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey

	ConfirmationTimeout time.Duration
}

func NewRPCClient(rpcURL string, privateKey solana.PrivateKey) *RPCClient {
	return &RPCClient{
		rpc:                 rpc.New(rpcURL),
		privateKey:          privateKey,
		publicKey:           privateKey.PublicKey(),
		ConfirmationTimeout: 60 * time.Second,
	}
}

func (c *RPCClient) FeePayer() solana.PublicKey { return c.publicKey }

func (c *RPCClient) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	info, err := c.rpc.GetAccountInfo(ctx, account)
	if err != nil {
		if err == rpc.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return info != nil && info.Value != nil, nil
}

func (c *RPCClient) Simulate(ctx context.Context, tx *solana.Transaction) error {
	result, err := c.rpc.SimulateTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("simulate transaction: %w", err)
	}
	if result.Value.Err != nil {
		return fmt.Errorf("preflight simulation failed: %v", result.Value.Err)
	}
	return nil
}

func (c *RPCClient) CoSignAndSubmit(ctx context.Context, tx *solana.Transaction) (string, error) {
	_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.publicKey) {
			return &c.privateKey
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("co-sign as fee payer: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight: false,
	})
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.ConfirmationTimeout)
	defer cancel()
	if err := awaitConfirmation(waitCtx, c.rpc, sig); err != nil {
		return sig.String(), err
	}
	return sig.String(), nil
}

func awaitConfirmation(ctx context.Context, client *rpc.Client, sig solana.Signature) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		statuses, err := client.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed: %v", status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// blockheightExceeded reports whether err indicates the transaction's
// blockhash-derived last valid block height has passed, mapping to the
// settle_exact_svm_block_height_exceeded reason.
func blockheightExceeded(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "block height exceeded", "blockhash not found", "BlockhashNotFound")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

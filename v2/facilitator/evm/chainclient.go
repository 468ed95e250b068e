// Package evm implements the facilitator-side "exact" scheme handler for
// EVM networks: EIP-3009 transferWithAuthorization plus the ERC-2612 permit
// and Permit2 SignatureTransfer sub-schemes.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// erc20ABI carries only the methods the facilitator needs: balance reads,
// EIP-3009 settlement, ERC-2612 permit/nonce, and plain transferFrom (used
// after a Permit2 or ERC-2612 approval has been established on-chain).
const erc20ABI = `[
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"nonces","outputs":[{"name":"","type":"uint256"}],"type":"function"},
{"constant":true,"inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],"name":"authorizationState","outputs":[{"name":"","type":"bool"}],"type":"function"},
{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"name":"transferWithAuthorization","outputs":[],"type":"function"},
{"constant":false,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"},{"name":"value","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"name":"permit","outputs":[],"type":"function"},
{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// ChainClient is the read/write surface the exact-EVM scheme handler needs
// from a live chain connection. An *EthClient backs this with go-ethereum's
// ethclient in production; tests substitute a stub.
type ChainClient interface {
	ChainID() *big.Int
	Address() common.Address

	// BalanceOf returns the payer's balance of token (or native balance when
	// token is the zero address / "native").
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)

	// AuthorizationState reports whether an EIP-3009 nonce has already been
	// consumed on-chain for the given authorizer.
	AuthorizationState(ctx context.Context, token, authorizer common.Address, nonce [32]byte) (bool, error)

	// Nonce returns the ERC-2612 permit nonce for owner.
	Nonce(ctx context.Context, token, owner common.Address) (*big.Int, error)

	// SubmitTransferWithAuthorization calls transferWithAuthorization and
	// waits for one confirmation, returning the transaction hash.
	SubmitTransferWithAuthorization(ctx context.Context, token, from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte, v uint8, r, s [32]byte) (string, error)

	// SubmitPermit calls ERC-2612 permit(owner, spender, value, deadline, v, r, s).
	SubmitPermit(ctx context.Context, token, owner, spender common.Address, value, deadline *big.Int, v uint8, r, s [32]byte) (string, error)

	// SubmitTransferFrom calls transferFrom(from, to, value) and waits for confirmation.
	SubmitTransferFrom(ctx context.Context, token, from, to common.Address, value *big.Int) (string, error)
}

// EthClient is the production ChainClient backed by go-ethereum's ethclient,
// signing with the facilitator's own key (it pays gas for settlement).
type EthClient struct {
	rpc        *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	abi        abi.ABI

	// ConfirmationTimeout bounds how long SubmitX waits for inclusion.
	ConfirmationTimeout time.Duration
}

// NewEthClient dials rpcURL and prepares a signer bound to privateKey for chainID.
func NewEthClient(ctx context.Context, rpcURL string, privateKey *ecdsa.PrivateKey, chainID *big.Int) (*EthClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &EthClient{
		rpc:                 client,
		privateKey:          privateKey,
		address:             crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:             chainID,
		abi:                 parsed,
		ConfirmationTimeout: 60 * time.Second,
	}, nil
}

func (c *EthClient) ChainID() *big.Int      { return c.chainID }
func (c *EthClient) Address() common.Address { return c.address }

func (c *EthClient) call(ctx context.Context, token common.Address, method string, out interface{}, args ...interface{}) error {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	result, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	return c.abi.UnpackIntoInterface(out, method, result)
}

func (c *EthClient) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if token == (common.Address{}) {
		return c.rpc.BalanceAt(ctx, owner, nil)
	}
	var balance *big.Int
	if err := c.call(ctx, token, "balanceOf", &balance, owner); err != nil {
		return nil, err
	}
	return balance, nil
}

func (c *EthClient) AuthorizationState(ctx context.Context, token, authorizer common.Address, nonce [32]byte) (bool, error) {
	var used bool
	if err := c.call(ctx, token, "authorizationState", &used, authorizer, nonce); err != nil {
		return false, err
	}
	return used, nil
}

func (c *EthClient) Nonce(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	var nonce *big.Int
	if err := c.call(ctx, token, "nonces", &nonce, owner); err != nil {
		return nil, err
	}
	return nonce, nil
}

func (c *EthClient) send(ctx context.Context, token common.Address, method string, args ...interface{}) (string, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}

	nonce, err := c.rpc.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}
	gasLimit, err := c.rpc.EstimateGas(ctx, ethereum.CallMsg{From: c.address, To: &token, Data: data})
	if err != nil {
		gasLimit = 200_000
	}

	tx := types.NewTransaction(nonce, token, big.NewInt(0), gasLimit, gasPrice, data)
	signer := types.NewEIP155Signer(c.chainID)
	signedTx, err := types.SignTx(tx, signer, c.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign settlement tx: %w", err)
	}

	if err := c.rpc.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("send %s tx: %w", method, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.ConfirmationTimeout)
	defer cancel()
	receipt, err := waitMined(waitCtx, c.rpc, signedTx.Hash())
	if err != nil {
		return signedTx.Hash().Hex(), fmt.Errorf("await confirmation: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return signedTx.Hash().Hex(), fmt.Errorf("%s reverted", method)
	}
	return signedTx.Hash().Hex(), nil
}

func (c *EthClient) SubmitTransferWithAuthorization(ctx context.Context, token, from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte, v uint8, r, s [32]byte) (string, error) {
	return c.send(ctx, token, "transferWithAuthorization", from, to, value, validAfter, validBefore, nonce, v, r, s)
}

func (c *EthClient) SubmitPermit(ctx context.Context, token, owner, spender common.Address, value, deadline *big.Int, v uint8, r, s [32]byte) (string, error) {
	return c.send(ctx, token, "permit", owner, spender, value, deadline, v, r, s)
}

func (c *EthClient) SubmitTransferFrom(ctx context.Context, token, from, to common.Address, value *big.Int) (string, error) {
	return c.send(ctx, token, "transferFrom", from, to, value)
}

// waitMined polls for a transaction receipt, the same pattern go-ethereum's
// own bind package uses internally (that helper is unexported, so this
// facilitator keeps a minimal copy scoped to what settlement needs).
func waitMined(ctx context.Context, client *ethclient.Client, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

package evm

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	v2 "github.com/x402rail/x402-go/v2"
)

// permit2Address is the canonical Permit2 deployment, identical across every
// EVM chain it's deployed to.
const permit2Address = "0x000000000022D473030F116dDEE9F6B43aC78BA3"

// permit2DeadlineSlack gives the Permit2 signature a longer validity window than
// the payment's own MaxTimeoutSeconds, since it covers the facilitator's
// settlement call rather than the payment offer itself.
const permit2DeadlineSlack = 10 * time.Minute

// signPermit signs an ERC-2612 Permit authorizing spender to move amount of
// the token on the payer's behalf, and packs the result into the same
// EVMPayload/EVMAuthorization shape transferWithAuthorization payments use:
// the facilitator-side handler treats "to" as the payment recipient and
// "value"/"validBefore" exactly as it does for transferWithAuthorization,
// it just settles with transferFrom instead of transferWithAuthorization.
func (s *Signer) signPermit(requirements *v2.PaymentRequirements, amount *big.Int) (*v2.PaymentPayload, error) {
	name, version, err := extractEIP3009Params(requirements)
	if err != nil {
		return nil, err
	}
	spender := s.permitSpender(requirements)
	nonce, err := s.permitNonce(requirements)
	if err != nil {
		return nil, err
	}
	deadline := big.NewInt(time.Now().Unix() + int64(requirements.MaxTimeoutSeconds))

	tokenAddress := common.HexToAddress(requirements.Asset)
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Permit": []apitypes.Type{
				{Name: "owner", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "Permit",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(big.NewInt(s.chainID)),
			VerifyingContract: tokenAddress.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":    s.address.Hex(),
			"spender":  spender.Hex(),
			"value":    (*math.HexOrDecimal256)(amount),
			"nonce":    (*math.HexOrDecimal256)(nonce),
			"deadline": (*math.HexOrDecimal256)(deadline),
		},
	}

	signature, err := signTypedData(s.privateKey, td)
	if err != nil {
		return nil, err
	}

	return &v2.PaymentPayload{
		X402Version: 2,
		Accepted:    *requirements,
		Payload: v2.EVMPayload{
			Signature: signature,
			Authorization: v2.EVMAuthorization{
				From:        s.address.Hex(),
				To:          requirements.PayTo,
				Value:       amount.String(),
				ValidAfter:  "0",
				ValidBefore: deadline.String(),
				Nonce:       hexNonce(nonce),
			},
		},
	}, nil
}

// signPermit2 signs a Permit2 SignatureTransfer permit with a witness
// binding the transfer to its final recipient, the mechanism the coinbase
// x402 Permit2 facilitator (and this module's facilitator-side handler)
// settle through an x402-specific proxy contract.
func (s *Signer) signPermit2(requirements *v2.PaymentRequirements, amount *big.Int) (*v2.PaymentPayload, error) {
	spender := s.permitSpender(requirements)
	nonce, err := s.permitNonce(requirements)
	if err != nil {
		return nil, err
	}
	deadline := big.NewInt(time.Now().Unix() + int64(requirements.MaxTimeoutSeconds) + int64(permit2DeadlineSlack.Seconds()))

	tokenAddress := common.HexToAddress(requirements.Asset)
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TokenPermissions": []apitypes.Type{
				{Name: "token", Type: "address"},
				{Name: "amount", Type: "uint256"},
			},
			"PermitTransferFrom": []apitypes.Type{
				{Name: "permitted", Type: "TokenPermissions"},
				{Name: "spender", Type: "address"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "PermitTransferFrom",
		Domain: apitypes.TypedDataDomain{
			Name:              "Permit2",
			ChainId:           (*math.HexOrDecimal256)(big.NewInt(s.chainID)),
			VerifyingContract: permit2Address,
		},
		Message: apitypes.TypedDataMessage{
			"permitted": apitypes.TypedDataMessage{
				"token":  tokenAddress.Hex(),
				"amount": (*math.HexOrDecimal256)(amount),
			},
			"spender":  spender.Hex(),
			"nonce":    (*math.HexOrDecimal256)(nonce),
			"deadline": (*math.HexOrDecimal256)(deadline),
		},
	}

	signature, err := signTypedData(s.privateKey, td)
	if err != nil {
		return nil, err
	}

	return &v2.PaymentPayload{
		X402Version: 2,
		Accepted:    *requirements,
		Payload: v2.EVMPayload{
			Signature: signature,
			Authorization: v2.EVMAuthorization{
				From:        s.address.Hex(),
				To:          requirements.PayTo,
				Value:       amount.String(),
				ValidAfter:  "0",
				ValidBefore: deadline.String(),
				Nonce:       hexNonce(nonce),
			},
		},
	}, nil
}

// permitSpender is the address the Permit/Permit2 allowance is granted to:
// the facilitator's own on-chain address, advertised via the requirement's
// extra.feePayer field by FacilitatorClient.EnrichRequirements.
func (s *Signer) permitSpender(requirements *v2.PaymentRequirements) common.Address {
	if requirements.Extra != nil {
		if fp, ok := requirements.Extra["feePayer"].(string); ok && fp != "" {
			return common.HexToAddress(fp)
		}
	}
	return common.HexToAddress(requirements.PayTo)
}

// permitNonce resolves the ERC-2612/Permit2 nonce to sign against. Both
// schemes key allowance state by (owner, nonce) pairs read from chain, which
// this signer has no RPC access to; callers that need a live nonce supply
// one via extra.permitNonce (populated by their own facilitator/client
// wiring) and it falls back to 0 otherwise, which is only correct for a
// token/owner pair with no prior permit history.
func (s *Signer) permitNonce(requirements *v2.PaymentRequirements) (*big.Int, error) {
	if requirements.Extra != nil {
		if raw, ok := requirements.Extra["permitNonce"]; ok {
			switch v := raw.(type) {
			case string:
				n, ok := new(big.Int).SetString(v, 10)
				if !ok {
					return nil, fmt.Errorf("invalid permitNonce: %s", v)
				}
				return n, nil
			case float64:
				return big.NewInt(int64(v)), nil
			}
		}
	}
	return big.NewInt(0), nil
}

func hexNonce(n *big.Int) string {
	b := n.Bytes()
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return "0x" + hex.EncodeToString(padded)
}

// signTypedData hashes and signs an arbitrary EIP-712 document, the same
// v-bump convention eip3009.SignAuthorization uses so every EVM signature
// this module produces is interchangeable on the wire.
func signTypedData(privateKey *ecdsa.PrivateKey, td apitypes.TypedData) (string, error) {
	domainHash, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return "", fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return "", fmt.Errorf("hash message: %w", err)
	}
	digest := crypto.Keccak256(append([]byte{0x19, 0x01}, append(domainHash, messageHash...)...))

	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", fmt.Errorf("sign typed data: %w", err)
	}
	signature[64] += 27
	return "0x" + hex.EncodeToString(signature), nil
}

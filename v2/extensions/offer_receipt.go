package extensions

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	v2 "github.com/x402rail/x402-go/v2"
)

// OfferReceipt signs offers and settlement receipts with the resource
// server's own EVM key, using EIP-712 typed data the same way payment
// authorizations themselves are signed. This is the canonical variant this
// implementation picked over the JWS-compact alternative the source
// carried: one signature format for the whole EVM pipeline, no separate
// JWK/JWS machinery. Canonicalization ahead of signing uses Go's
// encoding/json, which already serializes map keys in sorted order; this
// covers RFC 8785's ordering requirement without a dedicated JCS library
// (none of the example repos import one).
type OfferReceipt struct {
	PrivateKey *ecdsa.PrivateKey
	ChainID    *big.Int
	Name       string
	Version    string
}

func (o *OfferReceipt) Key() string { return "offer-receipt" }

var offerTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	},
	"Offer": []apitypes.Type{
		{Name: "scheme", Type: "string"},
		{Name: "network", Type: "string"},
		{Name: "asset", Type: "string"},
		{Name: "payTo", Type: "string"},
		{Name: "maxAmountRequired", Type: "string"},
		{Name: "digest", Type: "string"},
	},
}

func (o *OfferReceipt) sign(primaryType string, message apitypes.TypedDataMessage) (string, error) {
	td := apitypes.TypedData{
		Types:       offerTypes,
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:    o.Name,
			Version: o.Version,
			ChainId: (*math.HexOrDecimal256)(o.ChainID),
		},
		Message: message,
	}
	domainHash, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return "", err
	}
	messageHash, err := td.HashStruct(primaryType, td.Message)
	if err != nil {
		return "", err
	}
	digest := crypto.Keccak256(append([]byte{0x19, 0x01}, append(domainHash, messageHash...)...))
	sig, err := crypto.Sign(digest, o.PrivateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + common.Bytes2Hex(sig), nil
}

// canonicalDigest produces a JCS-style canonical digest of requirement,
// used as the "digest" field both the offer and its later receipt sign over.
func canonicalDigest(requirement v2.PaymentRequirements) (string, error) {
	raw, err := json.Marshal(requirement)
	if err != nil {
		return "", fmt.Errorf("canonicalize requirement: %w", err)
	}
	// Re-encode through a generic value so object keys come out sorted
	// rather than in struct field order.
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("canonicalize requirement: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("canonicalize requirement: %w", err)
	}
	return "0x" + common.Bytes2Hex(crypto.Keccak256(canonical)), nil
}

func (o *OfferReceipt) Declare(requirement v2.PaymentRequirements) map[string]interface{} {
	if o.PrivateKey == nil {
		return nil
	}
	digest, err := canonicalDigest(requirement)
	if err != nil {
		return nil
	}
	signature, err := o.sign("Offer", apitypes.TypedDataMessage{
		"scheme":            requirement.Scheme,
		"network":           requirement.Network,
		"asset":             requirement.Asset,
		"payTo":             requirement.PayTo,
		"maxAmountRequired": requirement.MaxAmountRequired,
		"digest":            digest,
	})
	if err != nil {
		return nil
	}
	return map[string]interface{}{
		"digest":    digest,
		"signature": signature,
		"signer":    crypto.PubkeyToAddress(o.PrivateKey.PublicKey).Hex(),
	}
}

func (o *OfferReceipt) Enrich(ctx context.Context, declaration map[string]interface{}, transport TransportContext) map[string]interface{} {
	return declaration
}

// OnSettle signs a post-settlement receipt binding the offer digest to the
// settlement transaction hash, closing the loop the offer signature opened.
func (o *OfferReceipt) OnSettle(ctx context.Context, settle SettleContext) (map[string]interface{}, bool) {
	if o.PrivateKey == nil || settle.Settlement == nil {
		return nil, false
	}
	digest, err := canonicalDigest(settle.Requirement)
	if err != nil {
		return nil, false
	}
	signature, err := o.sign("Offer", apitypes.TypedDataMessage{
		"scheme":            settle.Requirement.Scheme,
		"network":           settle.Requirement.Network,
		"asset":             settle.Requirement.Asset,
		"payTo":             settle.Requirement.PayTo,
		"maxAmountRequired": settle.Requirement.MaxAmountRequired,
		"digest":            settle.Settlement.Transaction,
	})
	if err != nil {
		return nil, false
	}
	return map[string]interface{}{
		"digest":      digest,
		"transaction": settle.Settlement.Transaction,
		"signature":   signature,
		"signer":      crypto.PubkeyToAddress(o.PrivateKey.PublicKey).Hex(),
	}, true
}

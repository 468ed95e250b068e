package extensions

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v2 "github.com/x402rail/x402-go/v2"
)

func testRequirement() v2.PaymentRequirements {
	return v2.PaymentRequirements{
		Scheme:            "exact",
		Network:           v2.NetworkBaseSepolia,
		MaxAmountRequired: "1000",
		PayTo:             "0x00000000000000000000000000000000000000AA",
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	}
}

func testTransport() TransportContext {
	return TransportContext{
		Method: "GET",
		URL:    "https://api.example.com/report",
	}
}

func TestRegistryDuplicateRegistrationPanics(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&Bazaar{})
	assert.Panics(t, func() { registry.Register(&Bazaar{}) })
}

func TestRegistryDeclareAndEnrich(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&Bazaar{})
	registry.Register(&PaymentIdentifier{Required: true})

	declared := registry.DeclareAndEnrich(context.Background(), testRequirement(), testTransport())
	require.Len(t, declared, 2)

	bazaar := declared["bazaar"]
	assert.Equal(t, "GET", bazaar.Info["method"])
	assert.Equal(t, "https://api.example.com/report", bazaar.Info["resource"])
	require.NotNil(t, bazaar.Schema, "declared extensions carry their schema")

	pid := declared["payment-identifier"]
	assert.Equal(t, true, pid.Info["required"])
}

func TestRegistryEmptyDeclaresNil(t *testing.T) {
	registry := NewRegistry()
	assert.Nil(t, registry.DeclareAndEnrich(context.Background(), testRequirement(), testTransport()))
}

func TestRunSettleHooksMergesResults(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&Bazaar{})
	registry.Register(&Reputation{RegistryAddress: "0xREG", AgentID: "agent-1"})

	out := registry.RunSettleHooks(context.Background(), SettleContext{
		Payer:       "0xBBB",
		Settlement:  &v2.SettleResponse{Success: true, Transaction: "0xabc"},
		Requirement: testRequirement(),
	})

	require.Len(t, out, 1, "only extensions with a settle result appear")
	rep := out["8004-reputation"]
	assert.Equal(t, "0xBBB", rep.Info["payer"])
	assert.Equal(t, "0xabc", rep.Info["transaction"])
	assert.Equal(t, true, rep.Info["attested"])
}

func TestPaymentIdentifierValidatePayload(t *testing.T) {
	withID := func(id string) v2.PaymentPayload {
		return v2.PaymentPayload{
			Extensions: map[string]v2.Extension{
				"payment-identifier": {Info: map[string]interface{}{"id": id}},
			},
		}
	}

	tests := []struct {
		name     string
		ext      *PaymentIdentifier
		payload  v2.PaymentPayload
		wantErr  string
	}{
		{"valid id", &PaymentIdentifier{}, withID("abcdef0123456789"), ""},
		{"valid long id", &PaymentIdentifier{}, withID(strings.Repeat("a", 128)), ""},
		{"missing optional", &PaymentIdentifier{}, v2.PaymentPayload{}, ""},
		{"missing required", &PaymentIdentifier{Required: true}, v2.PaymentPayload{}, "required but missing"},
		{"too short", &PaymentIdentifier{}, withID("short"), "16-128 characters"},
		{"too long", &PaymentIdentifier{}, withID(strings.Repeat("a", 129)), "16-128 characters"},
		{"bad characters", &PaymentIdentifier{}, withID("abcdef0123456789!!"), "must match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ext.ValidatePayload(tt.payload)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSignInWithXEnrichesFreshNonce(t *testing.T) {
	ext := &SignInWithX{Domain: "api.example.com"}

	first := ext.Enrich(context.Background(), ext.Declare(testRequirement()), testTransport())
	second := ext.Enrich(context.Background(), ext.Declare(testRequirement()), testTransport())

	require.NotEmpty(t, first["nonce"])
	assert.NotEqual(t, first["nonce"], second["nonce"], "each request gets its own nonce")
	assert.Equal(t, "https://api.example.com/report", first["resource"])

	issuedAt, ok := first["issuedAt"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339, issuedAt)
	assert.NoError(t, err)
}

func TestOfferReceiptSignsOfferAndReceipt(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	ext := &OfferReceipt{
		PrivateKey: key,
		ChainID:    big.NewInt(84532),
		Name:       "x402 offers",
		Version:    "1",
	}

	offer := ext.Declare(testRequirement())
	require.NotNil(t, offer)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), offer["signer"])
	signature, ok := offer["signature"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(signature, "0x"))
	assert.Len(t, signature, 2+65*2)

	receipt, ok := ext.OnSettle(context.Background(), SettleContext{
		Payer:       "0xBBB",
		Settlement:  &v2.SettleResponse{Success: true, Transaction: "0xdeadbeef"},
		Requirement: testRequirement(),
	})
	require.True(t, ok)
	assert.Equal(t, "0xdeadbeef", receipt["transaction"])
	assert.Equal(t, offer["digest"], receipt["digest"], "receipt binds back to the offered requirement")
	assert.NotEqual(t, offer["signature"], receipt["signature"], "receipt signs the settlement, not the offer")
}

func TestOfferReceiptDigestIsDeterministic(t *testing.T) {
	first, err := canonicalDigest(testRequirement())
	require.NoError(t, err)
	second, err := canonicalDigest(testRequirement())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	changed := testRequirement()
	changed.MaxAmountRequired = "2000"
	third, err := canonicalDigest(changed)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestCanonicalizationIsInsertionOrderIndependent(t *testing.T) {
	// Two structurally-equal JSON objects built in different key orders must
	// canonicalize to identical bytes.
	a := map[string]interface{}{}
	a["scheme"] = "exact"
	a["network"] = "eip155:84532"
	a["amount"] = "1000"

	b := map[string]interface{}{}
	b["amount"] = "1000"
	b["network"] = "eip155:84532"
	b["scheme"] = "exact"

	aBytes, err := json.Marshal(a)
	require.NoError(t, err)
	bBytes, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, aBytes, bBytes)
}

func TestSchemasAreGenerated(t *testing.T) {
	providers := []Extension{
		&Bazaar{},
		&PaymentIdentifier{},
		&SignInWithX{},
		&OfferReceipt{},
		&ERC20ApprovalGasSponsoring{},
		&Reputation{},
	}
	for _, ext := range providers {
		provider, ok := ext.(SchemaProvider)
		require.True(t, ok, "%s must ship a schema", ext.Key())
		schema := provider.Schema()
		require.NotNil(t, schema, "%s schema", ext.Key())
		_, hasProperties := schema["properties"].(map[string]interface{})
		assert.True(t, hasProperties, "%s schema declares properties", ext.Key())
	}
}

func TestValidateEchoedDropsMalformedEntries(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&PaymentIdentifier{})

	echoed := map[string]v2.Extension{
		"payment-identifier": {Info: map[string]interface{}{"id": 12345}}, // wrong type
		"unknown-extension":  {Info: map[string]interface{}{"anything": "goes"}},
	}

	out := registry.ValidateEchoed(nil, echoed)
	require.Len(t, out, 1)
	_, dropped := out["payment-identifier"]
	assert.False(t, dropped, "schema-invalid entry must be dropped")
	_, kept := out["unknown-extension"]
	assert.True(t, kept, "unregistered extensions pass through opaque")
}

func TestValidateEchoedKeepsValidEntries(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&PaymentIdentifier{})

	echoed := map[string]v2.Extension{
		"payment-identifier": {Info: map[string]interface{}{"id": "abcdef0123456789"}},
	}

	out := registry.ValidateEchoed(nil, echoed)
	require.Len(t, out, 1)
	assert.Equal(t, "abcdef0123456789", out["payment-identifier"].Info["id"])
}

func TestValidateEchoedEmptyInput(t *testing.T) {
	registry := NewRegistry()
	assert.Nil(t, registry.ValidateEchoed(nil, nil))
}

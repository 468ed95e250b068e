package extensions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	v2 "github.com/x402rail/x402-go/v2"
)

// SignInWithX issues a CAIP-122 wallet-authentication challenge alongside a
// payment requirement, binding a fresh nonce to the resource URI on every
// request so a captured challenge can't be replayed against a different
// resource.
type SignInWithX struct {
	Domain string
}

func (s *SignInWithX) Key() string { return "sign-in-with-x" }

func (s *SignInWithX) Declare(requirement v2.PaymentRequirements) map[string]interface{} {
	return map[string]interface{}{
		"domain": s.Domain,
	}
}

func (s *SignInWithX) Enrich(ctx context.Context, declaration map[string]interface{}, transport TransportContext) map[string]interface{} {
	nonce, err := randomNonce()
	if err != nil {
		return declaration
	}
	declaration["nonce"] = nonce
	declaration["issuedAt"] = time.Now().UTC().Format(time.RFC3339)
	declaration["resource"] = transport.URL
	return declaration
}

func (s *SignInWithX) OnSettle(ctx context.Context, settle SettleContext) (map[string]interface{}, bool) {
	return nil, false
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

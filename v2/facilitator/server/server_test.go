package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v2 "github.com/x402rail/x402-go/v2"
	"github.com/x402rail/x402-go/v2/facilitator"
	"github.com/x402rail/x402-go/v2/facilitator/scheme"
)

type recordingHandler struct {
	verifyResp *v2.VerifyResponse
	settleResp *v2.SettleResponse
	verified   int
	settled    int
}

func (h *recordingHandler) Scheme() string     { return "exact" }
func (h *recordingHandler) CaipFamily() string { return "eip155:*" }
func (h *recordingHandler) Extra(network string) map[string]interface{} {
	return map[string]interface{}{"feePayer": "0xFEE"}
}
func (h *recordingHandler) Verify(ctx context.Context, payload v2.PaymentPayload, requirements v2.PaymentRequirements) (*v2.VerifyResponse, error) {
	h.verified++
	return h.verifyResp, nil
}
func (h *recordingHandler) Settle(ctx context.Context, payload v2.PaymentPayload, requirements v2.PaymentRequirements) (*v2.SettleResponse, error) {
	h.settled++
	return h.settleResp, nil
}

func newTestServer(t *testing.T, handler scheme.Handler) (*httptest.Server, *scheme.Registry) {
	t.Helper()
	registry := scheme.NewRegistry()
	if handler != nil {
		require.NoError(t, registry.RegisterScheme(v2.NetworkBaseSepolia, "exact", handler))
	}
	metrics := NewMetrics(prometheus.NewRegistry())
	s := New(Config{Address: ":0"}, registry, metrics, zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, registry
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func verifyRequest(version int) facilitator.VerifyRequest {
	return facilitator.VerifyRequest{
		X402Version: version,
		PaymentPayload: v2.PaymentPayload{
			X402Version: version,
			Accepted: v2.PaymentRequirements{
				Scheme:  "exact",
				Network: v2.NetworkBaseSepolia,
			},
		},
		PaymentRequirements: v2.PaymentRequirements{
			Scheme:  "exact",
			Network: v2.NetworkBaseSepolia,
		},
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVerifyDispatchesToHandler(t *testing.T) {
	handler := &recordingHandler{verifyResp: &v2.VerifyResponse{IsValid: true, Payer: "0xBBB"}}
	ts, _ := newTestServer(t, handler)

	resp := postJSON(t, ts.URL+"/verify", verifyRequest(v2.X402Version))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got v2.VerifyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.IsValid)
	assert.Equal(t, "0xBBB", got.Payer)
	assert.Equal(t, 1, handler.verified)
	assert.Equal(t, 0, handler.settled, "verify must never settle")
}

func TestVerifyUnknownKind(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/verify", verifyRequest(v2.X402Version))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got v2.VerifyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.False(t, got.IsValid)
	assert.Equal(t, string(v2.InvalidReasonUnsupportedScheme), got.InvalidReason)
}

func TestVerifyRejectsUnknownVersion(t *testing.T) {
	handler := &recordingHandler{verifyResp: &v2.VerifyResponse{IsValid: true}}
	ts, _ := newTestServer(t, handler)

	resp := postJSON(t, ts.URL+"/verify", verifyRequest(7))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got v2.VerifyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.False(t, got.IsValid)
	assert.Equal(t, string(v2.InvalidReasonInvalidX402Version), got.InvalidReason)
	assert.Equal(t, 0, handler.verified, "unknown version must not reach the handler")
}

func TestSettleDispatchesToHandler(t *testing.T) {
	handler := &recordingHandler{
		verifyResp: &v2.VerifyResponse{IsValid: true},
		settleResp: &v2.SettleResponse{Success: true, Transaction: "0xabc", Network: v2.NetworkBaseSepolia, Payer: "0xBBB"},
	}
	ts, _ := newTestServer(t, handler)

	req := facilitator.SettleRequest(verifyRequest(v2.X402Version))
	resp := postJSON(t, ts.URL+"/settle", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got v2.SettleResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Success)
	assert.Equal(t, "0xabc", got.Transaction)
	assert.Equal(t, 1, handler.settled)
}

func TestSettleRejectsUnknownVersion(t *testing.T) {
	handler := &recordingHandler{settleResp: &v2.SettleResponse{Success: true}}
	ts, _ := newTestServer(t, handler)

	req := facilitator.SettleRequest(verifyRequest(3))
	resp := postJSON(t, ts.URL+"/settle", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got v2.SettleResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.False(t, got.Success)
	assert.Equal(t, string(v2.InvalidReasonInvalidX402Version), got.ErrorReason)
	assert.Equal(t, 0, handler.settled)
}

func TestSupportedListsRegisteredKinds(t *testing.T) {
	handler := &recordingHandler{}
	ts, registry := newTestServer(t, handler)
	require.NoError(t, registry.RegisterSchemeV1(v2.NetworkBaseSepolia, "exact", handler))

	resp, err := http.Get(ts.URL + "/supported")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got v2.SupportedResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Kinds, 2)
	versions := make(map[int]bool)
	for _, kind := range got.Kinds {
		assert.Equal(t, "exact", kind.Scheme)
		assert.Equal(t, v2.NetworkBaseSepolia, kind.Network)
		versions[kind.X402Version] = true
	}
	assert.True(t, versions[1])
	assert.True(t, versions[v2.X402Version])
}

func TestMetricsAuthGate(t *testing.T) {
	registry := scheme.NewRegistry()
	s := New(Config{Address: ":0", MetricsAPIKey: "sekret"}, registry, nil, zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "sekret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

package httpgate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402gate "github.com/x402gate/x402gate"
)

type fakeMWServerHandler struct{ scheme string }

func (f fakeMWServerHandler) Scheme() string { return f.scheme }

func (f fakeMWServerHandler) ParsePrice(price x402gate.Price, network x402gate.NetworkID) (x402gate.AssetAmount, error) {
	amount, _ := price.(string)
	smallest, err := x402gate.DollarsToSmallestUnit(amount, 6)
	if err != nil {
		return x402gate.AssetAmount{}, err
	}
	return x402gate.AssetAmount{Asset: "0xUSDC", Amount: smallest}, nil
}

func (f fakeMWServerHandler) EnhancePaymentRequirements(ctx context.Context, requirements x402gate.PaymentRequirements, kind x402gate.SupportedKind, extensions []string) (x402gate.PaymentRequirements, error) {
	return requirements, nil
}

type fakeMWFacilitatorClient struct {
	verifyResp  x402gate.VerifyResponse
	settleResp  x402gate.SettleResponse
	settleCalls int
}

func (f *fakeMWFacilitatorClient) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (x402gate.VerifyResponse, error) {
	return f.verifyResp, nil
}

func (f *fakeMWFacilitatorClient) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (x402gate.SettleResponse, error) {
	f.settleCalls++
	return f.settleResp, nil
}

func (f *fakeMWFacilitatorClient) GetSupported(ctx context.Context) (x402gate.SupportedResponse, error) {
	return x402gate.SupportedResponse{Kinds: []x402gate.SupportedKind{{X402Version: x402gate.ProtocolVersion, Scheme: "exact", Network: "eip155:8453"}}}, nil
}

func newTestRouter(t *testing.T, facilitator *fakeMWFacilitatorClient, downstream gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	server := x402gate.NewResourceServerCore(
		x402gate.WithFacilitatorClient(facilitator),
		x402gate.WithServerScheme("eip155:*", fakeMWServerHandler{scheme: "exact"}),
	)
	require.NoError(t, server.Initialize(context.Background()))

	cfg := x402gate.ResourceConfig{Scheme: "exact", Network: "eip155:8453", PayTo: "0xPayTo", Price: "1.00"}

	r := gin.New()
	r.GET("/resource", GateMiddleware(server, cfg), downstream)
	return r
}

func TestGateMiddlewareRequiresPaymentWithoutHeader(t *testing.T) {
	facilitator := &fakeMWFacilitatorClient{}
	called := false
	r := newTestRouter(t, facilitator, func(c *gin.Context) { called = true; c.Status(200) })

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, 402, rec.Code)
	assert.False(t, called)
	assert.Equal(t, 0, facilitator.settleCalls)
}

func TestGateMiddlewareSettlesOnDownstreamSuccess(t *testing.T) {
	facilitator := &fakeMWFacilitatorClient{
		verifyResp: x402gate.VerifyResponse{IsValid: true, Payer: "0xPayer"},
		settleResp: x402gate.SettleResponse{Success: true, Transaction: "0xdeadbeef"},
	}
	r := newTestRouter(t, facilitator, func(c *gin.Context) { c.String(200, "ok") })

	payload := x402gate.PaymentPayload{
		X402Version: x402gate.ProtocolVersion,
		Payload:     map[string]interface{}{"sig": "0xabc"},
		Accepted: x402gate.PaymentRequirements{
			Scheme: "exact", Network: "eip155:8453", Asset: "0xUSDC",
			Amount: "1000000", PayTo: "0xPayTo", MaxTimeoutSeconds: 300,
		},
	}
	header, err := EncodePaymentHeader(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set(PaymentHeader, header)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, 1, facilitator.settleCalls)
	assert.NotEmpty(t, rec.Header().Get(PaymentResponseHeader))

	decoded, err := DecodeSettleResponseHeader(rec.Header().Get(PaymentResponseHeader))
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", decoded.Transaction)
}

func TestGateMiddlewareSkipsSettleOnDownstreamError(t *testing.T) {
	facilitator := &fakeMWFacilitatorClient{
		verifyResp: x402gate.VerifyResponse{IsValid: true, Payer: "0xPayer"},
		settleResp: x402gate.SettleResponse{Success: true, Transaction: "0xdeadbeef"},
	}
	r := newTestRouter(t, facilitator, func(c *gin.Context) { c.String(500, "downstream failure") })

	payload := x402gate.PaymentPayload{
		X402Version: x402gate.ProtocolVersion,
		Payload:     map[string]interface{}{"sig": "0xabc"},
		Accepted: x402gate.PaymentRequirements{
			Scheme: "exact", Network: "eip155:8453", Asset: "0xUSDC",
			Amount: "1000000", PayTo: "0xPayTo", MaxTimeoutSeconds: 300,
		},
	}
	header, err := EncodePaymentHeader(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set(PaymentHeader, header)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, 500, rec.Code)
	assert.Equal(t, "downstream failure", rec.Body.String())
	assert.Equal(t, 0, facilitator.settleCalls)
	assert.Empty(t, rec.Header().Get(PaymentResponseHeader))
}

func TestGateMiddlewareOverridesResponseOnSettleFailure(t *testing.T) {
	facilitator := &fakeMWFacilitatorClient{
		verifyResp: x402gate.VerifyResponse{IsValid: true, Payer: "0xPayer"},
		settleResp: x402gate.SettleResponse{Success: false, ErrorReason: x402gate.ErrCodeNonceUsed},
	}
	r := newTestRouter(t, facilitator, func(c *gin.Context) { c.String(200, "should never reach the client") })

	payload := x402gate.PaymentPayload{
		X402Version: x402gate.ProtocolVersion,
		Payload:     map[string]interface{}{"sig": "0xabc"},
		Accepted: x402gate.PaymentRequirements{
			Scheme: "exact", Network: "eip155:8453", Asset: "0xUSDC",
			Amount: "1000000", PayTo: "0xPayTo", MaxTimeoutSeconds: 300,
		},
	}
	header, err := EncodePaymentHeader(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set(PaymentHeader, header)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, 402, rec.Code)
	assert.Equal(t, 1, facilitator.settleCalls)
	assert.NotEmpty(t, rec.Header().Get(PaymentResponseHeader), "settle header should still be attached")

	var body x402gate.PaymentRequired
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, x402gate.ErrCodeNonceUsed, body.Error)
	assert.NotContains(t, rec.Body.String(), "should never reach the client")
}

func TestGateMiddlewareMalformedPaymentHeader(t *testing.T) {
	facilitator := &fakeMWFacilitatorClient{}
	r := newTestRouter(t, facilitator, func(c *gin.Context) { c.Status(200) })

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set(PaymentHeader, "not-valid-base64-json!!")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, 402, rec.Code)

	var body x402gate.PaymentRequired
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, x402gate.ProtocolVersion, body.X402Version)
}

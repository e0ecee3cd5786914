package x402gate

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServerHandler struct{ scheme string }

func (f fakeServerHandler) Scheme() string { return f.scheme }

func (f fakeServerHandler) ParsePrice(price Price, network NetworkID) (AssetAmount, error) {
	amount, _ := price.(string)
	smallest, err := DollarsToSmallestUnit(amount, 6)
	if err != nil {
		return AssetAmount{}, err
	}
	return AssetAmount{Asset: "0xUSDC", Amount: smallest}, nil
}

func (f fakeServerHandler) EnhancePaymentRequirements(ctx context.Context, requirements PaymentRequirements, kind SupportedKind, extensions []string) (PaymentRequirements, error) {
	return requirements, nil
}

type fakeFacilitatorClient struct {
	verifyResp  VerifyResponse
	settleResp  SettleResponse
	settleCalls int
	verifyErr   error
	settleErr   error
}

func (f *fakeFacilitatorClient) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (VerifyResponse, error) {
	return f.verifyResp, f.verifyErr
}

func (f *fakeFacilitatorClient) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (SettleResponse, error) {
	f.settleCalls++
	return f.settleResp, f.settleErr
}

func (f *fakeFacilitatorClient) GetSupported(ctx context.Context) (SupportedResponse, error) {
	return SupportedResponse{Kinds: []SupportedKind{{X402Version: ProtocolVersion, Scheme: "exact", Network: "eip155:8453"}}}, nil
}

func newTestServer(t *testing.T, facilitator FacilitatorClient) *ResourceServerCore {
	t.Helper()
	s := NewResourceServerCore(
		WithFacilitatorClient(facilitator),
		WithServerScheme("eip155:*", fakeServerHandler{scheme: "exact"}),
	)
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func TestBuildPaymentRequirements(t *testing.T) {
	s := newTestServer(t, &fakeFacilitatorClient{})
	req, err := s.BuildPaymentRequirements(context.Background(), ResourceConfig{
		Scheme: "exact", Network: "eip155:8453", PayTo: "0xPayTo", Price: "4.02",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "4020000", req.Amount)
	assert.Equal(t, 300, req.MaxTimeoutSeconds)
}

func TestProcessPaymentRequestNoPayload(t *testing.T) {
	s := newTestServer(t, &fakeFacilitatorClient{})
	result, err := s.ProcessPaymentRequest(context.Background(), nil, ResourceConfig{
		Scheme: "exact", Network: "eip155:8453", PayTo: "0xPayTo", Price: "1.00",
	}, nil, nil)
	require.NoError(t, err)
	assert.True(t, result.RequiresPayment)
	assert.NotNil(t, result.PaymentRequired)
}

func TestProcessPaymentRequestVerifiedFlow(t *testing.T) {
	facilitator := &fakeFacilitatorClient{verifyResp: VerifyResponse{IsValid: true, Payer: "0xPayer"}}
	s := newTestServer(t, facilitator)

	cfg := ResourceConfig{Scheme: "exact", Network: "eip155:8453", PayTo: "0xPayTo", Price: "1.00"}
	requirements, err := s.BuildPaymentRequirements(context.Background(), cfg, nil)
	require.NoError(t, err)

	payload := PaymentPayload{X402Version: ProtocolVersion, Payload: map[string]interface{}{"sig": "0xabc"}, Accepted: requirements}
	payloadBytes, err := json.Marshal(payload)
	require.NoError(t, err)

	result, err := s.ProcessPaymentRequest(context.Background(), payloadBytes, cfg, nil, nil)
	require.NoError(t, err)
	assert.False(t, result.RequiresPayment)
	assert.True(t, result.VerifyResult.IsValid)
}

func TestProcessSettlementSkipsOnDownstreamError(t *testing.T) {
	facilitator := &fakeFacilitatorClient{settleResp: SettleResponse{Success: true}}
	s := newTestServer(t, facilitator)

	resp, err := s.ProcessSettlement(context.Background(), PaymentPayload{}, PaymentRequirements{Scheme: "exact", Network: "eip155:8453"}, 500)
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, 0, facilitator.settleCalls)
}

func TestProcessSettlementCallsOnDownstreamSuccess(t *testing.T) {
	facilitator := &fakeFacilitatorClient{settleResp: SettleResponse{Success: true, Transaction: "0xdeadbeef"}}
	s := newTestServer(t, facilitator)

	resp, err := s.ProcessSettlement(context.Background(), PaymentPayload{}, PaymentRequirements{Scheme: "exact", Network: "eip155:8453"}, 200)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "0xdeadbeef", resp.Transaction)
	assert.Equal(t, 1, facilitator.settleCalls)
}

func TestCreatePaymentRequiredResponseLeavesErrorEmpty(t *testing.T) {
	required := CreatePaymentRequiredResponse(nil, nil, nil)
	assert.Empty(t, required.Error)
}

func TestProcessPaymentRequestNoMatchUsesVocabularyCode(t *testing.T) {
	s := newTestServer(t, &fakeFacilitatorClient{})
	cfg := ResourceConfig{Scheme: "exact", Network: "eip155:8453", PayTo: "0xPayTo", Price: "1.00"}

	payload := PaymentPayload{
		X402Version: ProtocolVersion,
		Payload:     map[string]interface{}{"sig": "0xabc"},
		Accepted:    PaymentRequirements{Scheme: "exact", Network: "eip155:8453", Asset: "0xUSDC", Amount: "1", PayTo: "0xsomeoneelse"},
	}
	payloadBytes, err := json.Marshal(payload)
	require.NoError(t, err)

	result, err := s.ProcessPaymentRequest(context.Background(), payloadBytes, cfg, nil, nil)
	require.NoError(t, err)
	require.True(t, result.RequiresPayment)
	assert.Equal(t, ErrCodeNoMatchingRequirement, result.PaymentRequired.Error)
}

func TestProcessPaymentRequestVerifyFailureUsesVocabularyCode(t *testing.T) {
	facilitator := &fakeFacilitatorClient{verifyErr: NewPaymentError(ErrCodeFacilitatorUnreachable, "dial tcp: connection refused", nil)}
	s := newTestServer(t, facilitator)
	cfg := ResourceConfig{Scheme: "exact", Network: "eip155:8453", PayTo: "0xPayTo", Price: "1.00"}

	requirements, err := s.BuildPaymentRequirements(context.Background(), cfg, nil)
	require.NoError(t, err)
	payload := PaymentPayload{X402Version: ProtocolVersion, Payload: map[string]interface{}{"sig": "0xabc"}, Accepted: requirements}
	payloadBytes, err := json.Marshal(payload)
	require.NoError(t, err)

	result, err := s.ProcessPaymentRequest(context.Background(), payloadBytes, cfg, nil, nil)
	require.NoError(t, err)
	require.True(t, result.RequiresPayment)
	assert.Equal(t, ErrCodeFacilitatorUnreachable, result.PaymentRequired.Error)
}

type fakePayloadExtension struct{ rejects bool }

func (f *fakePayloadExtension) Key() string { return "testExtension" }
func (f *fakePayloadExtension) EnrichDeclaration(declaration, transportContext interface{}) interface{} {
	return declaration
}
func (f *fakePayloadExtension) Validate(ctx context.Context, payloadExtension interface{}) error {
	if f.rejects {
		return fmt.Errorf("bad extension payload")
	}
	return nil
}

func TestProcessPaymentRequestRunsExtensionValidateBetweenVerifyAndSettle(t *testing.T) {
	facilitator := &fakeFacilitatorClient{verifyResp: VerifyResponse{IsValid: true, Payer: "0xPayer"}}
	s := newTestServer(t, facilitator)
	s.RegisterExtension(ExtensionSpec{Key: "testExtension", Extension: &fakePayloadExtension{rejects: true}})

	cfg := ResourceConfig{Scheme: "exact", Network: "eip155:8453", PayTo: "0xPayTo", Price: "1.00"}
	requirements, err := s.BuildPaymentRequirements(context.Background(), cfg, nil)
	require.NoError(t, err)

	payload := PaymentPayload{
		X402Version: ProtocolVersion,
		Payload:     map[string]interface{}{"sig": "0xabc"},
		Accepted:    requirements,
		Extensions:  map[string]interface{}{"testExtension": map[string]interface{}{"foo": "bar"}},
	}
	payloadBytes, err := json.Marshal(payload)
	require.NoError(t, err)

	result, err := s.ProcessPaymentRequest(context.Background(), payloadBytes, cfg, nil, nil)
	require.NoError(t, err)
	require.True(t, result.RequiresPayment)
	assert.Equal(t, ErrCodeExtensionInvalid, result.PaymentRequired.Error)
}

func TestFindMatchingRequirementsRejectsUnofferedTerms(t *testing.T) {
	offered := PaymentRequirements{Scheme: "exact", Network: "eip155:8453", Asset: "0xUSDC", Amount: "1000000", PayTo: "0xPayTo", MaxTimeoutSeconds: 300}
	payload := PaymentPayload{Accepted: PaymentRequirements{Scheme: "exact", Network: "eip155:8453", Asset: "0xUSDC", Amount: "999", PayTo: "0xPayTo", MaxTimeoutSeconds: 300}}

	_, ok := FindMatchingRequirements([]PaymentRequirements{offered}, payload)
	assert.False(t, ok)
}

package x402gate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFacilitatorHandler struct {
	scheme     string
	verifyResp VerifyResponse
	settleResp SettleResponse
}

func (f fakeFacilitatorHandler) Scheme() string { return f.scheme }

func (f fakeFacilitatorHandler) Verify(ctx context.Context, version int, payloadBytes, requirementsBytes []byte) (VerifyResponse, error) {
	return f.verifyResp, nil
}

func (f fakeFacilitatorHandler) Settle(ctx context.Context, version int, payloadBytes, requirementsBytes []byte) (SettleResponse, error) {
	return f.settleResp, nil
}

func TestLocalFacilitatorVerifyDispatchesByScheme(t *testing.T) {
	f := NewLocalFacilitator()
	f.RegisterScheme("eip155:*", fakeFacilitatorHandler{scheme: "exact", verifyResp: VerifyResponse{IsValid: true, Payer: "0xPayer"}})

	requirementsBytes, err := json.Marshal(PaymentRequirements{Scheme: "exact", Network: "eip155:8453"})
	require.NoError(t, err)

	resp, err := f.Verify(context.Background(), []byte(`{}`), requirementsBytes)
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
	assert.Equal(t, "0xPayer", resp.Payer)
}

func TestLocalFacilitatorVerifyUnknownScheme(t *testing.T) {
	f := NewLocalFacilitator()
	requirementsBytes, _ := json.Marshal(PaymentRequirements{Scheme: "exact", Network: "eip155:8453"})
	_, err := f.Verify(context.Background(), []byte(`{}`), requirementsBytes)
	require.Error(t, err)
}

func TestLocalFacilitatorGetSupported(t *testing.T) {
	f := NewLocalFacilitator()
	f.RegisterScheme("eip155:8453", fakeFacilitatorHandler{scheme: "exact"})
	f.RegisterExtension("idempotent-settle")

	resp, err := f.GetSupported(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Kinds, 1)
	assert.Equal(t, "exact", resp.Kinds[0].Scheme)
	assert.Contains(t, resp.Extensions, "idempotent-settle")
}

func TestLocalFacilitatorClientRoundTrip(t *testing.T) {
	f := NewLocalFacilitator()
	f.RegisterScheme("eip155:8453", fakeFacilitatorHandler{scheme: "exact", settleResp: SettleResponse{Success: true, Transaction: "0xabc"}})
	client := NewLocalFacilitatorClient(f)

	requirementsBytes, _ := json.Marshal(PaymentRequirements{Scheme: "exact", Network: "eip155:8453"})
	resp, err := client.Settle(context.Background(), []byte(`{}`), requirementsBytes)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, NetworkID("eip155:8453"), resp.Network)
}

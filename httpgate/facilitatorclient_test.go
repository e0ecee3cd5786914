package httpgate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402gate "github.com/x402gate/x402gate"
)

func TestFacilitatorHTTPClientVerifySuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(x402gate.VerifyResponse{IsValid: true, Payer: "0xPayer"})
	}))
	defer server.Close()

	client := NewFacilitatorHTTPClient(server.URL)
	payloadBytes, _ := json.Marshal(x402gate.PaymentPayload{})
	requirementsBytes, _ := json.Marshal(x402gate.PaymentRequirements{})

	resp, err := client.Verify(context.Background(), payloadBytes, requirementsBytes)
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
	assert.Equal(t, "0xPayer", resp.Payer)
}

func TestFacilitatorHTTPClientNon2xxIsFacilitatorUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	client := NewFacilitatorHTTPClient(server.URL)
	payloadBytes, _ := json.Marshal(x402gate.PaymentPayload{})
	requirementsBytes, _ := json.Marshal(x402gate.PaymentRequirements{})

	_, err := client.Settle(context.Background(), payloadBytes, requirementsBytes)
	require.Error(t, err)

	var perr *x402gate.PaymentError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, x402gate.ErrCodeFacilitatorUnreachable, perr.Code)
}

func TestFacilitatorHTTPClientAuthHeaders(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(x402gate.SupportedResponse{})
	}))
	defer server.Close()

	client := NewFacilitatorHTTPClient(server.URL)
	client.AuthHeaders = func(operation string) (map[string]string, error) {
		return map[string]string{"Authorization": "Bearer token-for-" + operation}, nil
	}

	_, err := client.GetSupported(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-for-supported", gotAuth)
}

package httpgate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402gate "github.com/x402gate/x402gate"
)

type countingClientHandler struct{ scheme string }

func (h countingClientHandler) Scheme() string { return h.scheme }
func (h countingClientHandler) CreatePaymentPayload(ctx context.Context, version int, requirementsBytes []byte) ([]byte, error) {
	return []byte(`{"x402Version":2,"payload":{"sig":"0xabc"}}`), nil
}

func TestPaymentRoundTripperRetriesExactlyOnce(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"x402Version":2,"accepts":[{"scheme":"exact","network":"eip155:8453","asset":"0xUSDC","amount":"1000000","payTo":"0xPayTo","maxTimeoutSeconds":300}]}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := x402gate.NewClientCore(x402gate.WithClientScheme("eip155:8453", countingClientHandler{scheme: "exact"}))
	httpClient := WrapWithPayment(nil, client)

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPaymentRoundTripperDoesNotRetryTwice(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"x402Version":2,"accepts":[{"scheme":"exact","network":"eip155:8453","asset":"0xUSDC","amount":"1000000","payTo":"0xPayTo","maxTimeoutSeconds":300}]}`))
	}))
	defer server.Close()

	client := x402gate.NewClientCore(x402gate.WithClientScheme("eip155:8453", countingClientHandler{scheme: "exact"}))
	httpClient := WrapWithPayment(nil, client)

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

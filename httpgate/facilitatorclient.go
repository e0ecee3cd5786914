package httpgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402gate "github.com/x402gate/x402gate"
)

// DefaultFacilitatorTimeout bounds every request FacilitatorHTTPClient makes.
const DefaultFacilitatorTimeout = 30 * time.Second

// FacilitatorHTTPClient implements x402gate.FacilitatorClient by POSTing
// to a remote facilitator's /verify and /settle endpoints and GETting
// /supported, the vendor-neutral HTTP shape every facilitator in this
// module's test suite implements.
type FacilitatorHTTPClient struct {
	BaseURL    string
	HTTPClient *http.Client
	// AuthHeaders, if set, is called per-operation ("verify", "settle",
	// "supported") to get extra headers to attach, e.g. for a bearer token.
	AuthHeaders func(operation string) (map[string]string, error)
}

func NewFacilitatorHTTPClient(baseURL string) *FacilitatorHTTPClient {
	return &FacilitatorHTTPClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: DefaultFacilitatorTimeout},
	}
}

func (c *FacilitatorHTTPClient) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (x402gate.VerifyResponse, error) {
	var payload x402gate.PaymentPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return x402gate.VerifyResponse{}, err
	}
	var requirements x402gate.PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return x402gate.VerifyResponse{}, err
	}

	var result x402gate.VerifyResponse
	err := c.doRequest(ctx, http.MethodPost, "/verify", "verify",
		x402gate.VerifyRequest{PaymentPayload: payload, PaymentRequirements: requirements}, &result)
	return result, err
}

func (c *FacilitatorHTTPClient) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (x402gate.SettleResponse, error) {
	var payload x402gate.PaymentPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return x402gate.SettleResponse{}, err
	}
	var requirements x402gate.PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return x402gate.SettleResponse{}, err
	}

	var result x402gate.SettleResponse
	err := c.doRequest(ctx, http.MethodPost, "/settle", "settle",
		x402gate.SettleRequest{PaymentPayload: payload, PaymentRequirements: requirements}, &result)
	return result, err
}

func (c *FacilitatorHTTPClient) GetSupported(ctx context.Context) (x402gate.SupportedResponse, error) {
	var result x402gate.SupportedResponse
	err := c.doRequest(ctx, http.MethodGet, "/supported", "supported", nil, &result)
	return result, err
}

// doRequest issues one HTTP call and maps a non-2xx response to
// ErrCodeFacilitatorUnreachable, the wire-level analogue of a facilitator
// that can't be reached at all.
func (c *FacilitatorHTTPClient) doRequest(ctx context.Context, method, path, operation string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.AuthHeaders != nil {
		headers, err := c.AuthHeaders(operation)
		if err != nil {
			return fmt.Errorf("build auth headers: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return x402gate.NewPaymentError(x402gate.ErrCodeFacilitatorUnreachable, err.Error(), nil)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return x402gate.NewPaymentError(x402gate.ErrCodeFacilitatorUnreachable, err.Error(), nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return x402gate.NewPaymentError(x402gate.ErrCodeFacilitatorUnreachable,
			fmt.Sprintf("facilitator returned status %d: %s", resp.StatusCode, string(respBody)),
			map[string]interface{}{"status": resp.StatusCode})
	}

	if len(respBody) == 0 || result == nil {
		return nil
	}
	return json.Unmarshal(respBody, result)
}

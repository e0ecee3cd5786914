package httpgate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	x402gate "github.com/x402gate/x402gate"
)

// PaymentRoundTripper wraps an http.RoundTripper so that a 402 response is
// automatically paid for and the request retried exactly once. A second
// 402 on the retry is returned to the caller as-is rather than looping —
// retrying forever on a facilitator or server that keeps saying "pay
// again" would silently multiply the user's spend.
type PaymentRoundTripper struct {
	Transport http.RoundTripper
	Client    *x402gate.ClientCore

	mu       sync.Mutex
	retried  map[*http.Request]bool
}

// WrapWithPayment returns an *http.Client that pays 402s using client,
// retrying each distinct request at most once.
func WrapWithPayment(base *http.Client, client *x402gate.ClientCore) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	wrapped := *base
	wrapped.Transport = &PaymentRoundTripper{Transport: transport, Client: client, retried: make(map[*http.Request]bool)}
	return &wrapped
}

func (rt *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.Transport.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusPaymentRequired {
		return resp, err
	}

	rt.mu.Lock()
	alreadyRetried := rt.retried[req]
	if !alreadyRetried {
		rt.retried[req] = true
	}
	rt.mu.Unlock()
	if alreadyRetried {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read 402 body: %w", err)
	}

	var required x402gate.PaymentRequired
	if err := json.Unmarshal(body, &required); err != nil {
		return nil, fmt.Errorf("decode payment-required response: %w", err)
	}

	payload, err := rt.Client.CreatePaymentForRequired(req.Context(), required)
	if err != nil {
		return nil, fmt.Errorf("create payment for 402: %w", err)
	}

	header, err := EncodePaymentHeader(payload)
	if err != nil {
		return nil, err
	}

	retryReq, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	retryReq.Header.Set(PaymentHeader, header)

	return rt.Transport.RoundTrip(retryReq)
}

// cloneRequest duplicates a request (including its body, since the
// original body reader was already consumed by the first attempt if
// present) so the retry can be sent independently.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("clone request body: %w", err)
		}
		clone.Body = body
	} else if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(raw))
		clone.Body = io.NopCloser(bytes.NewReader(raw))
	}
	return clone, nil
}

// Package httpgate wires x402gate's transport-agnostic core to net/http:
// a gin middleware for resource servers, a RoundTripper for paying
// clients, and an HTTP FacilitatorClient for talking to a remote
// facilitator. Header and body shapes here are the wire contract
// resource servers and clients actually exchange.
package httpgate

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	x402gate "github.com/x402gate/x402gate"
)

// PaymentHeader is the header a client attaches a base64-encoded
// PaymentPayload to on a retried request.
const PaymentHeader = "X-PAYMENT"

// PaymentResponseHeader is the header a resource server attaches a
// base64-encoded SettleResponse to once it has settled.
const PaymentResponseHeader = "X-PAYMENT-RESPONSE"

// EncodePaymentHeader base64-encodes a JSON-marshaled payload for the
// X-PAYMENT header.
func EncodePaymentHeader(payload x402gate.PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentHeader reverses EncodePaymentHeader.
func DecodePaymentHeader(header string) (x402gate.PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return x402gate.PaymentPayload{}, fmt.Errorf("decode payment header: %w", err)
	}
	var payload x402gate.PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return x402gate.PaymentPayload{}, fmt.Errorf("unmarshal payment payload: %w", err)
	}
	return payload, nil
}

// EncodeSettleResponseHeader base64-encodes a JSON-marshaled settle
// response for the X-PAYMENT-RESPONSE header.
func EncodeSettleResponseHeader(resp x402gate.SettleResponse) (string, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("marshal settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSettleResponseHeader reverses EncodeSettleResponseHeader.
func DecodeSettleResponseHeader(header string) (x402gate.SettleResponse, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return x402gate.SettleResponse{}, fmt.Errorf("decode settle response header: %w", err)
	}
	var resp x402gate.SettleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return x402gate.SettleResponse{}, fmt.Errorf("unmarshal settle response: %w", err)
	}
	return resp, nil
}

// extractPaymentHeader pulls the X-PAYMENT header from a request,
// returning "" if absent — callers treat that as "no payment offered yet".
func extractPaymentHeader(r *http.Request) string {
	return r.Header.Get(PaymentHeader)
}

// Package x402gate implements the core, transport-agnostic pieces of the
// x402 payment-negotiation protocol: a scheme registry, a facilitator
// client contract, a resource-server gate pipeline and a paying-client
// loop. Scheme-specific signing/verification (EVM, SVM) and HTTP wiring
// live in the sibling schemes/ and httpgate/ packages.
package x402gate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is the only x402 wire version this module speaks. V1
// compatibility is out of scope; see DESIGN.md.
const ProtocolVersion = 2

// NetworkID identifies a chain in CAIP-2-style "family:chain" form, e.g.
// "eip155:8453" or "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp". A family
// wildcard "family:*" matches any chain id within that family.
type NetworkID string

// Parse splits the id into family and chain components.
func (n NetworkID) Parse() (family, chain string, err error) {
	parts := strings.SplitN(string(n), ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid network id: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match reports whether n satisfies pattern, where either side may be a
// family wildcard ("eip155:*").
func (n NetworkID) Match(pattern NetworkID) bool {
	if n == pattern {
		return true
	}
	ns, ps := string(n), string(pattern)
	if strings.HasSuffix(ps, ":*") {
		return strings.HasPrefix(ns, strings.TrimSuffix(ps, "*"))
	}
	if strings.HasSuffix(ns, ":*") {
		return strings.HasPrefix(ps, strings.TrimSuffix(ns, "*"))
	}
	return false
}

// Price is either a plain dollar string ("$4.02") or an already-resolved
// AssetAmount; scheme server handlers decide how to interpret it.
type Price interface{}

// AssetAmount is an amount of a specific fungible asset, denominated in
// the asset's smallest unit. Amount is always a base-10 integer string;
// this module never represents money as a float.
type AssetAmount struct {
	Asset  string                 `json:"asset"`
	Amount string                 `json:"amount"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequirements is one accepted way to pay for a resource.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           NetworkID              `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Extensions        map[string]interface{} `json:"extensions,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PartialPaymentPayload is what a scheme client handler returns: the
// version and scheme-specific payload, before the core wraps it with the
// selected requirements' scheme/network/resource/extensions.
type PartialPaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
}

// PaymentPayload is the signed proof of payment a client attaches to a
// retried request.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// ResourceInfo describes the resource a 402 response is gating.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequired is the body of a 402 response.
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Error       string                 `json:"error,omitempty"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// VerifyRequest bundles a payload with the requirements it is checked
// against; used by HTTP-shaped FacilitatorClient implementations.
type VerifyRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse is the facilitator's answer to a verify call.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleRequest bundles a payload with the requirements it settles against.
type SettleRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleResponse is the facilitator's answer to a settle call.
type SettleResponse struct {
	Success     bool      `json:"success"`
	ErrorReason string    `json:"errorReason,omitempty"`
	Payer       string    `json:"payer,omitempty"`
	Transaction string    `json:"transaction,omitempty"`
	Network     NetworkID `json:"network,omitempty"`
}

// SupportedKind is one (scheme, network) pair a facilitator can serve.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     NetworkID              `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse enumerates a facilitator's capabilities.
type SupportedResponse struct {
	Kinds      []SupportedKind `json:"kinds"`
	Extensions []string        `json:"extensions,omitempty"`
}

// ResourceConfig is what a route declares about how it should be paid for.
type ResourceConfig struct {
	Scheme            string    `json:"scheme"`
	PayTo             string    `json:"payTo"`
	Price             Price     `json:"price"`
	Network           NetworkID `json:"network"`
	MaxTimeoutSeconds int       `json:"maxTimeoutSeconds,omitempty"`
}

// DeepEqual compares two JSON-shaped values for structural equality,
// independent of key order or concrete numeric representation.
func DeepEqual(a, b interface{}) bool {
	aJSON, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bJSON, err := json.Marshal(b)
	if err != nil {
		return false
	}

	var aNorm, bNorm interface{}
	if err := json.Unmarshal(aJSON, &aNorm); err != nil {
		return false
	}
	if err := json.Unmarshal(bJSON, &bNorm); err != nil {
		return false
	}

	aNormJSON, _ := json.Marshal(aNorm)
	bNormJSON, _ := json.Marshal(bNorm)
	return string(aNormJSON) == string(bNormJSON)
}

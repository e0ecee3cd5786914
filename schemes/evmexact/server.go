package evmexact

import (
	"context"
	"fmt"

	x402gate "github.com/x402gate/x402gate"
)

// ServerHandler implements x402gate.SchemeServerHandler for the EVM exact
// scheme: it converts a dollar price into the asset's smallest unit and
// attaches the EIP-712 domain the client and facilitator both need.
type ServerHandler struct {
	// DefaultAsset is used when a ResourceConfig doesn't name one
	// explicitly via AssetAmount price.
	DefaultAsset string
}

func NewServerHandler(defaultAsset string) *ServerHandler {
	return &ServerHandler{DefaultAsset: defaultAsset}
}

func (h *ServerHandler) Scheme() string { return "exact" }

func (h *ServerHandler) ParsePrice(price x402gate.Price, network x402gate.NetworkID) (x402gate.AssetAmount, error) {
	switch p := price.(type) {
	case x402gate.AssetAmount:
		return p, nil
	case string:
		asset := h.DefaultAsset
		info, ok := lookupAsset(string(network), asset)
		if !ok {
			return x402gate.AssetAmount{}, x402gate.NewPaymentError(x402gate.ErrCodeUnsupportedNetwork,
				fmt.Sprintf("evmexact: no known asset %s on %s", asset, network), nil)
		}
		smallest, err := x402gate.DollarsToSmallestUnit(p, info.Decimals)
		if err != nil {
			return x402gate.AssetAmount{}, fmt.Errorf("parse price: %w", err)
		}
		return x402gate.AssetAmount{
			Asset:  asset,
			Amount: smallest,
			Extra:  map[string]interface{}{"name": info.Name, "version": info.Version},
		}, nil
	default:
		return x402gate.AssetAmount{}, x402gate.NewPaymentError(x402gate.ErrCodeInvalidPayment,
			"evmexact: unsupported price type", nil)
	}
}

func (h *ServerHandler) EnhancePaymentRequirements(
	ctx context.Context,
	requirements x402gate.PaymentRequirements,
	supportedKind x402gate.SupportedKind,
	extensions []string,
) (x402gate.PaymentRequirements, error) {
	if requirements.Extra != nil && requirements.Extra["name"] != nil && requirements.Extra["version"] != nil {
		return requirements, nil
	}
	info, ok := lookupAsset(string(requirements.Network), requirements.Asset)
	if !ok {
		return requirements, x402gate.NewPaymentError(x402gate.ErrCodeUnsupportedNetwork,
			fmt.Sprintf("evmexact: no known asset %s on %s", requirements.Asset, requirements.Network), nil)
	}
	if requirements.Extra == nil {
		requirements.Extra = map[string]interface{}{}
	}
	requirements.Extra["name"] = info.Name
	requirements.Extra["version"] = info.Version
	return requirements, nil
}

package svmexact

import (
	"context"
	"fmt"

	x402gate "github.com/x402gate/x402gate"
)

// ServerHandler implements x402gate.SchemeServerHandler for the SVM exact
// scheme.
type ServerHandler struct {
	DefaultMint string
}

func NewServerHandler(defaultMint string) *ServerHandler {
	return &ServerHandler{DefaultMint: defaultMint}
}

func (h *ServerHandler) Scheme() string { return "exact" }

func (h *ServerHandler) ParsePrice(price x402gate.Price, network x402gate.NetworkID) (x402gate.AssetAmount, error) {
	switch p := price.(type) {
	case x402gate.AssetAmount:
		return p, nil
	case string:
		mint := h.DefaultMint
		info, ok := lookupAsset(string(network), mint)
		if !ok {
			return x402gate.AssetAmount{}, x402gate.NewPaymentError(x402gate.ErrCodeUnsupportedNetwork,
				fmt.Sprintf("svmexact: no known mint %s on %s", mint, network), nil)
		}
		smallest, err := x402gate.DollarsToSmallestUnit(p, int(info.Decimals))
		if err != nil {
			return x402gate.AssetAmount{}, fmt.Errorf("parse price: %w", err)
		}
		return x402gate.AssetAmount{
			Asset:  mint,
			Amount: smallest,
			Extra:  map[string]interface{}{"decimals": int(info.Decimals)},
		}, nil
	default:
		return x402gate.AssetAmount{}, x402gate.NewPaymentError(x402gate.ErrCodeInvalidPayment,
			"svmexact: unsupported price type", nil)
	}
}

func (h *ServerHandler) EnhancePaymentRequirements(
	ctx context.Context,
	requirements x402gate.PaymentRequirements,
	supportedKind x402gate.SupportedKind,
	extensions []string,
) (x402gate.PaymentRequirements, error) {
	if requirements.Extra != nil && requirements.Extra["decimals"] != nil {
		return requirements, nil
	}
	info, ok := lookupAsset(string(requirements.Network), requirements.Asset)
	if !ok {
		return requirements, x402gate.NewPaymentError(x402gate.ErrCodeUnsupportedNetwork,
			fmt.Sprintf("svmexact: no known mint %s on %s", requirements.Asset, requirements.Network), nil)
	}
	if requirements.Extra == nil {
		requirements.Extra = map[string]interface{}{}
	}
	requirements.Extra["decimals"] = int(info.Decimals)
	return requirements, nil
}

package evmexact

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	x402gate "github.com/x402gate/x402gate"
)

// Broadcaster submits a verified transferWithAuthorization call on-chain
// and returns the resulting transaction hash. A facilitator without one
// configured can still Verify but fails Settle with ErrCodeSettlementFailed
// — grounded in the teacher's FacilitatorEvmSigner.WriteContract, but kept
// as a narrow interface so tests don't need a live RPC endpoint.
type Broadcaster interface {
	TransferWithAuthorization(ctx context.Context, chainID int64, asset string, auth Authorization, sig []byte) (txHash string, err error)
}

// FacilitatorHandler implements x402gate.SchemeFacilitatorHandler for the
// EVM exact scheme.
type FacilitatorHandler struct {
	Broadcaster Broadcaster
	// ClockSkew is the minimum remaining lifetime Verify requires of an
	// authorization's validBefore, matching the teacher's 6-second
	// block-time buffer; validAfter is compared with the current time
	// without it.
	ClockSkew time.Duration
}

func NewFacilitatorHandler(broadcaster Broadcaster) *FacilitatorHandler {
	return &FacilitatorHandler{Broadcaster: broadcaster, ClockSkew: 6 * time.Second}
}

func (h *FacilitatorHandler) Scheme() string { return "exact" }

func (h *FacilitatorHandler) Verify(ctx context.Context, version int, payloadBytes, requirementsBytes []byte) (x402gate.VerifyResponse, error) {
	payload, requirements, err := h.decode(payloadBytes, requirementsBytes)
	if err != nil {
		return x402gate.VerifyResponse{}, err
	}
	return h.verify(payload, requirements)
}

func (h *FacilitatorHandler) Settle(ctx context.Context, version int, payloadBytes, requirementsBytes []byte) (x402gate.SettleResponse, error) {
	payload, requirements, err := h.decode(payloadBytes, requirementsBytes)
	if err != nil {
		return x402gate.SettleResponse{}, err
	}

	verifyResp, err := h.verify(payload, requirements)
	if err != nil {
		return x402gate.SettleResponse{}, err
	}
	if !verifyResp.IsValid {
		return x402gate.SettleResponse{Success: false, ErrorReason: verifyResp.InvalidReason, Network: requirements.Network}, nil
	}

	if h.Broadcaster == nil {
		return x402gate.SettleResponse{}, x402gate.NewPaymentError(x402gate.ErrCodeSettlementFailed,
			"evmexact: no broadcaster configured", nil)
	}

	chainID, _ := chainIDFor(string(requirements.Network))
	sig, err := hexToBytes(payload.Signature)
	if err != nil {
		return x402gate.SettleResponse{}, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload, err.Error(), nil)
	}

	txHash, err := h.Broadcaster.TransferWithAuthorization(ctx, chainID.Int64(), requirements.Asset, payload.Authorization, sig)
	if err != nil {
		return x402gate.SettleResponse{
			Success: false, ErrorReason: "transaction_failed",
			Network: requirements.Network, Payer: payload.Authorization.From,
		}, nil
	}

	return x402gate.SettleResponse{
		Success: true, Transaction: txHash, Network: requirements.Network, Payer: payload.Authorization.From,
	}, nil
}

func (h *FacilitatorHandler) decode(payloadBytes, requirementsBytes []byte) (Payload, x402gate.PaymentRequirements, error) {
	var envelope x402gate.PaymentPayload
	if err := json.Unmarshal(payloadBytes, &envelope); err != nil {
		return Payload{}, x402gate.PaymentRequirements{}, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload, err.Error(), nil)
	}
	var requirements x402gate.PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return Payload{}, x402gate.PaymentRequirements{}, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload, err.Error(), nil)
	}

	raw, err := json.Marshal(envelope.Payload)
	if err != nil {
		return Payload{}, x402gate.PaymentRequirements{}, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload, err.Error(), nil)
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}, x402gate.PaymentRequirements{}, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload, err.Error(), nil)
	}
	return payload, requirements, nil
}

func (h *FacilitatorHandler) verify(payload Payload, requirements x402gate.PaymentRequirements) (x402gate.VerifyResponse, error) {
	if payload.Signature == "" {
		return x402gate.VerifyResponse{IsValid: false, InvalidReason: "missing_signature"}, nil
	}
	if !strings.EqualFold(payload.Authorization.To, requirements.PayTo) {
		return x402gate.VerifyResponse{IsValid: false, InvalidReason: "recipient_mismatch", Payer: payload.Authorization.From}, nil
	}

	authValue, ok := new(big.Int).SetString(payload.Authorization.Value, 10)
	if !ok {
		return x402gate.VerifyResponse{IsValid: false, InvalidReason: "invalid_authorization_value", Payer: payload.Authorization.From}, nil
	}
	requiredValue, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return x402gate.VerifyResponse{}, x402gate.NewPaymentError(x402gate.ErrCodeInternal, "invalid required amount", nil)
	}
	if authValue.Cmp(requiredValue) < 0 {
		return x402gate.VerifyResponse{IsValid: false, InvalidReason: "amount_mismatch", Payer: payload.Authorization.From}, nil
	}

	now := time.Now().Unix()
	validBefore, ok := new(big.Int).SetString(payload.Authorization.ValidBefore, 10)
	if !ok || validBefore.Cmp(big.NewInt(now+int64(h.ClockSkew.Seconds()))) < 0 {
		return x402gate.VerifyResponse{IsValid: false, InvalidReason: "payment_expired", Payer: payload.Authorization.From}, nil
	}
	validAfter, ok := new(big.Int).SetString(payload.Authorization.ValidAfter, 10)
	if !ok || validAfter.Cmp(big.NewInt(now)) > 0 {
		return x402gate.VerifyResponse{IsValid: false, InvalidReason: "authorization_not_yet_valid", Payer: payload.Authorization.From}, nil
	}

	chainID, ok := chainIDFor(string(requirements.Network))
	if !ok {
		return x402gate.VerifyResponse{IsValid: false, InvalidReason: "unsupported_network", Payer: payload.Authorization.From}, nil
	}
	domain, err := domainFromExtra(requirements.Extra)
	if err != nil {
		return x402gate.VerifyResponse{IsValid: false, InvalidReason: "missing_eip712_domain", Payer: payload.Authorization.From}, nil
	}

	sig, err := hexToBytes(payload.Signature)
	if err != nil {
		return x402gate.VerifyResponse{IsValid: false, InvalidReason: "invalid_signature_format", Payer: payload.Authorization.From}, nil
	}
	recovered, err := recoverSigner(payload.Authorization, sig, chainID, requirements.Asset, domain.Name, domain.Version)
	if err != nil {
		return x402gate.VerifyResponse{IsValid: false, InvalidReason: "invalid_signature", Payer: payload.Authorization.From}, nil
	}
	if !strings.EqualFold(recovered, payload.Authorization.From) {
		return x402gate.VerifyResponse{IsValid: false, InvalidReason: "signature_signer_mismatch", Payer: payload.Authorization.From}, nil
	}

	return x402gate.VerifyResponse{IsValid: true, Payer: payload.Authorization.From}, nil
}

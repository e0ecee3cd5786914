package svmexact

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"

	x402gate "github.com/x402gate/x402gate"
)

// Broadcaster submits a verified transaction and returns its signature
// (Solana's transaction ID). A facilitator without one configured can
// still Verify but fails Settle with ErrCodeSettlementFailed.
type Broadcaster interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction) (signature string, err error)
}

// FacilitatorHandler implements x402gate.SchemeFacilitatorHandler for the
// SVM exact scheme.
type FacilitatorHandler struct {
	Broadcaster Broadcaster
}

func NewFacilitatorHandler(broadcaster Broadcaster) *FacilitatorHandler {
	return &FacilitatorHandler{Broadcaster: broadcaster}
}

func (h *FacilitatorHandler) Scheme() string { return "exact" }

func (h *FacilitatorHandler) Verify(ctx context.Context, version int, payloadBytes, requirementsBytes []byte) (x402gate.VerifyResponse, error) {
	tx, requirements, err := h.decode(payloadBytes, requirementsBytes)
	if err != nil {
		return x402gate.VerifyResponse{}, err
	}
	return h.verify(tx, requirements)
}

func (h *FacilitatorHandler) Settle(ctx context.Context, version int, payloadBytes, requirementsBytes []byte) (x402gate.SettleResponse, error) {
	tx, requirements, err := h.decode(payloadBytes, requirementsBytes)
	if err != nil {
		return x402gate.SettleResponse{}, err
	}

	verifyResp, err := h.verify(tx, requirements)
	if err != nil {
		return x402gate.SettleResponse{}, err
	}
	if !verifyResp.IsValid {
		return x402gate.SettleResponse{Success: false, ErrorReason: verifyResp.InvalidReason, Network: requirements.Network}, nil
	}

	if h.Broadcaster == nil {
		return x402gate.SettleResponse{}, x402gate.NewPaymentError(x402gate.ErrCodeSettlementFailed,
			"svmexact: no broadcaster configured", nil)
	}

	sig, err := h.Broadcaster.SendTransaction(ctx, tx)
	if err != nil {
		return x402gate.SettleResponse{
			Success: false, ErrorReason: "transaction_failed",
			Network: requirements.Network, Payer: verifyResp.Payer,
		}, nil
	}

	return x402gate.SettleResponse{
		Success: true, Transaction: sig, Network: requirements.Network, Payer: verifyResp.Payer,
	}, nil
}

func (h *FacilitatorHandler) decode(payloadBytes, requirementsBytes []byte) (*solana.Transaction, x402gate.PaymentRequirements, error) {
	var envelope x402gate.PaymentPayload
	if err := json.Unmarshal(payloadBytes, &envelope); err != nil {
		return nil, x402gate.PaymentRequirements{}, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload, err.Error(), nil)
	}
	var requirements x402gate.PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return nil, x402gate.PaymentRequirements{}, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload, err.Error(), nil)
	}

	wire, _ := envelope.Payload["transaction"].(string)
	if wire == "" {
		return nil, x402gate.PaymentRequirements{}, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload,
			"svmexact: payload missing transaction", nil)
	}

	tx, err := solana.TransactionFromBase64(wire)
	if err != nil {
		return nil, x402gate.PaymentRequirements{}, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload,
			fmt.Sprintf("svmexact: invalid transaction encoding: %v", err), nil)
	}
	return tx, requirements, nil
}

func (h *FacilitatorHandler) verify(tx *solana.Transaction, requirements x402gate.PaymentRequirements) (x402gate.VerifyResponse, error) {
	if err := tx.VerifySignatures(); err != nil {
		return x402gate.VerifyResponse{IsValid: false, InvalidReason: "invalid_signature"}, nil
	}

	mint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return x402gate.VerifyResponse{}, x402gate.NewPaymentError(x402gate.ErrCodeInternal, "invalid mint in requirements", nil)
	}
	destination, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return x402gate.VerifyResponse{}, x402gate.NewPaymentError(x402gate.ErrCodeInternal, "invalid payTo in requirements", nil)
	}
	requiredAmount, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return x402gate.VerifyResponse{}, x402gate.NewPaymentError(x402gate.ErrCodeInternal, "invalid required amount", nil)
	}

	accountKeys := tx.Message.AccountKeys

	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]
		if !programID.Equals(SPLTokenProgramID) {
			continue
		}
		data := []byte(instruction.Data)
		if len(data) != 10 || data[0] != transferCheckedDiscriminator {
			continue
		}
		if len(instruction.Accounts) < 4 {
			continue
		}

		instrMint := accountKeys[instruction.Accounts[1]]
		instrDestination := accountKeys[instruction.Accounts[2]]
		owner := accountKeys[instruction.Accounts[3]]

		if !instrMint.Equals(mint) || !instrDestination.Equals(destination) {
			continue
		}

		dec := bin.NewBinDecoder(data[1:9])
		amount, err := dec.ReadUint64(bin.LE)
		if err != nil {
			continue
		}
		if amount < requiredAmount {
			return x402gate.VerifyResponse{IsValid: false, InvalidReason: "amount_mismatch", Payer: owner.String()}, nil
		}

		return x402gate.VerifyResponse{IsValid: true, Payer: owner.String()}, nil
	}

	return x402gate.VerifyResponse{IsValid: false, InvalidReason: "missing_transfer_instruction"}, nil
}

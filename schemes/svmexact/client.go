package svmexact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"

	x402gate "github.com/x402gate/x402gate"
)

// Signer partially signs a Solana transaction and knows which token
// account it pays from for a given mint.
type Signer interface {
	PublicKey() solana.PublicKey
	SourceTokenAccount(mint solana.PublicKey) (solana.PublicKey, error)
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// BlockhashProvider supplies the recent blockhash a transaction needs to be
// valid; kept as a narrow interface so callers can wire any RPC client.
type BlockhashProvider interface {
	RecentBlockhash(ctx context.Context) (solana.Hash, error)
}

// ClientHandler implements x402gate.SchemeClientHandler for the SVM exact
// scheme: it builds an SPL TransferChecked instruction for the requested
// amount and partially signs it.
type ClientHandler struct {
	Signer    Signer
	Blockhash BlockhashProvider
}

func NewClientHandler(signer Signer, blockhash BlockhashProvider) *ClientHandler {
	return &ClientHandler{Signer: signer, Blockhash: blockhash}
}

func (h *ClientHandler) Scheme() string { return "exact" }

func (h *ClientHandler) CreatePaymentPayload(ctx context.Context, version int, requirementsBytes []byte) ([]byte, error) {
	var requirements x402gate.PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return nil, fmt.Errorf("unmarshal requirements: %w", err)
	}

	mint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return nil, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload,
			fmt.Sprintf("svmexact: invalid mint %s", requirements.Asset), nil)
	}
	destination, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload,
			fmt.Sprintf("svmexact: invalid payTo token account %s", requirements.PayTo), nil)
	}
	decimals, err := decimalsFromExtra(requirements.Extra)
	if err != nil {
		return nil, err
	}
	amount, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return nil, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload,
			fmt.Sprintf("svmexact: invalid amount %s", requirements.Amount), nil)
	}

	source, err := h.Signer.SourceTokenAccount(mint)
	if err != nil {
		return nil, fmt.Errorf("resolve source token account: %w", err)
	}

	instruction := transferCheckedInstruction(source, mint, destination, h.Signer.PublicKey(), amount, decimals)

	blockhash, err := h.Blockhash.RecentBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instruction},
		blockhash,
		solana.TransactionPayer(h.Signer.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	if err := h.Signer.SignTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	wire, err := tx.ToBase64()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}

	payload := Payload{Transaction: wire}
	payloadMap := map[string]interface{}{"transaction": payload.Transaction}

	partial := x402gate.PartialPaymentPayload{X402Version: version, Payload: payloadMap}
	return json.Marshal(partial)
}

// transferCheckedInstruction builds a raw SPL Token TransferChecked
// instruction: discriminator 12, amount (u64 LE), decimals (u8), with
// accounts [source, mint, destination, owner]. Encoded with the same
// binary.Encoder solana-go itself uses for native program instruction
// data, rather than hand-rolling the byte layout.
func transferCheckedInstruction(source, mint, destination, owner solana.PublicKey, amount uint64, decimals uint8) solana.Instruction {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint8(transferCheckedDiscriminator)
	_ = enc.WriteUint64(amount, bin.LE)
	_ = enc.WriteUint8(decimals)
	data := buf.Bytes()

	return solana.NewInstruction(
		SPLTokenProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(source, true, false),
			solana.NewAccountMeta(mint, false, false),
			solana.NewAccountMeta(destination, true, false),
			solana.NewAccountMeta(owner, false, true),
		},
		data,
	)
}

func decimalsFromExtra(extra map[string]interface{}) (uint8, error) {
	if extra == nil {
		return 0, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload,
			"svmexact: payment requirements missing mint decimals in extra", nil)
	}
	raw, ok := extra["decimals"]
	if !ok {
		return 0, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload,
			"svmexact: payment requirements missing mint decimals in extra", nil)
	}
	switch v := raw.(type) {
	case float64:
		return uint8(v), nil
	case int:
		return uint8(v), nil
	default:
		return 0, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload,
			"svmexact: decimals field has unexpected type", nil)
	}
}

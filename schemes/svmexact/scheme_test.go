package svmexact

import (
	"context"
	"encoding/json"
	"testing"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402gate "github.com/x402gate/x402gate"
)

func TestParsePriceComputesSmallestUnit(t *testing.T) {
	h := NewServerHandler("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	amount, err := h.ParsePrice("4.02", "solana:mainnet")
	require.NoError(t, err)
	assert.Equal(t, "4020000", amount.Amount)
	assert.Equal(t, 6, amount.Extra["decimals"])
}

func TestEnhancePaymentRequirementsAttachesDecimals(t *testing.T) {
	h := NewServerHandler("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	requirements := x402gate.PaymentRequirements{
		Network: "solana:mainnet", Asset: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	}
	enhanced, err := h.EnhancePaymentRequirements(context.Background(), requirements, x402gate.SupportedKind{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, enhanced.Extra["decimals"])
}

func TestTransferCheckedInstructionRoundTrip(t *testing.T) {
	source := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	destination := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()

	instr := transferCheckedInstruction(source, mint, destination, owner, 1_000_000, 6)
	data, err := instr.Data()
	require.NoError(t, err)

	require.Len(t, data, 10)
	assert.Equal(t, transferCheckedDiscriminator, data[0])
	assert.Equal(t, byte(6), data[9])

	dec := bin.NewBinDecoder(data[1:9])
	amount, err := dec.ReadUint64(bin.LE)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), amount)
}

func TestVerifyRejectsMissingTransferInstruction(t *testing.T) {
	fh := NewFacilitatorHandler(nil)
	payer := solana.NewWallet()
	blockhash := solana.Hash{}

	// A transaction whose only instruction is not an SPL Token
	// TransferChecked cannot satisfy any payment requirement.
	other := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(payer.PublicKey(), true, true),
	}, []byte{})
	tx, err := solana.NewTransaction([]solana.Instruction{other}, blockhash, solana.TransactionPayer(payer.PublicKey()))
	require.NoError(t, err)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer.PrivateKey
		}
		return nil
	})
	require.NoError(t, err)

	requirements := x402gate.PaymentRequirements{
		Network: "solana:devnet",
		Asset:   "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Amount:  "1000000",
		PayTo:   solana.NewWallet().PublicKey().String(),
	}
	resp, err := fh.verify(tx, requirements)
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Equal(t, "missing_transfer_instruction", resp.InvalidReason)
}

func TestSettleWithoutBroadcasterFails(t *testing.T) {
	fh := NewFacilitatorHandler(nil)
	payer := solana.NewWallet()
	mint := solana.NewWallet().PublicKey()
	destination := solana.NewWallet().PublicKey()

	instr := transferCheckedInstruction(payer.PublicKey(), mint, destination, payer.PublicKey(), 1_000_000, 6)
	tx, err := solana.NewTransaction([]solana.Instruction{instr}, solana.Hash{}, solana.TransactionPayer(payer.PublicKey()))
	require.NoError(t, err)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer.PrivateKey
		}
		return nil
	})
	require.NoError(t, err)
	wire, err := tx.ToBase64()
	require.NoError(t, err)

	payload := x402gate.PaymentPayload{
		X402Version: x402gate.ProtocolVersion,
		Payload:     map[string]interface{}{"transaction": wire},
	}
	requirements := x402gate.PaymentRequirements{
		Network: "solana:devnet",
		Asset:   mint.String(),
		Amount:  "1000000",
		PayTo:   destination.String(),
	}
	payloadBytes, _ := jsonMarshal(payload)
	requirementsBytes, _ := jsonMarshal(requirements)

	_, err = fh.Settle(context.Background(), x402gate.ProtocolVersion, payloadBytes, requirementsBytes)
	require.Error(t, err)

	var perr *x402gate.PaymentError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, x402gate.ErrCodeSettlementFailed, perr.Code)
}

func jsonMarshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

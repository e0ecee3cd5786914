// Command gate-client runs an example paying client: it signs EVM exact
// payments with a local private key and fetches a 402-gated resource,
// paying automatically on the first retry.
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402gate "github.com/x402gate/x402gate"
	"github.com/x402gate/x402gate/httpgate"
	"github.com/x402gate/x402gate/schemes/evmexact"
)

// ecdsaSigner implements evmexact.Signer over a raw secp256k1 private key,
// replicating the same EIP-712 TransferWithAuthorization domain the
// facilitator side hashes in schemes/evmexact/eip712.go so signatures
// verify on both ends.
type ecdsaSigner struct {
	key     *ecdsa.PrivateKey
	address string
}

func newECDSASigner(hexKey string) (*ecdsaSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &ecdsaSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}, nil
}

func (s *ecdsaSigner) Address() string { return s.address }

func (s *ecdsaSigner) SignAuthorization(ctx context.Context, auth evmexact.Authorization, chainID int64, verifyingContract, tokenName, tokenVersion string) ([]byte, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid authorization value: %s", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validAfter: %s", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validBefore: %s", auth.ValidBefore)
	}
	nonceBytes, err := hexToBytes(auth.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              tokenName,
			Version:           tokenVersion,
			ChainId:           (*math.HexOrDecimal256)(big.NewInt(chainID)),
			VerifyingContract: verifyingContract,
		},
		Message: map[string]interface{}{
			"from":        auth.From,
			"to":          auth.To,
			"value":       value,
			"validAfter":  validAfter,
			"validBefore": validBefore,
			"nonce":       nonceBytes,
		},
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash struct: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	raw := append([]byte{0x19, 0x01}, domainSeparator...)
	raw = append(raw, dataHash...)
	digest := crypto.Keccak256(raw)

	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	// crypto.Sign's recovery id is 0/1; Ethereum's wire format offsets it by 27.
	sig[64] += 27
	return sig, nil
}

func hexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	privateKey := os.Getenv("EVM_PRIVATE_KEY")
	if privateKey == "" {
		logger.Error("EVM_PRIVATE_KEY is required")
		os.Exit(1)
	}
	serverURL := envOr("SERVER_URL", "http://localhost:4021")

	signer, err := newECDSASigner(privateKey)
	if err != nil {
		logger.Error("load signer", "error", err)
		os.Exit(1)
	}

	client := x402gate.NewClientCore(
		x402gate.WithClientLogger(logger),
		x402gate.WithClientScheme("eip155:*", evmexact.NewClientHandler(signer)),
	)
	client.OnAfterPaymentCreation(func(ctx x402gate.PaymentCreatedContext) {
		logger.Info("payment created", "scheme", ctx.SelectedRequirements.Scheme, "network", ctx.SelectedRequirements.Network, "amount", ctx.SelectedRequirements.Amount)
	})

	httpClient := httpgate.WrapWithPayment(&http.Client{}, client)

	logger.Info("paying client requesting protected resource", "signer", signer.Address(), "server", serverURL)
	resp, err := httpClient.Get(serverURL + "/protected")
	if err != nil {
		logger.Error("request failed", "error", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("read response", "error", err)
		os.Exit(1)
	}
	logger.Info("response received", "status", resp.StatusCode, "settlement", resp.Header.Get(httpgate.PaymentResponseHeader))
	fmt.Println(string(body))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

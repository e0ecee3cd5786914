// Command gate-facilitator runs a standalone facilitator process exposing
// /verify, /settle and /supported over HTTP, broadcasting settled EVM
// exact payments to a real JSON-RPC endpoint.
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"

	x402gate "github.com/x402gate/x402gate"
	"github.com/x402gate/x402gate/extensions/idempotency"
	"github.com/x402gate/x402gate/extensions/receipt"
	"github.com/x402gate/x402gate/schemes/evmexact"
)

// transferWithAuthorizationABI covers only the one EIP-3009 method this
// broadcaster calls; a real deployment would load the full ERC-20 ABI.
const transferWithAuthorizationABI = `[{
	"type": "function",
	"name": "transferWithAuthorization",
	"inputs": [
		{"name": "from", "type": "address"},
		{"name": "to", "type": "address"},
		{"name": "value", "type": "uint256"},
		{"name": "validAfter", "type": "uint256"},
		{"name": "validBefore", "type": "uint256"},
		{"name": "nonce", "type": "bytes32"},
		{"name": "signature", "type": "bytes"}
	],
	"outputs": []
}]`

// rpcBroadcaster implements evmexact.Broadcaster by signing and submitting
// a transferWithAuthorization transaction over a real JSON-RPC connection,
// the facilitator-side counterpart to signers/evm/client.go's ReadContract
// call-and-unpack pattern.
type rpcBroadcaster struct {
	client      *ethclient.Client
	key         *ecdsa.PrivateKey
	contractABI abi.ABI
}

func newRPCBroadcaster(rpcURL, privateKeyHex string) (*rpcBroadcaster, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse relayer private key: %w", err)
	}
	parsedABI, err := abi.JSON(strings.NewReader(transferWithAuthorizationABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	return &rpcBroadcaster{client: client, key: key, contractABI: parsedABI}, nil
}

func (b *rpcBroadcaster) TransferWithAuthorization(ctx context.Context, chainID int64, asset string, auth evmexact.Authorization, sig []byte) (string, error) {
	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)
	nonce := common.HexToHash(auth.Nonce)

	data, err := b.contractABI.Pack("transferWithAuthorization",
		common.HexToAddress(auth.From), common.HexToAddress(auth.To), value, validAfter, validBefore, nonce, sig)
	if err != nil {
		return "", fmt.Errorf("pack transferWithAuthorization: %w", err)
	}

	relayer := crypto.PubkeyToAddress(b.key.PublicKey)
	nonceAt, err := b.client.PendingNonceAt(ctx, relayer)
	if err != nil {
		return "", fmt.Errorf("get relayer nonce: %w", err)
	}
	tip, err := b.client.SuggestGasTipCap(ctx)
	if err != nil {
		tip = big.NewInt(100_000_000) // 0.1 gwei fallback
	}
	header, err := b.client.HeaderByNumber(ctx, nil)
	baseFee := big.NewInt(1_000_000_000)
	if err == nil && header.BaseFee != nil {
		baseFee = header.BaseFee
	}
	maxFee := new(big.Int).Add(new(big.Int).Mul(big.NewInt(2), baseFee), tip)

	assetAddr := common.HexToAddress(asset)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(chainID),
		Nonce:     nonceAt,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       150_000,
		To:        &assetAddr,
		Data:      data,
	})

	signer := types.LatestSignerForChainID(big.NewInt(chainID))
	signedTx, err := types.SignTx(tx, signer, b.key)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := b.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("broadcast transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	rpcURL := envOr("EVM_RPC_URL", "")
	relayerKey := os.Getenv("EVM_RELAYER_PRIVATE_KEY")
	network := x402gate.NetworkID(envOr("NETWORK", "eip155:84532"))
	port := envOr("PORT", "4022")
	receiptSecret := envOr("RECEIPT_SECRET", "")

	facilitator := x402gate.NewLocalFacilitator()

	if rpcURL != "" && relayerKey != "" {
		broadcaster, err := newRPCBroadcaster(rpcURL, relayerKey)
		if err != nil {
			logger.Error("configure broadcaster", "error", err)
			os.Exit(1)
		}
		facilitator.RegisterScheme(network, evmexact.NewFacilitatorHandler(broadcaster))
	} else {
		logger.Warn("EVM_RPC_URL or EVM_RELAYER_PRIVATE_KEY not set; settlement will fail, verify-only mode")
		facilitator.RegisterScheme(network, evmexact.NewFacilitatorHandler(nil))
	}
	facilitator.RegisterExtension("idempotent-settle")

	// Settle is served through the idempotent decorator so a client
	// retrying the same X-PAYMENT payload during the confirmation window
	// doesn't double-broadcast; Verify and GetSupported pass straight
	// through to the raw facilitator.
	idempotent := idempotency.Wrap(x402gate.NewLocalFacilitatorClient(facilitator), idempotency.WithTTL(10*time.Minute))

	var issuer *receipt.Issuer
	if receiptSecret != "" {
		issuer = receipt.NewIssuer([]byte(receiptSecret), 24*time.Hour, "gate-facilitator")
		facilitator.RegisterExtension(receipt.Key)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	registerFacilitatorRoutes(r, idempotent, issuer)

	logger.Info("gate-facilitator listening", "port", port, "network", network, "rpc", rpcURL != "")
	if err := r.Run(":" + port); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// registerFacilitatorRoutes wires the same /verify, /settle, /supported
// contract httpgate.FacilitatorServer exposes, but settles through the
// idempotent decorator and, when a receipt issuer is configured, signs a
// receipt JWT for every successful settlement.
func registerFacilitatorRoutes(r gin.IRouter, client x402gate.FacilitatorClient, issuer *receipt.Issuer) {
	r.POST("/verify", func(c *gin.Context) {
		var req x402gate.VerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		payloadBytes, _ := json.Marshal(req.PaymentPayload)
		requirementsBytes, _ := json.Marshal(req.PaymentRequirements)
		resp, err := client.Verify(c.Request.Context(), payloadBytes, requirementsBytes)
		if err != nil {
			c.JSON(200, x402gate.VerifyResponse{IsValid: false, InvalidReason: x402gate.ErrorCode(err)})
			return
		}
		c.JSON(200, resp)
	})

	r.POST("/settle", func(c *gin.Context) {
		var req x402gate.SettleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		payloadBytes, _ := json.Marshal(req.PaymentPayload)
		requirementsBytes, _ := json.Marshal(req.PaymentRequirements)
		resp, err := client.Settle(c.Request.Context(), payloadBytes, requirementsBytes)
		if err != nil {
			c.JSON(200, x402gate.SettleResponse{Success: false, ErrorReason: x402gate.ErrorCode(err)})
			return
		}
		if issuer != nil && resp.Success {
			if token, err := issuer.Issue(req.PaymentRequirements, resp); err == nil {
				c.Header("X-Settlement-Receipt", token)
			}
		}
		c.JSON(200, resp)
	})

	r.GET("/supported", func(c *gin.Context) {
		resp, err := client.GetSupported(c.Request.Context())
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, resp)
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

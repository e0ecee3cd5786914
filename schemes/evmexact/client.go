package evmexact

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	x402gate "github.com/x402gate/x402gate"
)

// Signer produces an EIP-712 signature over a TransferWithAuthorization
// message and reports the address it signs for. A private-key-backed
// implementation lives in cmd/gate-client; tests use a stub.
type Signer interface {
	Address() string
	SignAuthorization(ctx context.Context, auth Authorization, chainID int64, verifyingContract, tokenName, tokenVersion string) ([]byte, error)
}

// ClientHandler implements x402gate.SchemeClientHandler for the EVM exact
// scheme: it builds an EIP-3009 authorization for the requested amount and
// signs it.
type ClientHandler struct {
	Signer Signer
	// AuthorizationWindow is how far in the past ValidAfter is backdated,
	// guarding against client/facilitator clock skew. Defaults to 60s.
	AuthorizationWindow time.Duration
}

func NewClientHandler(signer Signer) *ClientHandler {
	return &ClientHandler{Signer: signer, AuthorizationWindow: 60 * time.Second}
}

func (h *ClientHandler) Scheme() string { return "exact" }

func (h *ClientHandler) CreatePaymentPayload(ctx context.Context, version int, requirementsBytes []byte) ([]byte, error) {
	var requirements x402gate.PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return nil, fmt.Errorf("unmarshal requirements: %w", err)
	}

	chainID, ok := chainIDFor(string(requirements.Network))
	if !ok {
		return nil, x402gate.NewPaymentError(x402gate.ErrCodeUnsupportedNetwork,
			fmt.Sprintf("evmexact: unknown network %s", requirements.Network), nil)
	}

	domain, err := domainFromExtra(requirements.Extra)
	if err != nil {
		return nil, err
	}

	nonce, err := randomNonce()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	now := time.Now()
	window := h.AuthorizationWindow
	if window == 0 {
		window = 60 * time.Second
	}
	auth := Authorization{
		From:        h.Signer.Address(),
		To:          requirements.PayTo,
		Value:       requirements.Amount,
		ValidAfter:  strconv.FormatInt(now.Add(-window).Unix(), 10),
		ValidBefore: strconv.FormatInt(now.Add(time.Duration(requirements.MaxTimeoutSeconds)*time.Second).Unix(), 10),
		Nonce:       nonce,
	}

	sig, err := h.Signer.SignAuthorization(ctx, auth, chainID.Int64(), requirements.Asset, domain.Name, domain.Version)
	if err != nil {
		return nil, fmt.Errorf("sign authorization: %w", err)
	}

	payload := Payload{Signature: bytesToHex(sig), Authorization: auth}
	payloadMap := map[string]interface{}{}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &payloadMap); err != nil {
		return nil, fmt.Errorf("remarshal payload: %w", err)
	}

	partial := x402gate.PartialPaymentPayload{X402Version: version, Payload: payloadMap}
	return json.Marshal(partial)
}

func randomNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return bytesToHex(buf), nil
}

func domainFromExtra(extra map[string]interface{}) (EIP712Domain, error) {
	var domain EIP712Domain
	if extra == nil {
		return domain, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload,
			"evmexact: payment requirements missing EIP-712 domain in extra", nil)
	}
	name, _ := extra["name"].(string)
	version, _ := extra["version"].(string)
	if name == "" || version == "" {
		return domain, x402gate.NewPaymentError(x402gate.ErrCodeMalformedPayload,
			"evmexact: payment requirements missing eip712 name/version", nil)
	}
	return EIP712Domain{Name: name, Version: version}, nil
}

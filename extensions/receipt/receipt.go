// Package receipt implements the "signed receipts" extension named in
// spec.md §1 item 5 and the GLOSSARY's Extension entry: a facilitator-signed
// JWT attesting to a completed settlement, so a payer or auditor can verify
// a payment happened without re-querying the facilitator or the chain.
//
// A SettleResponse travels to the client as the X-PAYMENT-RESPONSE header
// (spec.md §6), but that header is an unsigned JSON document — anyone on
// the wire path between the resource server and the client can already read
// it, but nothing stops a compromised resource server from fabricating one.
// This extension lets a facilitator counter-sign the settlement outcome, the
// same way kshinn-umbra-gateway's gateway/x402/token.go signs batch-RPC
// session tokens: an HMAC-signed JWT with a server-generated, globally
// unique token ID.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	x402gate "github.com/x402gate/x402gate"
)

// Key is the extension identifier used in PaymentRequirements.Extensions
// and PaymentPayload.Extensions.
const Key = "signedReceipt"

// Claims is the JWT payload for a signed settlement receipt.
type Claims struct {
	jwt.RegisteredClaims
	// ReceiptID is a facilitator-generated UUID, unique per settlement.
	ReceiptID string `json:"rid"`
	// Scheme and Network identify the payment mechanism that settled.
	Scheme  string             `json:"scheme"`
	Network x402gate.NetworkID `json:"network"`
	// Transaction is the chain-native identifier of the on-chain effect.
	Transaction string `json:"transaction"`
	// Payer is the address or identifier that paid, when known.
	Payer string `json:"payer,omitempty"`
	// AmountSmallestUnit is the settled amount in the asset's smallest unit.
	AmountSmallestUnit string `json:"amount"`
	Asset              string `json:"asset,omitempty"`
}

// ErrReceiptUnsettled is returned by Issue when asked to sign a receipt for
// a SettleResponse that did not succeed; failed settlements are not
// receipted, matching the teacher's "failures are not cached" idempotency
// rule of only attesting to real outcomes.
var ErrReceiptUnsettled = errors.New("receipt: cannot issue a receipt for an unsuccessful settlement")

// Issuer signs settlement receipts with an HMAC secret. One Issuer is
// shared by a facilitator process across all settlements.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewIssuer creates an Issuer. ttl bounds how long a receipt remains
// verifiable; issuer is the JWT "iss" claim, typically the facilitator's
// base URL or a short vendor identifier.
func NewIssuer(secret []byte, ttl time.Duration, issuer string) *Issuer {
	return &Issuer{secret: secret, ttl: ttl, issuer: issuer}
}

// Issue signs a receipt for a successful settlement of the given
// requirements. Returns the signed JWT string.
func (i *Issuer) Issue(requirements x402gate.PaymentRequirements, settle x402gate.SettleResponse) (string, error) {
	if !settle.Success {
		return "", ErrReceiptUnsettled
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		ReceiptID:          uuid.New().String(),
		Scheme:             requirements.Scheme,
		Network:            settle.Network,
		Transaction:        settle.Transaction,
		Payer:              settle.Payer,
		AmountSmallestUnit: requirements.Amount,
		Asset:              requirements.Asset,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing receipt: %w", err)
	}
	return signed, nil
}

// Verifier checks receipts issued by an Issuer holding the same secret.
// A resource server, a facilitator's own audit log, or a payer's wallet
// can each hold an independent Verifier.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given shared secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify parses and validates a receipt JWT, returning its claims.
func (v *Verifier) Verify(receiptToken string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(receiptToken, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("receipt: invalid token claims")
	}
	return claims, nil
}

// DeclareExtension builds the extension declaration for inclusion in a
// route's ResourceConfig extensions, and its JSON schema for
// ResourceServerCore.RegisterExtension. The schema only covers the
// info object, not the issued JWT itself (receipts are bearer tokens, not
// declared per-request data).
func DeclareExtension(issuer string) map[string]interface{} {
	return map[string]interface{}{
		Key: map[string]interface{}{
			"info": map[string]interface{}{
				"issuer":      issuer,
				"description": "The facilitator signs a JWT receipt for every successful settlement.",
			},
			"schema": schema(),
		},
	}
}

func schema() map[string]interface{} {
	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]interface{}{
			"issuer": map[string]interface{}{
				"type":        "string",
				"description": "Identifier of the facilitator signing receipts.",
			},
			"description": map[string]interface{}{
				"type": "string",
			},
		},
		"required": []string{"issuer"},
	}
}

// Extension implements x402gate.ResourceServerExtension so a resource
// server can declare receipt support without duplicating the schema/info
// plumbing in its own code.
type Extension struct {
	Issuer string
}

func (e *Extension) Key() string { return Key }

func (e *Extension) EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{} {
	decl, ok := declaration.(map[string]interface{})
	if !ok {
		return declaration
	}
	decl["info"] = map[string]interface{}{
		"issuer":      e.Issuer,
		"description": "The facilitator signs a JWT receipt for every successful settlement.",
	}
	return decl
}

// Validate is a no-op: the receipt is issued by the facilitator after
// settlement, so there is nothing client-populated to check on the
// payload side.
func (e *Extension) Validate(ctx context.Context, payloadExtension interface{}) error { return nil }

var _ x402gate.ResourceServerExtension = (*Extension)(nil)

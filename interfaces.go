package x402gate

import "context"

// MoneyParser converts a decimal dollar amount into an AssetAmount.
// Returning (nil, nil) signals "not handled". Nothing in this module
// registers or calls a MoneyParser; scheme server handlers convert
// prices in their own ParsePrice.
type MoneyParser func(amount string, network NetworkID) (*AssetAmount, error)

// SchemeClientHandler is implemented by client-side payment mechanisms:
// things that can sign a payment payload for one scheme.
type SchemeClientHandler interface {
	// Scheme returns the payment scheme identifier (e.g. "exact").
	Scheme() string

	// CreatePaymentPayload signs a payment for the given requirements and
	// returns a partial payload (x402Version + payload); the core wraps it
	// with accepted/resource/extensions before returning it to the caller.
	CreatePaymentPayload(ctx context.Context, version int, requirementsBytes []byte) (payloadBytes []byte, err error)
}

// SchemeFacilitatorHandler is implemented by facilitator-side payment
// mechanisms: things that can verify and settle a payment for one scheme.
type SchemeFacilitatorHandler interface {
	Scheme() string

	// Verify checks a payment without moving funds.
	Verify(ctx context.Context, version int, payloadBytes []byte, requirementsBytes []byte) (VerifyResponse, error)

	// Settle moves funds according to a previously verified payment.
	Settle(ctx context.Context, version int, payloadBytes []byte, requirementsBytes []byte) (SettleResponse, error)
}

// SchemeServerHandler is implemented by server-side payment mechanisms:
// things that can price a resource and enrich its requirements.
type SchemeServerHandler interface {
	Scheme() string

	// ParsePrice converts a user-supplied price into a concrete AssetAmount.
	ParsePrice(price Price, network NetworkID) (AssetAmount, error)

	// EnhancePaymentRequirements adds scheme-specific fields (e.g. token
	// name/version for EIP-712) once a supported kind and the facilitator's
	// declared extensions are known.
	EnhancePaymentRequirements(
		ctx context.Context,
		requirements PaymentRequirements,
		supportedKind SupportedKind,
		extensions []string,
	) (PaymentRequirements, error)
}

// FacilitatorClient is how a resource server or a facilitator-of-facilitators
// reaches a facilitator: verify, settle, and discover what it supports.
// Both the in-process Local facilitator and the httpgate HTTP client
// implement this with the same byte-based, version-agnostic signature.
type FacilitatorClient interface {
	Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (VerifyResponse, error)
	Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (SettleResponse, error)
	GetSupported(ctx context.Context) (SupportedResponse, error)
}

// ResourceServerExtension lets a resource server enrich a declared
// extension before it is sent to clients (e.g. attaching a nonce, a
// session id, or schema metadata specific to the transport in use), and
// validate the client-populated half of it once a payload arrives.
type ResourceServerExtension interface {
	Key() string
	EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{}

	// Validate checks the extension's entry in a decoded payment payload's
	// extensions map. Run after verify and before settle; a non-nil error
	// aborts the gate pipeline with a 402. Extensions with nothing to check
	// on the payload side (e.g. ones only ever enriched server-side) return
	// nil unconditionally.
	Validate(ctx context.Context, payloadExtension interface{}) error
}

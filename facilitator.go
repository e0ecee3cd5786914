package x402gate

import (
	"context"
	"encoding/json"
	"fmt"
)

// LocalFacilitator verifies and settles payments in-process against a
// registry of SchemeFacilitatorHandler implementations. It is what a
// facilitator operator wires up; a resource server in the same process
// reaches it through LocalFacilitatorClient, and a standalone facilitator
// process exposes it over HTTP (see httpgate.FacilitatorServer).
type LocalFacilitator struct {
	schemes    *FacilitatorSchemeRegistry
	extensions []string
}

func NewLocalFacilitator() *LocalFacilitator {
	return &LocalFacilitator{schemes: NewFacilitatorSchemeRegistry()}
}

func (f *LocalFacilitator) RegisterScheme(network NetworkID, handler SchemeFacilitatorHandler) *LocalFacilitator {
	f.schemes.Register(network, handler)
	return f
}

// RegisterExtension declares support for a named extension (e.g.
// "idempotent-settle"), advertised via GetSupported.
func (f *LocalFacilitator) RegisterExtension(name string) *LocalFacilitator {
	for _, existing := range f.extensions {
		if existing == name {
			return f
		}
	}
	f.extensions = append(f.extensions, name)
	return f
}

// Verify resolves a scheme handler for the requirements' (scheme, network)
// and delegates to it.
func (f *LocalFacilitator) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (VerifyResponse, error) {
	var requirements PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return VerifyResponse{}, NewPaymentError(ErrCodeMalformedPayload, err.Error(), nil)
	}

	handler, ok := f.schemes.Resolve(requirements.Scheme, requirements.Network)
	if !ok {
		return VerifyResponse{}, NewPaymentError(ErrCodeUnsupportedScheme,
			fmt.Sprintf("no facilitator handler for scheme %s on network %s", requirements.Scheme, requirements.Network), nil)
	}
	return handler.Verify(ctx, ProtocolVersion, payloadBytes, requirementsBytes)
}

// Settle resolves a scheme handler for the requirements' (scheme, network)
// and delegates to it. The core applies no settle-time deduplication of
// its own — see extensions/idempotency for an opt-in wrapper.
func (f *LocalFacilitator) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (SettleResponse, error) {
	var requirements PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return SettleResponse{}, NewPaymentError(ErrCodeMalformedPayload, err.Error(), nil)
	}

	handler, ok := f.schemes.Resolve(requirements.Scheme, requirements.Network)
	if !ok {
		return SettleResponse{}, NewPaymentError(ErrCodeUnsupportedScheme,
			fmt.Sprintf("no facilitator handler for scheme %s on network %s", requirements.Scheme, requirements.Network), nil)
	}
	resp, err := handler.Settle(ctx, ProtocolVersion, payloadBytes, requirementsBytes)
	if err != nil {
		return SettleResponse{}, err
	}
	if resp.Network == "" {
		resp.Network = requirements.Network
	}
	return resp, nil
}

// GetSupported enumerates every (scheme, network) this facilitator can
// currently serve.
func (f *LocalFacilitator) GetSupported(ctx context.Context) (SupportedResponse, error) {
	return SupportedResponse{Kinds: f.schemes.List(), Extensions: f.extensions}, nil
}

// CanHandle reports whether a handler is registered for (scheme, network).
func (f *LocalFacilitator) CanHandle(scheme string, network NetworkID) bool {
	_, ok := f.schemes.Resolve(scheme, network)
	return ok
}

// LocalFacilitatorClient adapts a LocalFacilitator to the FacilitatorClient
// interface, letting a resource server in the same process use it exactly
// like a remote one.
type LocalFacilitatorClient struct {
	Facilitator *LocalFacilitator
}

func NewLocalFacilitatorClient(f *LocalFacilitator) *LocalFacilitatorClient {
	return &LocalFacilitatorClient{Facilitator: f}
}

func (c *LocalFacilitatorClient) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (VerifyResponse, error) {
	return c.Facilitator.Verify(ctx, payloadBytes, requirementsBytes)
}

func (c *LocalFacilitatorClient) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (SettleResponse, error) {
	return c.Facilitator.Settle(ctx, payloadBytes, requirementsBytes)
}

func (c *LocalFacilitatorClient) GetSupported(ctx context.Context) (SupportedResponse, error) {
	return c.Facilitator.GetSupported(ctx)
}

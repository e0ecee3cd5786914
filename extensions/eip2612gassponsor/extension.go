package eip2612gassponsor

import (
	"context"
	"fmt"

	x402gate "github.com/x402gate/x402gate"
)

// ServerExtension implements x402gate.ResourceServerExtension: it declares
// EIP-2612 gas sponsoring support and checks the client-populated permit
// info on the way in, the gate-pipeline half of what
// DeclareEip2612GasSponsoringExtension and ValidateEip2612GasSponsoringInfo
// otherwise only offer as standalone helpers.
type ServerExtension struct{}

func (e *ServerExtension) Key() string { return EIP2612GasSponsoring }

func (e *ServerExtension) EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{} {
	decl, ok := declaration.(map[string]interface{})
	if !ok {
		decl = map[string]interface{}{}
	}
	decl["info"] = ServerInfo{
		Description: "The facilitator accepts EIP-2612 gasless Permit to `Permit2` canonical contract.",
		Version:     "1",
	}
	decl["schema"] = eip2612GasSponsoringSchema()
	return decl
}

func (e *ServerExtension) Validate(ctx context.Context, payloadExtension interface{}) error {
	info, err := ExtractEip2612GasSponsoringInfo(map[string]interface{}{EIP2612GasSponsoring: payloadExtension})
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("eip2612GasSponsoring: client did not populate permit info")
	}
	if !ValidateEip2612GasSponsoringInfo(info) {
		return fmt.Errorf("eip2612GasSponsoring: permit info failed format validation")
	}
	return nil
}

var _ x402gate.ResourceServerExtension = (*ServerExtension)(nil)

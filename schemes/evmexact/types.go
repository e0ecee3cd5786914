// Package evmexact implements the "exact" payment scheme over eip155:*
// networks: EIP-3009 transferWithAuthorization, signed as EIP-712 typed
// data and settled by calling transferWithAuthorization on the asset's
// ERC-20 contract.
package evmexact

import "math/big"

// Authorization is the EIP-3009 TransferWithAuthorization message.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Payload is the scheme-specific payload nested under PaymentPayload.Payload.
type Payload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// EIP712Domain carries the token's signing domain, round-tripped through
// PaymentRequirements.Extra so client, server, and facilitator agree on it
// without an out-of-band asset registry.
type EIP712Domain struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NetworkConfig names the chain ID backing one eip155:<chainID> network.
type NetworkConfig struct {
	ChainID *big.Int
}

var networks = map[string]NetworkConfig{
	"eip155:8453":  {ChainID: big.NewInt(8453)},  // Base
	"eip155:84532": {ChainID: big.NewInt(84532)}, // Base Sepolia
	"eip155:1":     {ChainID: big.NewInt(1)},      // Ethereum mainnet
}

func chainIDFor(network string) (*big.Int, bool) {
	cfg, ok := networks[network]
	if !ok {
		return nil, false
	}
	return cfg.ChainID, true
}

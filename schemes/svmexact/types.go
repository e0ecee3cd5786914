// Package svmexact implements the "exact" payment scheme over solana:*
// networks: an SPL Token TransferChecked instruction inside a partially
// signed Solana transaction, settled by submitting that transaction.
package svmexact

import solana "github.com/gagliardetto/solana-go"

// SPLTokenProgramID is the standard SPL Token program address.
var SPLTokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

const transferCheckedDiscriminator byte = 12

// Payload is the scheme-specific payload nested under PaymentPayload.Payload:
// a base64-encoded, partially signed Solana transaction carrying one
// TransferChecked instruction.
type Payload struct {
	Transaction string `json:"transaction"`
}

// assetInfo describes one SPL mint the resource server accepts.
type assetInfo struct {
	Decimals uint8
}

var assetsByNetworkAndMint = map[string]map[string]assetInfo{
	"solana:mainnet": {
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": {Decimals: 6}, // USDC
	},
	"solana:devnet": {
		"4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU": {Decimals: 6}, // devnet USDC
	},
}

func lookupAsset(network, mint string) (assetInfo, bool) {
	byMint, ok := assetsByNetworkAndMint[network]
	if !ok {
		return assetInfo{}, false
	}
	info, ok := byMint[mint]
	return info, ok
}

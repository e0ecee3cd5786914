package evmexact

// assetInfo is what EnhancePaymentRequirements needs to know about one
// ERC-20 token: its EIP-712 signing domain and decimal precision. Real
// deployments would resolve this from a token list or on-chain call; this
// is a small static table covering the assets the teacher's own network
// constants shipped with.
type assetInfo struct {
	Name     string
	Version  string
	Decimals int
}

var assetsByNetworkAndAddress = map[string]map[string]assetInfo{
	"eip155:8453": {
		"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913": {Name: "USD Coin", Version: "2", Decimals: 6},
	},
	"eip155:84532": {
		"0x036CbD53842c5426634e7929541eC2318f3dCF7e": {Name: "USDC", Version: "2", Decimals: 6},
	},
}

func lookupAsset(network, asset string) (assetInfo, bool) {
	byAsset, ok := assetsByNetworkAndAddress[network]
	if !ok {
		return assetInfo{}, false
	}
	info, ok := byAsset[asset]
	return info, ok
}

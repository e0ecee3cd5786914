package x402gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClientHandler struct{ scheme string }

func (f fakeClientHandler) Scheme() string { return f.scheme }
func (f fakeClientHandler) CreatePaymentPayload(ctx context.Context, version int, requirementsBytes []byte) ([]byte, error) {
	return []byte(`{"x402Version":2,"payload":{}}`), nil
}

func TestSchemeRegistryExactMatch(t *testing.T) {
	reg := NewClientSchemeRegistry()
	h := fakeClientHandler{scheme: "exact"}
	reg.Register("eip155:8453", h)

	got, ok := reg.Resolve("exact", "eip155:8453")
	require.True(t, ok)
	assert.Equal(t, h, got)
}

func TestSchemeRegistryWildcardMatch(t *testing.T) {
	reg := NewClientSchemeRegistry()
	h := fakeClientHandler{scheme: "exact"}
	reg.Register("eip155:*", h)

	got, ok := reg.Resolve("exact", "eip155:8453")
	require.True(t, ok)
	assert.Equal(t, h, got)

	_, ok = reg.Resolve("exact", "solana:mainnet")
	assert.False(t, ok)
}

func TestSchemeRegistryExactBeatsWildcard(t *testing.T) {
	reg := NewClientSchemeRegistry()
	wildcard := fakeClientHandler{scheme: "exact"}
	exact := fakeClientHandler{scheme: "exact"}
	reg.Register("eip155:*", wildcard)
	reg.Register("eip155:8453", exact)

	got, ok := reg.Resolve("exact", "eip155:8453")
	require.True(t, ok)
	assert.Equal(t, exact, got)
}

func TestSchemeRegistryNoMatch(t *testing.T) {
	reg := NewClientSchemeRegistry()
	_, ok := reg.Resolve("exact", "eip155:1")
	assert.False(t, ok)
}

func TestNetworkIDMatch(t *testing.T) {
	assert.True(t, NetworkID("eip155:8453").Match("eip155:*"))
	assert.True(t, NetworkID("eip155:*").Match("eip155:8453"))
	assert.True(t, NetworkID("eip155:8453").Match("eip155:8453"))
	assert.False(t, NetworkID("eip155:8453").Match("solana:*"))
	assert.False(t, NetworkID("eip155:1").Match("eip155:2"))
}

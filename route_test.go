package x402gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRoutesAndMatch(t *testing.T) {
	routes, err := CompileRoutes(RoutesConfig{
		"GET /api/weather":     {Resource: "weather"},
		"* /api/[id]/profile":  {Resource: "profile"},
		"GET /api/files/**":    {Resource: "files"},
	})
	require.NoError(t, err)

	cfg, ok := MatchRoute(routes, "GET", "/api/weather")
	require.True(t, ok)
	assert.Equal(t, "weather", cfg.Resource)

	cfg, ok = MatchRoute(routes, "POST", "/api/42/profile")
	require.True(t, ok)
	assert.Equal(t, "profile", cfg.Resource)

	cfg, ok = MatchRoute(routes, "GET", "/api/files/a/b/c.txt")
	require.True(t, ok)
	assert.Equal(t, "files", cfg.Resource)

	_, ok = MatchRoute(routes, "GET", "/not/a/route")
	assert.False(t, ok)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/a/b", NormalizePath("/a//b/"))
	assert.Equal(t, "/", NormalizePath(""))
	assert.Equal(t, "/a/b", NormalizePath("/a/b?x=1#frag"))
}

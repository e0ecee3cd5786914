// Command gate-server runs an example resource server: a gin app with one
// paid route and one free route, gated by a remote facilitator reached
// over HTTP.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	x402gate "github.com/x402gate/x402gate"
	"github.com/x402gate/x402gate/httpgate"
	"github.com/x402gate/x402gate/schemes/evmexact"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	payTo := envOr("EVM_PAYEE_ADDRESS", "")
	if payTo == "" {
		logger.Error("EVM_PAYEE_ADDRESS is required")
		os.Exit(1)
	}
	facilitatorURL := envOr("FACILITATOR_URL", "http://localhost:4022")
	network := x402gate.NetworkID(envOr("NETWORK", "eip155:84532"))
	defaultAsset := envOr("USDC_ADDRESS", "0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	port := envOr("PORT", "4021")

	server := x402gate.NewResourceServerCore(
		x402gate.WithServerLogger(logger),
		x402gate.WithFacilitatorClient(httpgate.NewFacilitatorHTTPClient(facilitatorURL)),
		x402gate.WithServerScheme(network, evmexact.NewServerHandler(defaultAsset)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Initialize(ctx); err != nil {
		logger.Error("initialize resource server", "error", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/free", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "this one's on the house"})
	})

	paidCfg := x402gate.ResourceConfig{
		Scheme:            "exact",
		PayTo:             payTo,
		Price:             "$0.01",
		Network:           network,
		MaxTimeoutSeconds: 60,
	}
	r.GET("/protected",
		httpgate.GateMiddleware(server, paidCfg,
			httpgate.WithResourceInfo("/protected", "an example paid resource", "application/json")),
		func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "payment verified, here is your data"})
		},
	)

	logger.Info("gate-server listening", "port", port, "facilitator", facilitatorURL, "network", network)
	if err := r.Run(":" + port); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package httpgate

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	x402gate "github.com/x402gate/x402gate"
)

// FacilitatorServer exposes a LocalFacilitator as the vendor-neutral HTTP
// facilitator contract FacilitatorHTTPClient speaks: POST /verify,
// POST /settle, GET /supported.
type FacilitatorServer struct {
	Facilitator *x402gate.LocalFacilitator
}

func NewFacilitatorServer(f *x402gate.LocalFacilitator) *FacilitatorServer {
	return &FacilitatorServer{Facilitator: f}
}

// RegisterRoutes attaches the facilitator's endpoints to a gin engine.
func (s *FacilitatorServer) RegisterRoutes(r gin.IRouter) {
	r.POST("/verify", s.handleVerify)
	r.POST("/settle", s.handleSettle)
	r.GET("/supported", s.handleSupported)
}

func (s *FacilitatorServer) handleVerify(c *gin.Context) {
	var req x402gate.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payloadBytes, _ := json.Marshal(req.PaymentPayload)
	requirementsBytes, _ := json.Marshal(req.PaymentRequirements)

	resp, err := s.Facilitator.Verify(c.Request.Context(), payloadBytes, requirementsBytes)
	if err != nil {
		c.JSON(http.StatusOK, x402gate.VerifyResponse{IsValid: false, InvalidReason: x402gate.ErrorCode(err)})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *FacilitatorServer) handleSettle(c *gin.Context) {
	var req x402gate.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payloadBytes, _ := json.Marshal(req.PaymentPayload)
	requirementsBytes, _ := json.Marshal(req.PaymentRequirements)

	resp, err := s.Facilitator.Settle(c.Request.Context(), payloadBytes, requirementsBytes)
	if err != nil {
		c.JSON(http.StatusOK, x402gate.SettleResponse{Success: false, ErrorReason: x402gate.ErrorCode(err)})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *FacilitatorServer) handleSupported(c *gin.Context) {
	resp, err := s.Facilitator.GetSupported(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

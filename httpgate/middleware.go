package httpgate

import (
	"strings"

	"github.com/gin-gonic/gin"

	x402gate "github.com/x402gate/x402gate"
)

// GinOption configures GateMiddleware.
type GinOption func(*ginConfig)

type ginConfig struct {
	resource         string
	description      string
	mimeType         string
	declaredExt      map[string]interface{}
	paywall          *Paywall
}

func WithResourceInfo(resource, description, mimeType string) GinOption {
	return func(c *ginConfig) { c.resource, c.description, c.mimeType = resource, description, mimeType }
}

func WithDeclaredExtensions(ext map[string]interface{}) GinOption {
	return func(c *ginConfig) { c.declaredExt = ext }
}

func WithPaywall(p *Paywall) GinOption {
	return func(c *ginConfig) { c.paywall = p }
}

// bufferingWriter defers every write until flush is called, so the gate
// can inspect the downstream handler's status code before any bytes
// reach the client and decide whether to settle — the fair-billing
// invariant requires knowing the final status before money moves.
type bufferingWriter struct {
	gin.ResponseWriter
	body       []byte
	statusCode int
	written    bool
}

func (w *bufferingWriter) Write(data []byte) (int, error) {
	w.body = append(w.body, data...)
	return len(data), nil
}

func (w *bufferingWriter) WriteString(s string) (int, error) {
	w.body = append(w.body, s...)
	return len(s), nil
}

func (w *bufferingWriter) WriteHeader(code int) {
	w.statusCode = code
	w.written = true
}

func (w *bufferingWriter) Status() int {
	if w.written {
		return w.statusCode
	}
	return w.ResponseWriter.Status()
}

func (w *bufferingWriter) flush() {
	if w.statusCode == 0 {
		w.statusCode = 200
	}
	w.ResponseWriter.WriteHeader(w.statusCode)
	_, _ = w.ResponseWriter.Write(w.body)
}

// GateMiddleware builds a gin.HandlerFunc that runs cfg through the
// ResourceServerCore gate pipeline: build requirements, require/verify
// payment, buffer the downstream handler's response, then settle only if
// that response was not itself an error.
func GateMiddleware(server *x402gate.ResourceServerCore, cfg x402gate.ResourceConfig, opts ...GinOption) gin.HandlerFunc {
	gc := &ginConfig{}
	for _, opt := range opts {
		opt(gc)
	}

	return func(c *gin.Context) {
		var resourceInfo *x402gate.ResourceInfo
		if gc.resource != "" {
			resourceInfo = &x402gate.ResourceInfo{URL: gc.resource, Description: gc.description, MimeType: gc.mimeType}
		}

		paymentHeader := extractPaymentHeader(c.Request)
		var payloadBytes []byte
		if paymentHeader != "" {
			payload, err := DecodePaymentHeader(paymentHeader)
			if err != nil {
				c.AbortWithStatusJSON(402, x402gate.CreatePaymentRequiredResponse(resourceInfo, nil, gc.declaredExt))
				return
			}
			raw, _ := jsonMarshal(payload)
			payloadBytes = raw
		}

		result, err := server.ProcessPaymentRequest(c.Request.Context(), payloadBytes, cfg, resourceInfo, gc.declaredExt)
		if err != nil {
			c.AbortWithStatusJSON(500, gin.H{"error": err.Error()})
			return
		}
		if result.RequiresPayment {
			if gc.paywall != nil && isWebBrowser(c.Request.Header.Get("Accept"), c.Request.Header.Get("User-Agent")) {
				html := gc.paywall.Render(*result.PaymentRequired)
				c.Data(402, "text/html; charset=utf-8", []byte(html))
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(402, result.PaymentRequired)
			return
		}

		buffered := &bufferingWriter{ResponseWriter: c.Writer}
		c.Writer = buffered

		c.Next()

		settleResp, err := server.ProcessSettlement(c.Request.Context(), result.Payload, result.Requirements, buffered.Status())
		if err != nil {
			buffered.statusCode = 402
			buffered.body = mustJSON(x402gate.PaymentRequired{
				X402Version: x402gate.ProtocolVersion,
				Error:       x402gate.ErrorCode(err),
				Accepts:     []x402gate.PaymentRequirements{result.Requirements},
			})
			buffered.flush()
			return
		}
		if settleResp != nil {
			if header, err := EncodeSettleResponseHeader(*settleResp); err == nil {
				c.Writer.Header().Set(PaymentResponseHeader, header)
			}
			if !settleResp.Success {
				buffered.statusCode = 402
				buffered.body = mustJSON(x402gate.PaymentRequired{
					X402Version: x402gate.ProtocolVersion,
					Error:       settleResp.ErrorReason,
					Accepts:     []x402gate.PaymentRequirements{result.Requirements},
				})
				buffered.flush()
				return
			}
		}
		buffered.flush()
	}
}

// isWebBrowser matches the teacher's heuristic for "should we render a
// paywall page instead of raw JSON": an Accept header asking for HTML
// from a User-Agent claiming to be a browser.
func isWebBrowser(accept, userAgent string) bool {
	return strings.Contains(accept, "text/html") && strings.Contains(userAgent, "Mozilla")
}

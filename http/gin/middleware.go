// Package gin adapts the framework-agnostic x402 resource-server middleware
// engine to gin-gonic/gin.
package gin

import (
	"net/http"

	ginfw "github.com/gin-gonic/gin"

	x402 "x402-go"
	x402http "x402-go/http"
)

// ginAdapter implements x402.HTTPAdapter over a *gin.Context.
type ginAdapter struct {
	c *ginfw.Context
}

func (a ginAdapter) GetHeader(name string) string     { return a.c.GetHeader(name) }
func (a ginAdapter) GetMethod() string                { return a.c.Request.Method }
func (a ginAdapter) GetPath() string                  { return a.c.Request.URL.Path }
func (a ginAdapter) GetQueryParam(name string) string { return a.c.Query(name) }
func (a ginAdapter) GetBody() ([]byte, error) {
	return a.c.GetRawData()
}

// PaymentMiddleware enforces payment for any route matching a key in routes
// ("METHOD /path"), before the route's own handler runs. Unconfigured
// routes pass through untouched.
func PaymentMiddleware(routes x402http.RoutesConfig, server *x402.X402ResourceServer) ginfw.HandlerFunc {
	return func(c *ginfw.Context) {
		key := c.Request.Method + " " + c.FullPath()
		route, ok := routes[key]
		if !ok {
			c.Next()
			return
		}

		adapter := ginAdapter{c: c}
		result, err := x402http.ProcessRequest(c.Request.Context(), server, route, adapter)
		if err != nil {
			c.AbortWithStatusJSON(500, ginfw.H{"error": err.Error()})
			return
		}
		if result.StatusCode != 0 {
			for k, v := range result.Headers {
				c.Header(k, v)
			}
			c.Data(result.StatusCode, "application/json", result.Body)
			c.Abort()
			return
		}

		c.Set("x402Payload", result.Payload)
		c.Set("x402Requirements", result.Requirements)
		c.Next()

		if result.Requirements == nil || result.Requirements.Scheme != "exact" || !c.Writer.Written() {
			return
		}
		headerValue, err := x402http.SettleAndRespond(c.Request.Context(), server, route, result.Payload, result.Requirements)
		if err == nil && headerValue != "" {
			// This branch only runs once the handler has written its response
			// (c.Writer.Written()), so the headers are already sent and this
			// PAYMENT-RESPONSE header does not reach the client. Unlike the
			// net/http Wrap, this adapter does not buffer the handler's output.
			c.Header(x402http.PaymentResponseHeader, headerValue)
		}
	}
}

// RegisterFacilitatorRoutes mounts POST /verify, POST /settle, and
// GET /supported on r, for a process acting as a facilitator itself
// (spec §4.H).
func RegisterFacilitatorRoutes(r *ginfw.Engine, facilitator *x402.X402Facilitator) {
	handlers := x402http.NewFacilitatorHandlers(facilitator)
	r.POST("/verify", ginfw.WrapH(http.HandlerFunc(handlers.Verify)))
	r.POST("/settle", ginfw.WrapH(http.HandlerFunc(handlers.Settle)))
	r.GET("/supported", ginfw.WrapH(http.HandlerFunc(handlers.Supported)))
}

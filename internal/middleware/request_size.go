package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smartlocker/pkg/httpx"
)

const DefaultMaxRequestSize = 1 << 20

// RequestSizeLimitMiddleware limits incoming request bodies to maxSize bytes.
// Column heartbeats and reservation requests are small; anything bigger is
// noise.
func RequestSizeLimitMiddleware(maxSize int64) gin.HandlerFunc {
	if maxSize <= 0 {
		maxSize = DefaultMaxRequestSize
	}

	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			httpx.ErrorResponse(c, http.StatusRequestEntityTooLarge, "Request body too large")
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxConcurrency caps the number of requests handled at once. The
// webhook route sits behind it so a gateway replay storm cannot pile up
// goroutines; excess requests get a 503 and the gateway retries later.
func MaxConcurrency(maxConcurrent int) gin.HandlerFunc {
	sem := make(chan struct{}, maxConcurrent)

	return func(c *gin.Context) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "too many concurrent requests",
			})
		}
	}
}

package webhook

import (
	"net/http"

	"voicebridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Middleware rejects unauthenticated webhook deliveries before any handler
// runs. Rejected deliveries perform no state mutation; the provider will
// retry on 403 and succeed once a correctly signed request arrives.
func Middleware(v *Verifier, mode Mode) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := v.Verify(c.Request, mode); err != nil {
			logger.FromGin(c).Warn("webhook rejected", "path", c.Request.URL.Path, "err", err)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "signature verification failed"})
			return
		}
		c.Next()
	}
}

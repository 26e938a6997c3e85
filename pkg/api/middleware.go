package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// identityKey is the gin context key the resolved identity lives under.
const identityKey = "rcrt.identity"

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// identityMiddleware resolves the bearer token into an Identity and
// aborts with 401 on any token failure.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.authn.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"code": "unauthorized", "error": "missing or invalid token"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// identity returns the request identity; the identity middleware
// guarantees presence on authenticated routes.
func identity(c *gin.Context) models.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(models.Identity)
	return id
}

// requireRole aborts with 403 unless the identity carries the role.
// Record reads use 404-for-forbidden instead; this guards the
// non-record surfaces where existence is not a secret.
func requireRole(c *gin.Context, role string) bool {
	if identity(c).HasRole(role) {
		return true
	}
	c.AbortWithStatusJSON(http.StatusForbidden,
		gin.H{"code": "forbidden", "error": "missing role " + role})
	return false
}

// metricsMiddleware records request counts and latency per route. The
// route template (not the raw path) keeps cardinality bounded.
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		s.metrics.HTTPRequests.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		s.metrics.HTTPDuration.WithLabelValues(
			c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/helixchat/helix/internal/common/config"
)

// IdentityKey is the gin context key under which the identity middleware
// stores the resolved caller identity.
const IdentityKey = "helix.identity"

// Identity returns the caller identity for a request: the authenticated
// user id when present, the client IP otherwise.
func Identity(c *gin.Context) string {
	if v, ok := c.Get(IdentityKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if uid := c.GetHeader("X-User-ID"); uid != "" {
		return uid
	}
	return c.ClientIP()
}

// Middleware gates requests with the given rule and attaches quota headers
// to every response. Rejected requests get a 429 with a structured body.
func (l *Limiter) Middleware(rule config.RateLimitRule) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := Identity(c)
		d := l.Allow(c.Request.Context(), identity, rule.Limit, rule.Window)

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Window", strconv.Itoa(int(d.Window.Seconds())))

		if !d.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"limit":       d.Limit,
				"remaining":   d.Remaining,
				"retry_after": int(d.Window.Seconds()),
			})
			return
		}

		c.Next()
	}
}

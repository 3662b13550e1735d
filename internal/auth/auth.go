// Package auth guards the admin and arbiter capabilities with shared
// secrets. Buyer-facing settlement endpoints stay open; only rate
// edits, releases and dispute resolutions need a capability.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyAdmin marks a request carrying the admin capability.
	ContextKeyAdmin = "authAdmin"
	// ContextKeyArbiter marks a request carrying the arbiter capability.
	ContextKeyArbiter = "authArbiter"
)

// Middleware inspects the capability header and records which
// capabilities the request carries. It never rejects: enforcement
// happens in RequireAdmin/RequireArbiter or in the handlers.
//
// Admins implicitly hold the arbiter capability.
func Middleware(adminSecret, arbiterSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token != "" {
			if adminSecret != "" && secureEqual(token, adminSecret) {
				c.Set(ContextKeyAdmin, true)
				c.Set(ContextKeyArbiter, true)
			} else if arbiterSecret != "" && secureEqual(token, arbiterSecret) {
				c.Set(ContextKeyArbiter, true)
			}
		}
		c.Next()
	}
}

// RequireAdmin rejects requests without the admin capability.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ContextKeyAdmin) {
			abortForbidden(c, "Admin capability required")
			return
		}
		c.Next()
	}
}

// RequireArbiter rejects requests without the arbiter capability.
func RequireArbiter() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ContextKeyArbiter) {
			abortForbidden(c, "Arbiter capability required")
			return
		}
		c.Next()
	}
}

// IsAdmin reports whether the request carries the admin capability.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextKeyAdmin)
}

// IsArbiter reports whether the request carries the arbiter capability.
func IsArbiter(c *gin.Context) bool {
	return c.GetBool(ContextKeyArbiter)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.GetHeader("X-Capability-Token")
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func abortForbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "FORBIDDEN",
			"message": message,
		},
	})
}

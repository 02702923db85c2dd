// Package auth implements the server's bearer-token authentication
// middleware (component C11). The teacher's sandbox-api router has no
// analogous concern (it runs single-tenant and trusted), so this
// middleware is new code written in the teacher's gin middleware idiom
// (src/api/router.go's corsMiddleware/noCacheMiddleware shape: a plain
// func() gin.HandlerFunc closing over config, calling c.Next() or
// c.AbortWithStatus()).
package auth

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Config controls how the middleware authenticates requests.
type Config struct {
	// Disabled bypasses authentication entirely (--no-auth).
	Disabled bool
	// Token is the bearer token clients must present. Also accepted as
	// the password half of HTTP Basic auth, since HQ registration uses
	// --hq-username/--hq-password credentials against this same check.
	Token string
	// AllowLocalBypass permits unauthenticated requests from loopback
	// addresses (--allow-local-bypass).
	AllowLocalBypass bool
	// LocalToken, if set, is accepted in addition to Token only from
	// loopback addresses (--local-auth-token).
	LocalToken string
}

// Middleware returns gin middleware enforcing cfg.
func Middleware(cfg Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Disabled {
			c.Next()
			return
		}

		if cfg.AllowLocalBypass && isLoopback(c.Request.RemoteAddr) {
			c.Next()
			return
		}

		presented := bearerToken(c.Request.Header.Get("Authorization"))
		if presented == "" {
			if _, pass, ok := c.Request.BasicAuth(); ok {
				presented = pass
			}
		}
		if presented == "" {
			presented = c.Query("token")
		}

		if constantTimeEqual(presented, cfg.Token) {
			c.Next()
			return
		}
		if cfg.LocalToken != "" && isLoopback(c.Request.RemoteAddr) && constantTimeEqual(presented, cfg.LocalToken) {
			c.Next()
			return
		}

		c.Header("WWW-Authenticate", `Bearer realm="vibetunnel"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

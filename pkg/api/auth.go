package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opus-nx/orchestrator/pkg/orcherr"
)

// authFixedString is the message HMAC-SHA256'd with the configured shared
// secret to produce the bearer/WS token (SPEC_FULL.md §4.5/§6.1). The token
// proves possession of the secret, not identity of a particular caller —
// there is a single shared credential, matching a service-to-service
// deployment rather than a per-user one.
const authFixedString = "opus-nx-authenticated"

// expectedToken computes the hex-encoded HMAC-SHA256 token for secret.
func expectedToken(secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(authFixedString))
	return hex.EncodeToString(mac.Sum(nil))
}

// validToken reports whether candidate matches the token derived from
// secret, compared in constant time.
func validToken(secret, candidate string) bool {
	want := expectedToken(secret)
	return subtle.ConstantTimeCompare([]byte(want), []byte(candidate)) == 1
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}

// requireAuth is gin middleware enforcing bearer-token auth on REST routes.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok || !validToken(s.cfg.AuthSecret, token) {
			writeError(c, orcherr.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}

// validWSToken reports whether the token query parameter is a valid HMAC
// token. The WebSocket handler checks it before Upgrade is called, so an
// invalid token is refused with an HTTP 401 carrying code 4001 and the
// connection is never upgraded (B3).
func (s *Server) validWSToken(c *gin.Context) bool {
	token := c.Query("token")
	if token == "" {
		return false
	}
	return validToken(s.cfg.AuthSecret, token)
}

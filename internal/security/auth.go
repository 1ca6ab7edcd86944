package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// SessionHeader carries the client's session id.
	SessionHeader = "X-Session-ID"

	// ContextKeySessionID is the gin context key for the caller's session id.
	ContextKeySessionID = "sessionID"
	// ContextKeyEncryptionKey is the gin context key for the session's encryption key.
	ContextKeyEncryptionKey = "encryptionKey"
)

// SessionKeys looks up the encryption key recorded for a live session.
type SessionKeys interface {
	Key(sessionID string) (string, bool)
}

// GetSessionID returns the session id resolved by the session middleware.
func GetSessionID(c *gin.Context) string {
	return c.GetString(ContextKeySessionID)
}

// GetEncryptionKey returns the session's encryption key, or "" before login.
func GetEncryptionKey(c *gin.Context) string {
	return c.GetString(ContextKeyEncryptionKey)
}

// SessionIDFromHeader returns the trimmed X-Session-ID header.
func SessionIDFromHeader(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(SessionHeader))
}

// SessionMiddleware requires a live session. It resolves the session's key so
// handlers never see the password itself.
func SessionMiddleware(sessions SessionKeys) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := SessionIDFromHeader(c)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + SessionHeader + " header"})
			return
		}
		key, ok := sessions.Key(id)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown or expired session; log in again"})
			return
		}
		c.Set(ContextKeySessionID, id)
		c.Set(ContextKeyEncryptionKey, key)
		c.Next()
	}
}

// OptionalSessionMiddleware resolves the session when one is present and otherwise
// lets the request through without a key. Used by routes that work before login.
func OptionalSessionMiddleware(sessions SessionKeys) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := SessionIDFromHeader(c); id != "" {
			if key, ok := sessions.Key(id); ok {
				c.Set(ContextKeySessionID, id)
				c.Set(ContextKeyEncryptionKey, key)
			}
		}
		c.Next()
	}
}

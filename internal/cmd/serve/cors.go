package serve

import (
	"net/http"
	"strings"

	"github.com/chirino/companion-service/internal/security"
	"github.com/gin-gonic/gin"
)

// corsPolicy answers browser preflights for the companion API. Browsers must be able
// to send and read the session header, so it is both allowed and exposed.
type corsPolicy struct {
	any     bool
	allowed map[string]struct{}
}

// newCORSPolicy parses a comma separated origin list. Empty or "*" allows any origin.
func newCORSPolicy(originsCSV string) corsPolicy {
	p := corsPolicy{allowed: map[string]struct{}{}}
	for _, origin := range strings.Split(originsCSV, ",") {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch origin {
		case "":
		case "*":
			p.any = true
		default:
			p.allowed[origin] = struct{}{}
		}
	}
	if len(p.allowed) == 0 {
		p.any = true
	}
	return p
}

func (p corsPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.any {
		return true
	}
	_, ok := p.allowed[origin]
	return ok
}

func (p corsPolicy) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := strings.TrimSpace(c.GetHeader("Origin")); p.allows(origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+security.SessionHeader)
			h.Set("Access-Control-Expose-Headers", security.SessionHeader)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Max-Age", "600")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

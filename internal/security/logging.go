package security

import (
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// AccessLogMiddleware logs one line per request. Requests for the exact paths in
// quiet are not logged. Server errors are logged at error level.
func AccessLogMiddleware(quiet ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"clientIP", c.ClientIP(),
		}
		if id := GetSessionID(c); id != "" {
			fields = append(fields, "session", id)
		}
		if status >= http.StatusInternalServerError {
			if errs := c.Errors.String(); errs != "" {
				fields = append(fields, "err", errs)
			}
			log.Error("HTTP request", fields...)
			return
		}
		log.Info("HTTP request", fields...)
	}
}

// AuditMiddleware records writes under the given path prefixes: who (by session) did
// what, and whether it succeeded. Reads are not audited.
func AuditMiddleware(prefixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodOptions {
			return
		}
		path := c.Request.URL.Path
		audited := false
		for _, prefix := range prefixes {
			if strings.HasPrefix(path, prefix) {
				audited = true
				break
			}
		}
		if !audited {
			return
		}
		session := GetSessionID(c)
		if session == "" {
			session = "none"
		}
		status := c.Writer.Status()
		log.Info("Audit",
			"session", session,
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"ok", status < http.StatusBadRequest,
		)
	}
}

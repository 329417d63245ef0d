package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RequestLogger logs each request with the agent name. POST requests
// trigger a pass: they also carry the target resource and mode, and log
// at info.
func RequestLogger(logger zerolog.Logger, node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		mutating := c.Request.Method == http.MethodPost

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case mutating:
			event = logger.Info()
		default:
			event = logger.Debug()
		}

		event = event.Str("agent", node).
			Str("method", c.Request.Method).
			Str("path", path)
		if name := c.Param("name"); name != "" {
			event = event.Str("resource", name)
		}
		if mutating {
			event = event.Str("mode", passMode(path, c.Query("mode")))
		}
		event.
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("agent/http: request")
	}
}

// passMode names the reconciliation mode a POST route asked for.
func passMode(path, query string) string {
	switch {
	case strings.HasSuffix(path, "/reload"):
		return "reload"
	case strings.HasSuffix(path, "/apply"):
		return "direct_apply"
	case query != "":
		return query
	default:
		return "direct_apply"
	}
}

func RequestMetricsMiddleware(m *Metrics, node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		m.RecordHTTPRequest(node, c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

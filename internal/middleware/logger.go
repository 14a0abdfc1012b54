package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Logger writes one event per request. Paths in quiet are logged at debug
// level while they succeed, which keeps health checks out of the
// default output.
func Logger(log zerolog.Logger, quiet ...string) gin.HandlerFunc {
	quietPaths := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		quietPaths[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		event := requestEvent(log, status, c.Request.URL.Path, quietPaths)
		if event == nil {
			return
		}

		if principal, ok := CurrentPrincipal(c); ok {
			event = event.Str("principal_id", principal.User.ID)
		}
		if route := c.FullPath(); route != "" {
			event = event.Str("route", route)
		}
		if len(c.Errors) > 0 {
			event = event.Str("error", c.Errors.Last().Error())
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Str("request_id", RequestIDFrom(c)).
			Msg("http request")
	}
}

// requestEvent picks the level by status. It returns nil when the level is
// disabled.
func requestEvent(log zerolog.Logger, status int, path string, quiet map[string]struct{}) *zerolog.Event {
	switch {
	case status >= 500:
		return log.Error()
	case status >= 400:
		return log.Warn()
	}
	if _, ok := quiet[path]; ok {
		return log.Debug()
	}
	return log.Info()
}

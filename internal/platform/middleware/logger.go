package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/medforms/internal/platform/auth"
)

// Logger writes one structured line per request. The level follows the
// outcome: errors for 5xx and handler failures, warnings for 4xx, debug for
// successful health checks and info otherwise.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			route := c.Path()
			var evt *zerolog.Event
			switch {
			case status >= http.StatusInternalServerError:
				evt = logger.Error().Err(err)
			case status >= http.StatusBadRequest:
				evt = logger.Warn()
			case route == "/metrics" || strings.HasPrefix(route, "/health"):
				evt = logger.Debug()
			default:
				evt = logger.Info()
			}

			req := c.Request()
			evt.
				Str("request_id", requestIDOf(c)).
				Str("method", req.Method).
				Str("route", route).
				Str("path", req.URL.Path).
				Str("user_id", auth.UserIDFromContext(req.Context())).
				Int("status", status).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Msg("request")
			return err
		}
	}
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

type TimeoutConfig struct {
	Timeout time.Duration
	// Skipper exempts requests from the deadline. Defaults to the /health probes.
	Skipper func(echo.Context) bool
}

func skipHealth(c echo.Context) bool {
	return strings.HasPrefix(c.Request().URL.Path, "/health")
}

// RequestTimeout puts a deadline on the request context. The handler runs on
// the calling goroutine and is expected to honour ctx; when it returns after
// the deadline without having written a response, the reply becomes a 504.
func RequestTimeout(cfg TimeoutConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = skipHealth
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Timeout <= 0 || cfg.Skipper(c) {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), cfg.Timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return c.JSON(http.StatusGatewayTimeout, map[string]string{
					"error":   "timeout",
					"message": "request exceeded " + cfg.Timeout.String(),
				})
			}
			return err
		}
	}
}

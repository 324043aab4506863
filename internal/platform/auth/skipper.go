package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// AuthSkipper lets liveness and dependency probes through without credentials.
func AuthSkipper(c echo.Context) bool {
	path := c.Path()
	if path == "" {
		path = c.Request().URL.Path
	}
	return IsPublicPath(path)
}

// IsPublicPath reports whether path is /health or one of its sub-probes.
func IsPublicPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures the in-process limiter used when no Redis is available.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// KeyFunc picks the bucket for a request. Defaults to the client IP.
	KeyFunc func(echo.Context) string
	// IdleExpiry drops buckets unused for this long. Defaults to three minutes.
	IdleExpiry time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
	}
}

// retryAfterSeconds is the time for one token to refill, rounded up.
func retryAfterSeconds(rps float64) int {
	if rps <= 0 {
		return 1
	}
	s := int(math.Ceil(1 / rps))
	if s < 1 {
		s = 1
	}
	return s
}

// RateLimit is echo's token-bucket limiter keyed by cfg.KeyFunc, with the
// X-RateLimit headers and the 429 shape the Redis limiter also produces.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.RequestsPerSecond <= 0 {
		def := DefaultRateLimitConfig()
		cfg.RequestsPerSecond, cfg.BurstSize = def.RequestsPerSecond, def.BurstSize
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = int(math.Ceil(cfg.RequestsPerSecond))
	}
	if cfg.IdleExpiry <= 0 {
		cfg.IdleExpiry = 3 * time.Minute
	}

	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)
	retryAfter := strconv.Itoa(retryAfterSeconds(cfg.RequestsPerSecond))

	limiter := echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(cfg.RequestsPerSecond),
			Burst:     cfg.BurstSize,
			ExpiresIn: cfg.IdleExpiry,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if cfg.KeyFunc != nil {
				if k := cfg.KeyFunc(c); k != "" {
					return k, nil
				}
			}
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			h := c.Response().Header()
			h.Set("Retry-After", retryAfter)
			h.Set("X-RateLimit-Remaining", "0")
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		limited := limiter(next)
		return func(c echo.Context) error {
			c.Response().Header().Set("X-RateLimit-Limit", limit)
			return limited(c)
		}
	}
}

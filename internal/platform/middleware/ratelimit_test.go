package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

const userHeader = "X-Test-User"

// newLimitedServer mounts RateLimit on a single route. The userHeader value,
// when present, is copied to the "user_id" context key before limiting.
func newLimitedServer(cfg RateLimitConfig) *echo.Echo {
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if u := c.Request().Header.Get(userHeader); u != "" {
				c.Set("user_id", u)
			}
			return next(c)
		}
	})
	e.GET("/api/v1/appointments", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, RateLimit(cfg))
	return e
}

func hit(e *echo.Echo, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func TestRateLimit_BurstAllowed(t *testing.T) {
	e := newLimitedServer(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})
	for i := 0; i < 5; i++ {
		rec := hit(e, "")
		wantStatus(t, rec, http.StatusOK)
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: X-RateLimit-Limit = %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	e := newLimitedServer(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 2})
	for i := 0; i < 2; i++ {
		wantStatus(t, hit(e, ""), http.StatusOK)
	}
	rec := hit(e, "")
	wantStatus(t, rec, http.StatusTooManyRequests)
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "0.5" {
		t.Errorf("X-RateLimit-Limit = %q, want 0.5", got)
	}
}

func TestRateLimit_PerKeyIsolation(t *testing.T) {
	e := newLimitedServer(RateLimitConfig{
		RequestsPerSecond: 0.1,
		BurstSize:         1,
		KeyFunc: func(c echo.Context) string {
			id, _ := c.Get("user_id").(string)
			return id
		},
	})
	wantStatus(t, hit(e, "user-a"), http.StatusOK)
	wantStatus(t, hit(e, "user-a"), http.StatusTooManyRequests)
	if rec := hit(e, "user-b"); rec.Code != http.StatusOK {
		t.Errorf("user-b shares user-a's bucket: status %d", rec.Code)
	}
}

func TestRateLimit_ZeroConfigUsesDefaults(t *testing.T) {
	rec := hit(newLimitedServer(RateLimitConfig{}), "")
	wantStatus(t, rec, http.StatusOK)
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "50" {
		t.Errorf("X-RateLimit-Limit = %q, want default 50", got)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		rps  float64
		want int
	}{
		{0, 1}, {-3, 1}, {100, 1}, {1, 1}, {0.5, 2}, {0.3, 4},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.rps); got != tt.want {
			t.Errorf("retryAfterSeconds(%g) = %d, want %d", tt.rps, got, tt.want)
		}
	}
}

func TestScriptCount(t *testing.T) {
	tests := []struct {
		in      interface{}
		want    int64
		wantErr bool
	}{
		{int64(3), 3, false},
		{7, 7, false},
		{"12", 12, false},
		{"x", 0, true},
		{[]byte("1"), 0, true},
	}
	for _, tt := range tests {
		got, err := scriptCount(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("scriptCount(%v): err=%v, wantErr=%v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("scriptCount(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

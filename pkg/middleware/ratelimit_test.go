package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/unxversal/optionsengine/pkg/ratelimit"
)

type stubLimiter struct {
	result *ratelimit.Result
	err    error
}

func (s *stubLimiter) Allow(_ context.Context, _ string, _ ratelimit.Limit) (*ratelimit.Result, error) {
	return s.result, s.err
}

func serveWithLimiter(limiter ratelimit.RateLimiter) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(limiter, 10, 20, time.Second))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimitAllowed(t *testing.T) {
	w := serveWithLimiter(&stubLimiter{result: &ratelimit.Result{Allowed: true, Remaining: 9}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitBlocked(t *testing.T) {
	w := serveWithLimiter(&stubLimiter{result: &ratelimit.Result{Allowed: false, RetryAfter: 3 * time.Second}})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3", w.Header().Get("Retry-After"))
}

func TestRateLimitFailOpen(t *testing.T) {
	w := serveWithLimiter(&stubLimiter{err: errors.New("redis unavailable")})
	assert.Equal(t, http.StatusOK, w.Code)
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/jerry-enebeli/swapflow/config"
)

func newEngine(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/", func(c *gin.Context) { c.JSON(http.StatusOK, "ok") })
	return r
}

func serve(r *gin.Engine, header map[string]string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp.Code
}

func TestSecretKeyAuthMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header map[string]string
		want   int
	}{
		{name: "valid key", secret: "s3cret", header: map[string]string{KeyHeader: "s3cret"}, want: http.StatusOK},
		{name: "missing key", secret: "s3cret", want: http.StatusUnauthorized},
		{name: "wrong key", secret: "s3cret", header: map[string]string{KeyHeader: "nope"}, want: http.StatusUnauthorized},
		{name: "not configured", secret: "", header: map[string]string{KeyHeader: "s3cret"}, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEngine(SecretKeyAuthMiddleware(tt.secret))
			assert.Equal(t, tt.want, serve(r, tt.header))
		})
	}
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	r := newEngine(RateLimitMiddleware(config.RateLimitConfig{}))
	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, serve(r, nil))
	}
}

func TestRateLimitMiddleware_RejectsOverBurst(t *testing.T) {
	rps := 1.0
	burst := 2
	cleanup := 60
	r := newEngine(RateLimitMiddleware(config.RateLimitConfig{RequestsPerSecond: &rps, Burst: &burst, CleanupIntervalSec: &cleanup}))

	var limited bool
	for i := 0; i < 5; i++ {
		if serve(r, nil) == http.StatusTooManyRequests {
			limited = true
		}
	}
	assert.True(t, limited)
}

package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/inkwell/inkwell-auth/internal/config"
	"github.com/inkwell/inkwell-auth/internal/middleware"
)

func limitedRouter(limiter *middleware.RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limiter.Handler())
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func TestRateLimiterEnforcesConfiguredBurst(t *testing.T) {
	limiter := middleware.NewRateLimiter(config.Config{RateLimitRPM: 60, RateLimitBurst: 2})
	require.NotNil(t, limiter)
	router := limitedRouter(limiter)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "rate_limited", body["error"])
	require.Contains(t, body, "error_description")
}

func TestRateLimiterDerivesBurstFromBudget(t *testing.T) {
	limiter := middleware.NewRateLimiter(config.Config{RateLimitRPM: 5})
	require.NotNil(t, limiter)
	router := limitedRouter(limiter)

	// Derived burst bottoms out at one request.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestDisabledRateLimiterPassesThrough(t *testing.T) {
	limiter := middleware.NewRateLimiter(config.Config{RateLimitRPM: 0})
	require.Nil(t, limiter)
	router := limitedRouter(limiter)

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

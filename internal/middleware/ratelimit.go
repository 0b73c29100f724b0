package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/inkwell/inkwell-auth/internal/config"
)

// Buckets idle longer than this are dropped on the next insert.
const bucketRetention = 5 * time.Minute

// RateLimiter throttles requests with one token bucket per client IP. The
// login and redemption endpoints are the brute-force surface, so throttling
// sits in front of the whole route tree.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter from the configured requests-per-minute
// budget and burst. A non-positive budget disables throttling entirely.
func NewRateLimiter(cfg config.Config) *RateLimiter {
	if cfg.RateLimitRPM <= 0 {
		return nil
	}

	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = cfg.RateLimitRPM / 10
	}
	if burst < 1 {
		burst = 1
	}

	return &RateLimiter{
		limit:   rate.Limit(float64(cfg.RateLimitRPM) / 60.0),
		burst:   burst,
		buckets: make(map[string]*bucket),
	}
}

// Handler returns the gin middleware. A nil limiter passes everything through.
func (r *RateLimiter) Handler() gin.HandlerFunc {
	if r == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		if !r.take(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate_limited",
				"error_description": "Too many requests. Please slow down.",
			})
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) take(key string) *rate.Limiter {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.buckets[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	limiter := rate.NewLimiter(r.limit, r.burst)
	r.buckets[key] = &bucket{limiter: limiter, lastSeen: now}
	r.evictIdleLocked(now)
	return limiter
}

func (r *RateLimiter) evictIdleLocked(now time.Time) {
	for key, entry := range r.buckets {
		if now.Sub(entry.lastSeen) > bucketRetention {
			delete(r.buckets, key)
		}
	}
}

package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/burakerenkisapro1122/bchat/internal/observability"
)

// LoginRateLimit rejects bursts of login attempts per client address. The
// limiter map grows with distinct addresses; acceptable for a service
// fronted by a bounded set of clients.
func LoginRateLimit(perSec float64, burst int) gin.HandlerFunc {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)

	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if l, ok := limiters[key]; ok {
			return l
		}
		l := rate.NewLimiter(rate.Limit(perSec), burst)
		limiters[key] = l
		return l
	}

	return func(c *gin.Context) {
		key := observability.IPFromRequest(c.Request)
		if !limiterFor(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts"})
			return
		}
		c.Next()
	}
}

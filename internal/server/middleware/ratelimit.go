package middleware

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"tenant-auth-service/internal/metrics"
)

// DefaultLimiterIdle is how long a client's bucket may go unused before it is dropped.
const DefaultLimiterIdle = 10 * time.Minute

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// RateLimiter keeps one token bucket per client IP and route. Buckets idle for
// longer than the idle period are evicted, so the map is bounded by recent clients.
type RateLimiter struct {
	rps       float64
	burst     int
	idle      time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
	limiters  sync.Map // map[string]*limiterEntry
	lastSweep atomic.Int64
}

// NewRateLimiter returns a limiter allowing rps requests per second with the given burst.
// rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int, m *metrics.Metrics) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{rps: rps, burst: burst, idle: DefaultLimiterIdle, metrics: m, now: time.Now}
}

// WithIdle sets the eviction period for unused buckets. It must be called before
// the limiter serves requests; d <= 0 keeps the default.
func (l *RateLimiter) WithIdle(d time.Duration) *RateLimiter {
	if d > 0 {
		l.idle = d
	}
	return l
}

func (l *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	v, ok := l.limiters.Load(key)
	if !ok {
		v, _ = l.limiters.LoadOrStore(key, &limiterEntry{lim: rate.NewLimiter(rate.Limit(l.rps), l.burst)})
	}
	e := v.(*limiterEntry)
	e.lastSeen.Store(now.UnixNano())
	return e.lim
}

// sweep drops buckets unused for longer than l.idle. At most one sweep runs per idle period.
func (l *RateLimiter) sweep(now time.Time) {
	last := l.lastSweep.Load()
	if now.UnixNano()-last < int64(l.idle) || !l.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	cutoff := now.Add(-l.idle).UnixNano()
	l.limiters.Range(func(k, v any) bool {
		if v.(*limiterEntry).lastSeen.Load() < cutoff {
			l.limiters.Delete(k)
		}
		return true
	})
}

// Handler returns a gin middleware enforcing the limit for route.
// The client IP comes from gin, so it honours forwarding headers only from trusted proxies.
func (l *RateLimiter) Handler(route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.rps <= 0 {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		now := l.now()
		l.sweep(now)
		if !l.limiter(route+"|"+ip, now).Allow() {
			c.Header("Retry-After", "1")
			l.metrics.RateLimited(route)
			Abort(c, http.StatusTooManyRequests, "Too many requests, please try again later.")
			return
		}
		c.Next()
	}
}

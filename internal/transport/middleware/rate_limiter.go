// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/adiadia/session-recorder/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRetryAfter         = "Retry-After"

	limiterIdleTTL = 3 * time.Minute
)

type rateLimitDecision struct {
	Allowed           bool
	Remaining         int
	RetryAfterSeconds int
}

type caller struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller. A non-positive rate
// disables limiting.
type RateLimiter struct {
	mu      sync.Mutex
	callers map[string]*caller
	rps     rate.Limit
	burst   int
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rps := rate.Limit(perSecond)
	if perSecond <= 0 {
		rps = rate.Inf
	}
	return &RateLimiter{
		callers: make(map[string]*caller, 32),
		rps:     rps,
		burst:   burst,
	}
}

func (l *RateLimiter) Allow(key string, now time.Time) rateLimitDecision {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictLocked(now)

	c, ok := l.callers[key]
	if !ok {
		c = &caller{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.callers[key] = c
	}
	c.lastSeen = now

	if c.limiter.AllowN(now, 1) {
		return rateLimitDecision{
			Allowed:   true,
			Remaining: int(math.Floor(c.limiter.TokensAt(now))),
		}
	}

	wait := 1
	if res := c.limiter.ReserveN(now, 1); res.OK() {
		wait = int(math.Ceil(res.DelayFrom(now).Seconds()))
		res.CancelAt(now)
	}
	if wait < 1 {
		wait = 1
	}
	return rateLimitDecision{RetryAfterSeconds: wait}
}

func (l *RateLimiter) evictLocked(now time.Time) {
	for key, c := range l.callers {
		if now.Sub(c.lastSeen) > limiterIdleTTL {
			delete(l.callers, key)
		}
	}
}

func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callers)
}

// IngestRateLimit rejects event submissions from callers over their budget.
// Rejected events are counted as dropped.
func IngestRateLimit(limiter *RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	if limiter == nil {
		panic("middleware.IngestRateLimit requires a limiter")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := callerKey(r)
			decision := limiter.Allow(key, time.Now())
			w.Header().Set(headerRateLimitLimit, strconv.Itoa(limiter.burst))
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				metrics.IncCaptureDropped(metrics.DropRateLimited)
				logger.Warn("event submission rate limited",
					"caller", key,
					"retry_after_s", decision.RetryAfterSeconds,
				)
				w.Header().Set(headerRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

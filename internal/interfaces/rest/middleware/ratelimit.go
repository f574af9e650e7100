package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/lecture-gate/internal/interfaces/rest/handler"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// LimiterConfig per key token bucket
type LimiterConfig struct {
	Rate  rate.Limit // tokens per second
	Burst int
	// limiters unused for this long are dropped
	IdleTimeout time.Duration
}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter one token bucket per key
type KeyedLimiter struct {
	config LimiterConfig
	now    func() time.Time

	mu          sync.Mutex
	limiters    map[string]*keyedLimiter
	lastCleanup time.Time
}

// NewKeyedLimiter .
func NewKeyedLimiter(config LimiterConfig) *KeyedLimiter {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 10 * time.Minute
	}
	if config.Burst < 1 {
		config.Burst = 1
	}
	return &KeyedLimiter{
		config:      config,
		now:         time.Now,
		limiters:    make(map[string]*keyedLimiter),
		lastCleanup: time.Now(),
	}
}

// Allow takes a token from key's bucket
func (l *KeyedLimiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastCleanup) > l.config.IdleTimeout {
		l.cleanupLocked(now)
	}
	entry, ok := l.limiters[key]
	if !ok {
		entry = &keyedLimiter{limiter: rate.NewLimiter(l.config.Rate, l.config.Burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Len number of tracked keys
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *KeyedLimiter) cleanupLocked(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.config.IdleTimeout {
			delete(l.limiters, key)
		}
	}
	l.lastCleanup = now
}

// RateLimitOption .
type RateLimitOption struct {
	// Key identifies the caller, eg. the viewer
	Key func(c echo.Context) string
	// Rejected counts rejections, may be nil
	Rejected prometheus.Counter
}

// RateLimit answers 429 once the caller's bucket is empty
func RateLimit(limiter *KeyedLimiter, option *RateLimitOption) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limiter.Allow(option.Key(c)) {
				return next(c)
			}
			if option.Rejected != nil {
				option.Rejected.Inc()
			}
			if limiter.config.Rate > 0 {
				retry := int(1/float64(limiter.config.Rate) + 0.5)
				if retry < 1 {
					retry = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
			}
			return c.JSON(http.StatusTooManyRequests,
				handler.NewRESTStandardError(http.StatusTooManyRequests, handler.ToastTooManyAttempts).SetTraceID(handler.TraceID(c)),
			)
		}
	}
}

package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// RateLimitConfig configures a sliding window rate limiter.
type RateLimitConfig struct {
	// Name labels the limiter in logs, e.g. "api" or "placement".
	Name string
	// Max is the number of requests allowed per window and key.
	Max int
	// Window is the length of the sliding window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request. ClientIP when nil.
	KeyFunc func(*http.Request) string
}

// counter holds request counts of the current fixed window and the one
// before it. The sliding count weights the previous window by how much of it
// still overlaps the sliding window.
type counter struct {
	prev      int
	curr      int
	currStart time.Time
}

type limiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	return &limiter{
		cfg:      cfg,
		now:      time.Now,
		counters: make(map[string]*counter),
	}
}

// decision is the outcome of one take.
type decision struct {
	allowed   bool
	remaining int
	resetAt   time.Time
}

// take counts a request for key at now if it fits in the limit.
func (l *limiter) take(key string, now time.Time) decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := l.cfg.Window
	start := now.Truncate(window)

	c, ok := l.counters[key]
	switch {
	case !ok:
		c = &counter{currStart: start}
		l.counters[key] = c
	case start.Sub(c.currStart) >= 2*window:
		c.prev, c.curr, c.currStart = 0, 0, start
	case start.Sub(c.currStart) >= window:
		c.prev, c.curr, c.currStart = c.curr, 0, start
	}

	overlap := 1 - float64(now.Sub(c.currStart))/float64(window)
	used := float64(c.prev)*max(overlap, 0) + float64(c.curr)
	d := decision{resetAt: c.currStart.Add(window)}
	if used >= float64(l.cfg.Max) {
		return d
	}

	c.curr++
	d.allowed = true
	d.remaining = max(int(float64(l.cfg.Max)-used-1), 0)
	return d
}

// evict drops counters that can no longer affect a decision.
func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, c := range l.counters {
		if now.Sub(c.currStart) >= 2*l.cfg.Window {
			delete(l.counters, key)
		}
	}
}

func (l *limiter) evictEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

func (l *limiter) middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := l.now()
			d := l.take(l.cfg.KeyFunc(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.resetAt.Unix(), 10))

			if !d.allowed {
				retryAfter := max(d.resetAt.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				zctx.From(r.Context()).Info("Rate limit exceeded",
					zap.String("limiter", l.cfg.Name),
					zap.String("route", RoutePattern(r)),
					zap.Duration("retry_after", retryAfter),
				)
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit returns a middleware enforcing a per-key sliding window limit.
// Rejected requests get 429 with a JSON error body and Retry-After. Every
// response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset.
//
// Counters of idle keys are never evicted; use RateLimitWithCleanup in
// long-running servers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newLimiter(cfg).middleware()
}

// RateLimitWithCleanup is like RateLimit but also evicts idle counters every
// two windows until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go l.evictEvery(ctx, 2*cfg.Window)
	return l.middleware()
}

// ClientIP keys requests by client address: the first X-Forwarded-For entry,
// then X-Real-IP, then the connection's remote host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package middleware

import (
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anwado/backend/internal/auth"
	"github.com/anwado/backend/internal/config"
)

// RateLimiter enforces a per-caller request budget over a sliding one-minute
// window. Authenticated requests are keyed by user id, anonymous ones by
// client address, so a single noisy client cannot starve the rest.
type RateLimiter struct {
	mu      sync.RWMutex
	windows map[string]*rateLimitWindow
	limit   int
	burst   int
	logger  *log.Logger
}

type rateLimitWindow struct {
	count       atomic.Int64
	windowStart time.Time
}

func NewRateLimiter(cfg config.RateLimitTuning) *RateLimiter {
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 120
	}
	if cfg.Burst == 0 {
		cfg.Burst = cfg.RequestsPerMinute / 3
	}

	rl := &RateLimiter{
		windows: make(map[string]*rateLimitWindow),
		limit:   cfg.RequestsPerMinute,
		burst:   cfg.Burst,
		logger:  log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
	}

	go rl.cleanup()

	return rl
}

// Allow counts one request against key and reports whether it stays within
// the window budget (the per-minute limit plus burst headroom).
//
// Uses a read-first pattern: existing-window checks take only the read lock;
// the write lock is needed only to create or roll a window.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()
	ceiling := int64(rl.limit + rl.burst)

	rl.mu.RLock()
	window, exists := rl.windows[key]
	if exists && now.Sub(window.windowStart) <= time.Minute {
		count := window.count.Add(1)
		rl.mu.RUnlock()

		if count > ceiling {
			rl.logger.Printf("rate limit exceeded: key=%s count=%d ceiling=%d", key, count, ceiling)
			return false
		}
		return true
	}
	rl.mu.RUnlock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Re-check: another goroutine may have rolled the window already.
	window, exists = rl.windows[key]
	if exists && now.Sub(window.windowStart) <= time.Minute {
		return window.count.Add(1) <= ceiling
	}

	window = &rateLimitWindow{windowStart: now}
	window.count.Add(1)
	rl.windows[key] = window
	return true
}

// Middleware rejects over-budget requests with 429 and a Retry-After hint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientKey(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","retry_after_seconds":60}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey prefers the authenticated user id; anonymous endpoints (webhook,
// health) fall back to the remote address.
func clientKey(r *http.Request) string {
	if userID, err := auth.GetUserID(r.Context()); err == nil {
		return "user:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// cleanup drops stale windows so the map does not keep one entry per client
// forever.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, window := range rl.windows {
			if now.Sub(window.windowStart) > 2*time.Minute {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Stats reports the limiter's current shape for the status endpoint.
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return map[string]interface{}{
		"active_windows":      len(rl.windows),
		"requests_per_minute": rl.limit,
		"burst":               rl.burst,
	}
}

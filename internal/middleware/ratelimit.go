package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const maxRateLimitEntries = 100000

// RateLimiter is a per-client sliding window limiter.
type RateLimiter struct {
	max    int
	window time.Duration

	mu       sync.Mutex
	requests map[string][]time.Time
	now      func() time.Time
}

func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:      max,
		window:   window,
		requests: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, resetIn := l.check(clientIP(r))

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(resetIn))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error":   "Too many requests. Please slow down.",
				"resetIn": resetIn,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) check(ip string) (allowed bool, remaining int, resetIn int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	filtered := l.prune(l.requests[ip], now)

	if len(filtered) >= l.max {
		resetSec := int(filtered[0].Add(l.window).Sub(now).Seconds()) + 1
		l.requests[ip] = filtered
		return false, 0, resetSec
	}

	if _, ok := l.requests[ip]; !ok && len(l.requests) >= maxRateLimitEntries {
		return false, 0, 60
	}

	filtered = append(filtered, now)
	l.requests[ip] = filtered
	return true, l.max - len(filtered), 0
}

func (l *RateLimiter) prune(requests []time.Time, now time.Time) []time.Time {
	windowStart := now.Add(-l.window)
	filtered := requests[:0]
	for _, t := range requests {
		if t.After(windowStart) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// StartCleanup drops idle clients every minute until ctx is done.
func (l *RateLimiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.cleanup()
			}
		}
	}()
}

func (l *RateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for ip, requests := range l.requests {
		filtered := l.prune(requests, now)
		if len(filtered) == 0 {
			delete(l.requests, ip)
		} else {
			l.requests[ip] = filtered
		}
	}
}

// clientIP relies on chi's RealIP middleware having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/bakery-payway/internal/common"
)

// Backend counts requests per key.
type Backend interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error)
}

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler enforces rate limits before delegating to the next handler.
type Handler struct {
	Limiter Backend
	Config  Config
	OnError func(error)
}

// ByClientIP keys requests by route name and client address.
func ByClientIP(route string) func(*http.Request) string {
	return func(r *http.Request) string {
		return route + ":" + common.ClientIP(r)
	}
}

// Middleware answers 429 once a key exhausts its budget. Backend failures let the request through.
func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Config.Key == nil || h.Limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), h.Config.Key(r), h.Config.Window, h.Config.Max)
		switch {
		case err != nil:
			if h.OnError != nil {
				h.OnError(err)
			}
		case !allowed:
			setLimitHeaders(w.Header(), h.Config.Max, remaining, resetAt)
			w.Header().Set("Retry-After", strconv.Itoa(secondsUntil(resetAt)))
			common.JSONMessageError(w, http.StatusTooManyRequests, "Too many requests")
			return
		default:
			setLimitHeaders(w.Header(), h.Config.Max, remaining, resetAt)
		}
		next.ServeHTTP(w, r)
	})
}

func setLimitHeaders(h http.Header, limit, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

// secondsUntil rounds up so clients never retry before the window has moved.
func secondsUntil(t time.Time) int {
	return max(int(math.Ceil(time.Until(t).Seconds())), 0)
}

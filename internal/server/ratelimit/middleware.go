// Provides HTTP middleware and response headers for rate limiting.

package ratelimit

import (
	"net"
	"net/http"
	"strconv"

	"github.com/maruel/gitwiki/internal/utils"
)

// WriteHeaders writes rate limit headers to the response.
// Headers are written on all responses (both success and 429).
func WriteHeaders(w http.ResponseWriter, result Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	if !result.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	}
}

// Middleware rejects requests over their tier limit with 429.
//
// onLimited, if not nil, is called with the tier name of each rejection.
func Middleware(c *Config, onLimited func(tier string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := c.Match(r.Method, r.URL.Path)
			if tier == nil {
				next.ServeHTTP(w, r)
				return
			}
			res := tier.Limiter.Allow(tier.Name + ":" + ClientIP(r))
			WriteHeaders(w, res)
			if !res.Allowed {
				if onLimited != nil {
					onLimited(tier.Name)
				}
				utils.RespondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests",
					map[string]any{"retry_after": int(res.RetryAfter.Seconds())})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of the request remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

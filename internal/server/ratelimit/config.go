// Defines rate limit tiers and routing rules.

package ratelimit

import (
	"net/http"
	"time"

	"github.com/maruel/gitwiki/internal/storage"
)

// Tier is a named limiter. Keys are client IP addresses.
type Tier struct {
	Name    string
	Limiter *Limiter
}

// Config holds rate limiters for different tiers. A nil tier is unlimited.
type Config struct {
	Auth  *Tier
	Write *Tier
	Read  *Tier
}

// NewConfig builds the tiers from the server configuration.
func NewConfig(rl storage.RateLimits) *Config {
	return &Config{
		Auth:  newTier("auth", rl.AuthRatePerMin, rl.AuthRatePerMin),
		Write: newTier("write", rl.WriteRatePerMin, max(rl.WriteRatePerMin/6, 1)),
		Read:  newTier("read", rl.ReadRatePerMin, max(rl.ReadRatePerMin/6, 1)),
	}
}

func newTier(name string, perMin, burst int) *Tier {
	if perMin <= 0 {
		return nil
	}
	return &Tier{Name: name, Limiter: NewLimiter(perMin, time.Minute, burst)}
}

// Match returns the tier for a request, or nil for paths that should not be
// rate limited.
func (c *Config) Match(method, path string) *Tier {
	if c == nil || path == "/api/health" || path == "/metrics" {
		return nil
	}
	switch {
	case method == http.MethodPost && (path == "/api/auth/login" || path == "/api/auth/register"):
		return c.Auth
	case method == http.MethodGet || method == http.MethodHead:
		return c.Read
	default:
		return c.Write
	}
}

// Close stops all limiter cleanup goroutines.
func (c *Config) Close() {
	if c == nil {
		return
	}
	for _, t := range []*Tier{c.Auth, c.Write, c.Read} {
		if t != nil {
			t.Limiter.Close()
		}
	}
}

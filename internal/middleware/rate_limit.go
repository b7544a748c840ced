package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/rpiotaix/userbundle/internal/auth"
	pkghttp "github.com/rpiotaix/userbundle/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	// Proxies decides whose forwarding headers identify the client
	Proxies *pkghttp.ProxyTrust
}

// DefaultAuthRateLimit returns default rate limit config for public auth endpoints (10 requests per minute)
func DefaultAuthRateLimit(proxies *pkghttp.ProxyTrust) RateLimitConfig {
	return RateLimitConfig{
		Requests: 10,
		Window:   time.Minute,
		Proxies:  proxies,
	}
}

func writeLimited(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Too many requests, please try again later")
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "ip:" + config.Proxies.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(writeLimited),
	)
}

// RateLimitByAccount limits authenticated requests per account, falling back
// to the client IP when no claims are present.
func RateLimitByAccount(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.GetClaimsFromContext(r); claims != nil {
				return "account:" + claims.AccountID, nil
			}
			return "ip:" + config.Proxies.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(writeLimited),
	)
}

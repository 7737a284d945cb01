package middleware

import (
	"fmt"
	"math"
	"net/http"

	"github.com/sharesync/sharesync/internal/logger"
	"github.com/sharesync/sharesync/pkg/api/auth"
	"github.com/sharesync/sharesync/pkg/api/handlers"
	"github.com/sharesync/sharesync/pkg/ratelimit"
)

// RateLimit admits requests through the given bucket. Denials get 429 with
// a Retry-After advisory. A limiter error fails the request closed with
// 503 rather than silently waving traffic through.
func RateLimit(limiter *ratelimit.Limiter, bucket ratelimit.Bucket) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub := ratelimit.Subject{
				IP:     ratelimit.HashIP(ClientIP(r)),
				UserID: auth.PrincipalFromContext(r.Context()).UserID,
			}

			decision, err := limiter.Allow(r.Context(), bucket, sub)
			if err != nil {
				logger.Error("rate limiter unavailable", "bucket", bucket, "error", err)
				handlers.WriteError(w, http.StatusServiceUnavailable, handlers.CodeUnavailable, "try again later")
				return
			}
			if !decision.Allowed {
				seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
				handlers.WriteError(w, http.StatusTooManyRequests, handlers.CodeRateLimited, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

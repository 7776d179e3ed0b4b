package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/parsegate/parsegate/internal/api"
	"github.com/parsegate/parsegate/internal/ratelimit"
)

type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewRateLimitMiddleware rejects callers that exhausted their per-minute
// window with 429 and the configured limit in the response meta.
func NewRateLimitMiddleware(limiter *ratelimit.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	rm := &RateLimitMiddleware{
		limiter: limiter,
		logger:  logger,
	}

	return rm.middleware
}

func (rm *RateLimitMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ratelimit.ClientIP(r)

		count, allowed := rm.limiter.Allow(r.Context(), ip, time.Now())
		if !allowed {
			rm.logger.Warn("Rate limit exceeded", "ip", ip, "count", count)
			api.WriteError(w, http.StatusTooManyRequests, api.CodeRateLimited, "too many requests", map[string]any{
				"limit_per_minute": rm.limiter.Limit(),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

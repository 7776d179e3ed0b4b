package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/parsegate/parsegate/internal/api"
)

// NewRecoveryMiddleware turns handler panics into a 500 error envelope.
func NewRecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Handler panic",
						"panic", rec,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					api.WriteError(w, http.StatusInternalServerError, api.CodeServerError, "internal server error", nil)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

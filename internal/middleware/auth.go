package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/parsegate/parsegate/internal/api"
	"github.com/parsegate/parsegate/internal/config"
)

type ParseAuthMiddleware struct {
	config *config.Manager
	logger *slog.Logger
}

// NewParseAuthMiddleware gates the parse surface behind the configured
// gateway key. With no key configured the middleware is a pass-through.
func NewParseAuthMiddleware(cfg *config.Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	am := &ParseAuthMiddleware{
		config: cfg,
		logger: logger,
	}

	return am.middleware
}

func (am *ParseAuthMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := am.config.Get().ParseKey
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !keysEqual(presentedKey(r), key) {
			am.logger.Warn("Parse key rejected", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			api.WriteError(w, http.StatusUnauthorized, api.CodeUnauthorized, "valid parse key required", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// presentedKey pulls the caller's key from X-Parse-Key, X-Api-Key, or the
// "key" query parameter, in that order.
func presentedKey(r *http.Request) string {
	if k := r.Header.Get("X-Parse-Key"); k != "" {
		return k
	}
	if k := r.Header.Get("X-Api-Key"); k != "" {
		return k
	}
	return r.URL.Query().Get("key")
}

// keysEqual compares in constant time. Both sides are hashed first so the
// comparison length is fixed and no byte position short-circuits.
func keysEqual(presented, expected string) bool {
	p := sha256.Sum256([]byte(presented))
	e := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(p[:], e[:]) == 1
}

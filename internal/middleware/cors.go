package middleware

import (
	"net/http"
)

const (
	corsAllowHeaders = "Content-Type, X-Api-Key, X-Parse-Key, Authorization"
	corsMaxAge       = "86400"
)

type CORSMiddleware struct {
	allowMethods string
}

// NewCORSMiddleware emits permissive CORS headers on every response and
// short-circuits OPTIONS preflight with 204. allowMethods is surface
// specific ("GET,POST,OPTIONS" for parse, "POST,OPTIONS" for chat).
func NewCORSMiddleware(allowMethods string) func(http.Handler) http.Handler {
	cm := &CORSMiddleware{allowMethods: allowMethods}
	return cm.middleware
}

func (cm *CORSMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", cm.allowMethods)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Max-Age", corsMaxAge)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

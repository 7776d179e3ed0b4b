package middleware

import (
	"log/slog"
	"net/http"

	"github.com/parsegate/parsegate/internal/config"
	"github.com/parsegate/parsegate/internal/ratelimit"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains all configured middleware for easy composition
type MiddlewareSet struct {
	Recovery  Middleware
	CORSParse Middleware
	CORSChat  Middleware
	Logging   Middleware
	ParseAuth Middleware
	RateLimit Middleware
}

// NewMiddlewareSet creates a complete set of middleware with proper dependencies
func NewMiddlewareSet(cfg *config.Manager, limiter *ratelimit.Limiter, logger *slog.Logger) MiddlewareSet {
	return MiddlewareSet{
		Recovery:  NewRecoveryMiddleware(logger),
		CORSParse: NewCORSMiddleware("GET,POST,OPTIONS"),
		CORSChat:  NewCORSMiddleware("POST,OPTIONS"),
		Logging:   NewLoggingMiddleware(logger),
		ParseAuth: NewParseAuthMiddleware(cfg, logger),
		RateLimit: NewRateLimitMiddleware(limiter, logger),
	}
}

// ParseChain returns the middleware chain for the parse endpoint.
func (ms MiddlewareSet) ParseChain() Chain {
	return New(
		ms.Recovery,  // Catch panics first
		ms.CORSParse, // Answer preflight before anything costs
		ms.Logging,   // Log requests
		ms.ParseAuth, // Gateway key check
		ms.RateLimit, // Per-IP window last, so rejects are logged
	)
}

// ChatChain returns the middleware chain for the chat proxy (no gateway
// auth, no rate limit; the upstream keys gate it).
func (ms MiddlewareSet) ChatChain() Chain {
	return New(
		ms.Recovery,
		ms.CORSChat,
		ms.Logging,
	)
}

// HealthChain returns the middleware chain for health-style endpoints.
func (ms MiddlewareSet) HealthChain() Chain {
	return New(
		ms.Recovery,
		ms.CORSParse,
		ms.Logging,
	)
}

// Package router picks the upstream provider for a request and drives
// failover. Premium-tier callers (allow-listed bearer token) get the premium
// provider first but silently degrade to the free pool; free-pool preference
// follows the input language: Chinese-script input prefers provider-a,
// everything else prefers provider-b.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/parsegate/parsegate/internal/cache"
	"github.com/parsegate/parsegate/internal/config"
	"github.com/parsegate/parsegate/internal/upstream"
)

const (
	// PoolStatusKey is the cache key for the readiness snapshot.
	PoolStatusKey = "pool_status_v2"

	poolStatusTTL = 5 * time.Minute
)

// Error codes produced by the router itself.
const (
	CodeFreePoolNotConfigured = "free_pool_not_configured"
	codeNotConfigured         = "not_configured"
)

// Error is a routing failure tagged with the provider that produced it.
type Error struct {
	Code     string
	Message  string
	Provider string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// PoolStatus is the cached free-pool readiness snapshot.
type PoolStatus struct {
	ProviderAReady bool `json:"provider-a.ready"`
	ProviderBReady bool `json:"provider-b.ready"`
}

// Ready reports readiness for a free-pool provider id. Unknown ids are
// never ready.
func (s PoolStatus) Ready(providerID string) bool {
	switch providerID {
	case config.ProviderA:
		return s.ProviderAReady
	case config.ProviderB:
		return s.ProviderBReady
	default:
		return false
	}
}

// Result is a completed routed call.
type Result struct {
	Provider string
	Tier     string
	Model    string
	Usage    upstream.Usage
	Object   any
}

type Router struct {
	config *config.Manager
	store  cache.Store
	client *upstream.Client
	logger *slog.Logger
}

func New(configManager *config.Manager, store cache.Store, client *upstream.Client, logger *slog.Logger) *Router {
	return &Router{
		config: configManager,
		store:  store,
		client: client,
		logger: logger,
	}
}

// Status returns the cached pool snapshot, computing one from live config
// when the cache has none. Only Refresh writes the cache.
func (rt *Router) Status(ctx context.Context) PoolStatus {
	if raw, ok := rt.store.Get(ctx, PoolStatusKey); ok {
		var status PoolStatus
		if err := json.Unmarshal([]byte(raw), &status); err == nil {
			return status
		}
		rt.logger.Warn("Discarding malformed pool status snapshot")
	}

	return rt.liveStatus()
}

// Refresh recomputes the snapshot from live config and stores it.
func (rt *Router) Refresh(ctx context.Context) PoolStatus {
	status := rt.liveStatus()

	if data, err := json.Marshal(status); err == nil {
		rt.store.Set(ctx, PoolStatusKey, string(data), poolStatusTTL)
	}

	return status
}

func (rt *Router) liveStatus() PoolStatus {
	cfg := rt.config.Get()
	return PoolStatus{
		ProviderAReady: cfg.ProviderA.Configured(),
		ProviderBReady: cfg.ProviderB.Configured(),
	}
}

// Complete routes one buffered JSON-mode completion. The bearer token, when
// allow-listed, unlocks the premium provider; premium failures never become
// the final answer while the free pool can still serve.
func (rt *Router) Complete(ctx context.Context, token, systemText, userText string) (*Result, error) {
	cfg := rt.config.Get()

	if cfg.IsAllowedToken(token) && cfg.Premium.Configured() {
		reply, err := rt.client.Complete(ctx, cfg.Premium.Endpoint(), cfg.Premium.APIKey, cfg.Premium.Model, systemText, userText)
		if err == nil {
			return &Result{
				Provider: cfg.Premium.ID,
				Tier:     config.TierPremium,
				Model:    reply.Model,
				Usage:    reply.Usage,
				Object:   reply.Object,
			}, nil
		}
		rt.logger.Warn("Premium call failed, falling back to free pool", "error", err)
	}

	status := rt.Status(ctx)

	order := []config.Provider{cfg.ProviderA, cfg.ProviderB}
	if !ContainsChinese(userText) {
		order = []config.Provider{cfg.ProviderB, cfg.ProviderA}
	}

	var lastErr *Error
	sentinels := 0

	for _, p := range order {
		if !p.Configured() || !status.Ready(p.ID) {
			sentinels++
			lastErr = &Error{Code: codeNotConfigured, Provider: p.ID}
			continue
		}

		reply, err := rt.client.Complete(ctx, p.Endpoint(), p.APIKey, p.Model, systemText, userText)
		if err == nil {
			return &Result{
				Provider: p.ID,
				Tier:     config.TierFree,
				Model:    reply.Model,
				Usage:    reply.Usage,
				Object:   reply.Object,
			}, nil
		}

		rt.logger.Warn("Free pool call failed", "provider", p.ID, "error", err)

		var callErr *upstream.Error
		if errors.As(err, &callErr) {
			lastErr = &Error{Code: callErr.Code, Message: callErr.Message, Provider: p.ID}
		} else {
			lastErr = &Error{Code: "upstream_unreachable", Message: err.Error(), Provider: p.ID}
		}
	}

	if sentinels == len(order) {
		return nil, &Error{Code: CodeFreePoolNotConfigured}
	}

	return nil, lastErr
}

// ContainsChinese reports whether s carries any CJK unified ideograph
// (U+4E00..U+9FFF).
func ContainsChinese(s string) bool {
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FFF {
			return true
		}
	}
	return false
}

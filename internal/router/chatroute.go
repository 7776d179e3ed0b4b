package router

import (
	"context"
	"strings"

	"github.com/parsegate/parsegate/internal/config"
)

// ChatRoute is the provider and rewritten model for one chat-completions
// request. The chat surface is free-pool-only; premium is never routed here.
type ChatRoute struct {
	Provider config.Provider
	Model    string
}

// RouteChat maps the requested model onto a free-pool provider:
//
//	model mentions "deepseek"  -> provider-a, its default model
//	model mentions "llama"     -> provider-b, its default model
//	input has Chinese script   -> provider-a, echoing the requested model
//	otherwise                  -> provider-b, echoing the requested model
//
// An empty requested model falls back to the chosen provider's default.
// When the preferred provider is not ready and the alternate is, the route
// switches; if neither is ready the second return is false.
func (rt *Router) RouteChat(ctx context.Context, requestedModel, inputText string) (ChatRoute, bool) {
	cfg := rt.config.Get()
	status := rt.Status(ctx)

	var (
		preferred, alternate config.Provider
		model                string
		echoed               bool
	)

	lower := strings.ToLower(requestedModel)
	switch {
	case strings.Contains(lower, "deepseek"):
		preferred, alternate = cfg.ProviderA, cfg.ProviderB
		model = cfg.ProviderA.Model
	case strings.Contains(lower, "llama"):
		preferred, alternate = cfg.ProviderB, cfg.ProviderA
		model = cfg.ProviderB.Model
	case ContainsChinese(inputText):
		preferred, alternate = cfg.ProviderA, cfg.ProviderB
		model, echoed = echoOrDefault(requestedModel, cfg.ProviderA)
	default:
		preferred, alternate = cfg.ProviderB, cfg.ProviderA
		model, echoed = echoOrDefault(requestedModel, cfg.ProviderB)
	}

	if status.Ready(preferred.ID) {
		return ChatRoute{Provider: preferred, Model: model}, true
	}

	if status.Ready(alternate.ID) {
		if !echoed {
			model = alternate.Model
		}
		return ChatRoute{Provider: alternate, Model: model}, true
	}

	return ChatRoute{}, false
}

func echoOrDefault(requested string, p config.Provider) (model string, echoed bool) {
	if requested != "" {
		return requested, true
	}
	return p.Model, false
}

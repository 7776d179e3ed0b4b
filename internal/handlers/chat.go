package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/parsegate/parsegate/internal/api"
	"github.com/parsegate/parsegate/internal/auditlog"
	"github.com/parsegate/parsegate/internal/config"
	"github.com/parsegate/parsegate/internal/ratelimit"
	"github.com/parsegate/parsegate/internal/router"
	"github.com/parsegate/parsegate/internal/stream"
	"github.com/parsegate/parsegate/internal/upstream"
)

// ChatHandler proxies OpenAI-compatible chat completions to the free pool.
// Buffered replies are relayed verbatim; stream:true switches to the
// transparent SSE relay. There is no gateway-level auth on this surface.
type ChatHandler struct {
	config *config.Manager
	router *router.Router
	logs   *auditlog.Logs
	client *http.Client
	logger *slog.Logger
}

func NewChatHandler(cfg *config.Manager, rt *router.Router, logs *auditlog.Logs, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		config: cfg,
		router: rt,
		logs:   logs,
		client: upstream.NewHTTPClient(upstream.ChatTimeout),
		logger: logger,
	}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		api.WriteError(w, http.StatusMethodNotAllowed, api.CodeMethodNotAllowed, "use POST", nil)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeEmptyPayload, "unreadable request body", nil)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeParseFailed, "invalid JSON body", nil)
		return
	}

	requestedModel, _ := payload["model"].(string)
	streaming, _ := payload["stream"].(bool)
	inputText := messagesText(payload)

	route, ok := h.router.RouteChat(r.Context(), requestedModel, inputText)
	if !ok {
		h.appendAccess(auditlog.AccessRecord{
			TS:             time.Now().UTC().Format(time.RFC3339),
			StatusCode:     http.StatusServiceUnavailable,
			FirstByteMS:    -1,
			TotalLatencyMS: time.Since(start).Milliseconds(),
			Path:           r.URL.Path,
			Stream:         streaming,
			IP:             ratelimit.ClientIP(r),
			Note:           "no provider ready",
		})

		if streaming {
			w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache, no-transform")
			w.WriteHeader(http.StatusServiceUnavailable)
			stream.WriteErrorEvents(w, "service_unavailable")
			return
		}
		api.WriteError(w, http.StatusServiceUnavailable, api.CodeServiceUnavailable, "no upstream provider is ready", nil)
		return
	}

	payload["model"] = route.Model
	upstreamBody, err := json.Marshal(payload)
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, api.CodeJSONEncodeFailed, "request re-encoding failed", nil)
		return
	}

	h.logger.Info("Proxying chat request",
		"provider", route.Provider.ID,
		"model", route.Model,
		"stream", streaming,
	)

	if streaming {
		outcome := stream.Proxy(r.Context(), w, stream.Options{
			Endpoint: route.Provider.Endpoint(),
			APIKey:   route.Provider.APIKey,
			Body:     upstreamBody,
			Start:    start,
		}, h.logger)

		h.appendAccess(auditlog.AccessRecord{
			TS:             time.Now().UTC().Format(time.RFC3339),
			Provider:       route.Provider.ID,
			StatusCode:     outcome.StatusCode,
			FirstByteMS:    outcome.FirstByteMS,
			TotalLatencyMS: outcome.TotalMS,
			Path:           r.URL.Path,
			Stream:         true,
			IP:             ratelimit.ClientIP(r),
			Note:           outcome.Note,
		})
		return
	}

	h.relayBuffered(w, r, route, upstreamBody, start)
}

// relayBuffered performs the single non-stream upstream call and copies
// status, content type, and body through unchanged.
func (h *ChatHandler) relayBuffered(w http.ResponseWriter, r *http.Request, route router.ChatRoute, body []byte, start time.Time) {
	record := auditlog.AccessRecord{
		Provider:    route.Provider.ID,
		FirstByteMS: -1,
		Path:        r.URL.Path,
		IP:          ratelimit.ClientIP(r),
	}
	defer func() {
		record.TS = time.Now().UTC().Format(time.RFC3339)
		record.TotalLatencyMS = time.Since(start).Milliseconds()
		h.appendAccess(record)
	}()

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, route.Provider.Endpoint(), bytes.NewReader(body))
	if err != nil {
		record.StatusCode = http.StatusBadGateway
		record.Note = "bad upstream request"
		api.WriteError(w, http.StatusBadGateway, api.CodeAICallFailed, "upstream request could not be built", nil)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+route.Provider.APIKey)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Error("Upstream chat call failed", "provider", route.Provider.ID, "error", err)
		record.StatusCode = http.StatusBadGateway
		record.Note = "upstream unreachable"
		api.WriteError(w, http.StatusBadGateway, api.CodeAICallFailed, "upstream call failed", nil)
		return
	}
	defer resp.Body.Close()

	record.StatusCode = resp.StatusCode
	record.FirstByteMS = time.Since(start).Milliseconds()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		record.Note = "upstream read error"
		api.WriteError(w, http.StatusBadGateway, api.CodeAICallFailed, "upstream response could not be read", nil)
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
}

func (h *ChatHandler) appendAccess(record auditlog.AccessRecord) {
	h.logs.Access.Append(record)
}

// messagesText flattens the request's message contents for the language
// routing heuristic. Only plain string contents count.
func messagesText(payload map[string]any) string {
	messages, ok := payload["messages"].([]any)
	if !ok {
		return ""
	}

	var b bytes.Buffer
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if content, ok := msg["content"].(string); ok {
			b.WriteString(content)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parsegate/parsegate/internal/api"
	"github.com/parsegate/parsegate/internal/auditlog"
	"github.com/parsegate/parsegate/internal/config"
	"github.com/parsegate/parsegate/internal/contract"
	"github.com/parsegate/parsegate/internal/parsers"
	"github.com/parsegate/parsegate/internal/prompt"
	"github.com/parsegate/parsegate/internal/ratelimit"
	"github.com/parsegate/parsegate/internal/router"
	"github.com/parsegate/parsegate/internal/upstream"
)

// maxInputBytes is the parse input ceiling (256 KiB).
const maxInputBytes = 262144

var errPayloadTooLarge = errors.New("payload too large")

type parseParams struct {
	mode        string
	targetLang  string
	instruction string
	data        string
	rawURL      string
}

// ParseHandler is the orchestrator behind POST|GET /v1/parse: it resolves
// the mode, runs the attempt cascade, and emits the response envelope plus
// one monetization log line per request.
type ParseHandler struct {
	config  *config.Manager
	router  *router.Router
	logs    *auditlog.Logs
	fetcher *http.Client
	logger  *slog.Logger
}

func NewParseHandler(cfg *config.Manager, rt *router.Router, logs *auditlog.Logs, logger *slog.Logger) *ParseHandler {
	return &ParseHandler{
		config:  cfg,
		router:  rt,
		logs:    logs,
		fetcher: upstream.NewHTTPClient(upstream.ParseTimeout),
		logger:  logger,
	}
}

// outcome accumulates what a request did for the envelope and the
// monetization record.
type outcome struct {
	requestID    string
	mode         string
	resolvedMode string
	inputBytes   int
	route        *router.Result
	errorCode    string
}

func (h *ParseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	out := &outcome{requestID: uuid.NewString()}
	clientIP := ratelimit.ClientIP(r)

	defer func() {
		rec := auditlog.MonetizationRecord{
			TS:           time.Now().UTC().Format(time.RFC3339),
			RequestID:    out.requestID,
			OK:           out.errorCode == "",
			Mode:         out.mode,
			ResolvedMode: out.resolvedMode,
			ClientIP:     clientIP,
			InputBytes:   out.inputBytes,
			DurationMS:   time.Since(start).Milliseconds(),
			ErrorCode:    out.errorCode,
		}
		if out.route != nil {
			rec.InputTokens = out.route.Usage.PromptTokens
			rec.OutputTokens = out.route.Usage.CompletionTokens
			rec.Provider = out.route.Provider
			rec.Tier = out.route.Tier
			rec.Model = out.route.Model
		}
		h.logs.Monetization.Append(rec)
	}()

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		out.errorCode = api.CodeMethodNotAllowed
		api.WriteError(w, http.StatusMethodNotAllowed, api.CodeMethodNotAllowed, "use GET or POST", nil)
		return
	}

	params, err := h.readParams(r)
	if err != nil {
		if errors.Is(err, errPayloadTooLarge) {
			out.errorCode = api.CodePayloadTooLarge
			api.WriteError(w, http.StatusRequestEntityTooLarge, api.CodePayloadTooLarge,
				fmt.Sprintf("input exceeds %d bytes", maxInputBytes), nil)
			return
		}
		out.errorCode = api.CodeEmptyPayload
		api.WriteError(w, http.StatusBadRequest, api.CodeEmptyPayload, "unreadable request body", nil)
		return
	}
	out.mode = params.mode

	targetLang, ok := normalizeTargetLang(params.targetLang)
	if !ok {
		out.errorCode = api.CodeInvalidTargetLang
		api.WriteError(w, http.StatusBadRequest, api.CodeInvalidTargetLang,
			"target_lang accepts only zh (aliases: zh-cn, zh-hans, cn)", nil)
		return
	}

	mode, ok := ParseModeName(params.mode)
	if !ok || !h.modeSupported(mode) {
		out.errorCode = api.CodeInvalidMode
		api.WriteError(w, http.StatusBadRequest, api.CodeInvalidMode,
			fmt.Sprintf("unknown mode %q", params.mode), nil)
		return
	}
	out.mode = mode.String()

	input := params.data
	if input == "" && params.rawURL != "" {
		input, err = h.fetchURL(r, params.rawURL)
		if err != nil {
			h.logger.Warn("Input URL fetch failed", "url", params.rawURL, "error", err)
			out.errorCode = api.CodeURLFetchFailed
			api.WriteError(w, http.StatusBadGateway, api.CodeURLFetchFailed, "could not fetch input url", nil)
			return
		}
	}

	if strings.TrimSpace(input) == "" {
		out.errorCode = api.CodeEmptyPayload
		api.WriteError(w, http.StatusBadRequest, api.CodeEmptyPayload, "no input data", nil)
		return
	}
	out.inputBytes = len(input)

	if len(input) > maxInputBytes {
		out.errorCode = api.CodePayloadTooLarge
		api.WriteError(w, http.StatusRequestEntityTooLarge, api.CodePayloadTooLarge,
			fmt.Sprintf("input exceeds %d bytes", maxInputBytes), nil)
		return
	}

	value, ok := h.runCascade(w, r, mode, params, targetLang, input, out)
	if !ok {
		// runCascade already wrote the error response.
		return
	}

	meta := map[string]any{
		"mode":        out.resolvedMode,
		"input_bytes": out.inputBytes,
	}
	if params.rawURL != "" {
		meta["url"] = params.rawURL
	}
	if targetLang != "" {
		meta["target_lang"] = targetLang
	}
	if out.route != nil {
		meta["deepseek"] = map[string]any{
			"provider":      out.route.Provider,
			"tier":          out.route.Tier,
			"input_tokens":  out.route.Usage.PromptTokens,
			"output_tokens": out.route.Usage.CompletionTokens,
			"model":         out.route.Model,
		}
	}

	api.WriteJSON(w, http.StatusOK, api.Envelope{
		OK:        true,
		RequestID: out.requestID,
		TS:        time.Now().Unix(),
		Data:      value,
		Meta:      meta,
	})
}

// runCascade walks the mode's attempt list. Local parser failures are
// swallowed so the next attempt runs; upstream failures abort unless they
// are the not-configured sentinel inside auto mode.
func (h *ParseHandler) runCascade(w http.ResponseWriter, r *http.Request, mode Mode, params parseParams, targetLang, input string, out *outcome) (any, bool) {
	for _, att := range mode.cascade() {
		switch att {
		case attemptJSON:
			if v, ok := parsers.JSON(input); ok {
				out.resolvedMode = "json"
				return v, true
			}
		case attemptQuery:
			if v, ok := parsers.Query(input); ok {
				out.resolvedMode = "query"
				return v, true
			}
		case attemptKV:
			if v, ok := parsers.KVLines(input); ok {
				out.resolvedMode = "kv"
				return v, true
			}
		case attemptCSV:
			if v, ok := parsers.CSV(input); ok {
				out.resolvedMode = "csv"
				return v, true
			}
		case attemptUpstream:
			v, done, ok := h.attemptUpstream(w, r, mode, params, targetLang, input, out)
			if done {
				return v, ok
			}
			// Sentinel swallowed: keep cascading.
		}
	}

	out.errorCode = api.CodeParseFailed
	api.WriteError(w, http.StatusBadRequest, api.CodeParseFailed, "no parser accepted the input", nil)
	return nil, false
}

// attemptUpstream runs the LLM leg of the cascade. done=false means the
// failure was the not-configured sentinel in auto mode and the cascade
// should continue.
func (h *ParseHandler) attemptUpstream(w http.ResponseWriter, r *http.Request, mode Mode, params parseParams, targetLang, input string, out *outcome) (any, bool, bool) {
	kind := mode.contractKind()

	systemText := prompt.For(kind)
	if !mode.forcesPrompt() && strings.TrimSpace(params.instruction) != "" {
		systemText = prompt.Align(params.instruction)
	}
	if targetLang == "zh" {
		systemText += "\n\ntarget_lang=zh"
	}

	res, err := h.router.Complete(r.Context(), bearerToken(r), systemText, input)
	if err != nil {
		var routeErr *router.Error
		if errors.As(err, &routeErr) && routeErr.Code == router.CodeFreePoolNotConfigured {
			if mode == ModeAuto {
				return nil, false, false
			}
			out.errorCode = api.CodeAICallFailed
			api.WriteError(w, http.StatusBadGateway, api.CodeAICallFailed, "deepseek_not_configured", nil)
			return nil, true, false
		}

		out.errorCode = api.CodeAICallFailed
		api.WriteError(w, http.StatusBadGateway, api.CodeAICallFailed, err.Error(), nil)
		return nil, true, false
	}
	out.route = res

	if missing := contract.Validate(kind, res.Object); len(missing) > 0 {
		out.errorCode = api.CodeContractViolation
		api.WriteError(w, http.StatusUnprocessableEntity, api.CodeContractViolation,
			"missing: "+strings.Join(missing, ","), nil)
		return nil, true, false
	}

	out.resolvedMode = mode.String()
	return res.Object, true, true
}

func (h *ParseHandler) modeSupported(mode Mode) bool {
	supported := h.config.Get().SupportedModes
	if len(supported) == 0 {
		return true
	}
	for _, name := range supported {
		if name == mode.String() {
			return true
		}
	}
	return false
}

// readParams merges query parameters with the request body. A POST body is
// either a parameter carrier (form encoding, or JSON mentioning the
// parameter names) or the raw input itself.
func (h *ParseHandler) readParams(r *http.Request) (parseParams, error) {
	q := r.URL.Query()
	p := parseParams{
		mode:        q.Get("mode"),
		targetLang:  q.Get("target_lang"),
		instruction: q.Get("instruction"),
		data:        q.Get("data"),
		rawURL:      q.Get("url"),
	}

	if r.Method != http.MethodPost || r.Body == nil {
		return p, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInputBytes+1))
	if err != nil {
		return p, fmt.Errorf("read request body: %w", err)
	}
	if len(body) > maxInputBytes {
		return p, errPayloadTooLarge
	}
	if len(body) == 0 {
		return p, nil
	}

	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/x-www-form-urlencoded"):
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return p, nil
		}
		mergeParam(&p.mode, form.Get("mode"))
		mergeParam(&p.targetLang, form.Get("target_lang"))
		mergeParam(&p.instruction, form.Get("instruction"))
		mergeParam(&p.data, form.Get("data"))
		mergeParam(&p.rawURL, form.Get("url"))
	case strings.HasPrefix(contentType, "application/json"):
		var obj map[string]any
		if json.Unmarshal(body, &obj) == nil && carriesParams(obj) {
			mergeParam(&p.mode, stringField(obj, "mode"))
			mergeParam(&p.targetLang, stringField(obj, "target_lang"))
			mergeParam(&p.instruction, stringField(obj, "instruction"))
			mergeParam(&p.rawURL, stringField(obj, "url"))
			if p.data == "" {
				p.data = dataField(obj)
			}
		} else if p.data == "" {
			p.data = string(body)
		}
	default:
		if p.data == "" {
			p.data = string(body)
		}
	}

	return p, nil
}

func mergeParam(dst *string, value string) {
	if *dst == "" && value != "" {
		*dst = value
	}
}

// carriesParams reports whether a JSON body addresses the parse API itself
// rather than being payload. Bodies without any parameter name are input.
func carriesParams(obj map[string]any) bool {
	for _, key := range []string{"mode", "target_lang", "instruction", "data", "url"} {
		if _, ok := obj[key]; ok {
			return true
		}
	}
	return false
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// dataField accepts both a string payload and an embedded JSON value, which
// is re-serialized so the cascade sees it as JSON text.
func dataField(obj map[string]any) string {
	v, ok := obj["data"]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

// normalizeTargetLang folds the accepted Chinese aliases onto "zh". Any
// other non-empty value is a validation error.
func normalizeTargetLang(lang string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "":
		return "", true
	case "zh", "zh-cn", "zh-hans", "cn":
		return "zh", true
	default:
		return "", false
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// fetchURL pulls remote input for requests that pass url instead of data.
// The fetch shares the parse attempt budget and the input size ceiling.
func (h *ParseHandler) fetchURL(r *http.Request, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := h.fetcher.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInputBytes+1))
	if err != nil {
		return "", err
	}
	if len(body) > maxInputBytes {
		return "", errPayloadTooLarge
	}

	return string(body), nil
}

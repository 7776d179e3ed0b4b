// Package stream relays an upstream SSE response to the client without
// touching the framing: bytes are copied chunk by chunk with a flush after
// each write. The one exception is an upstream error status, in which case
// the body is withheld and the client receives a well-formed SSE error
// event pair instead of a dead connection.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/parsegate/parsegate/internal/upstream"
)

const (
	chunkSize = 4096

	// maxErrorBody caps the buffered upstream error body.
	maxErrorBody = 64 * 1024

	// FallbackErrorMessage is used when the upstream error body carries no
	// error.message.
	FallbackErrorMessage = "Upstream error"
)

// Options describes one streaming relay.
type Options struct {
	Endpoint string
	APIKey   string
	// Body is the client's request body, already rewritten (model mapping,
	// stream flag) by the gateway.
	Body []byte
	// Start is when the gateway accepted the client request; first-byte
	// latency is measured against it.
	Start time.Time
}

// Outcome reports what happened for access logging.
type Outcome struct {
	// StatusCode is the upstream status, or 502 when the upstream was
	// never reached.
	StatusCode int
	// FirstByteMS is the latency to the first upstream chunk; -1 if no
	// chunk arrived.
	FirstByteMS int64
	TotalMS     int64
	// Note carries a short diagnostic for non-clean endings.
	Note string
}

type sseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type sseErrorEnvelope struct {
	Error sseError `json:"error"`
}

// Proxy opens the upstream stream and relays it. SSE headers are written
// and flushed before the upstream is contacted, so every failure mode after
// that point is delivered as SSE events, never as a bare disconnect.
func Proxy(ctx context.Context, w http.ResponseWriter, opts Options, logger *slog.Logger) Outcome {
	outcome := Outcome{StatusCode: http.StatusBadGateway, FirstByteMS: -1}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flush(w)

	// Streams run as long as the upstream keeps talking; only the
	// per-write deadline is lifted, the dial timeout still applies.
	rc := http.NewResponseController(w)
	rc.SetWriteDeadline(time.Time{})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.Endpoint, bytes.NewReader(opts.Body))
	if err != nil {
		outcome.Note = "bad upstream request: " + err.Error()
		writeSSEErrorEvents(w, FallbackErrorMessage)
		outcome.TotalMS = time.Since(opts.Start).Milliseconds()
		return outcome
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+opts.APIKey)
	req.Header.Set("Accept", "text/event-stream")
	// The relay is byte-exact, so the upstream must not compress.
	req.Header.Set("Accept-Encoding", "identity")

	client := upstream.NewHTTPClient(0)
	resp, err := client.Do(req)
	if err != nil {
		logger.Error("Upstream stream connect failed", "endpoint", opts.Endpoint, "error", err)
		outcome.Note = "connect failed"
		writeSSEErrorEvents(w, FallbackErrorMessage)
		outcome.TotalMS = time.Since(opts.Start).Milliseconds()
		return outcome
	}
	defer resp.Body.Close()

	outcome.StatusCode = resp.StatusCode
	upstreamFailed := resp.StatusCode >= 400

	var errorBody bytes.Buffer
	buf := make([]byte, chunkSize)

	for {
		n, readErr := resp.Body.Read(buf)

		if n > 0 {
			if outcome.FirstByteMS < 0 {
				outcome.FirstByteMS = time.Since(opts.Start).Milliseconds()
			}

			if upstreamFailed {
				if errorBody.Len() < maxErrorBody {
					errorBody.Write(buf[:n])
				}
			} else {
				if _, writeErr := w.Write(buf[:n]); writeErr != nil {
					// Client went away; closing the upstream body on
					// return is the only cleanup needed.
					outcome.Note = "client disconnected"
					outcome.TotalMS = time.Since(opts.Start).Milliseconds()
					return outcome
				}
				flush(w)
			}
		}

		if readErr != nil {
			if readErr != io.EOF {
				logger.Error("Upstream stream read failed", "endpoint", opts.Endpoint, "error", readErr)
				outcome.Note = "upstream read error"
				if !upstreamFailed {
					writeSSEErrorEvents(w, FallbackErrorMessage)
				}
			}
			break
		}
	}

	if upstreamFailed {
		writeSSEErrorEvents(w, extractErrorMessage(errorBody.Bytes()))
	}

	outcome.TotalMS = time.Since(opts.Start).Milliseconds()
	return outcome
}

// WriteErrorEvents emits the standard SSE failure pair on a response that
// already carries SSE headers. Used by the chat gateway when routing fails
// before any upstream is contacted.
func WriteErrorEvents(w http.ResponseWriter, message string) {
	writeSSEErrorEvents(w, message)
}

func writeSSEErrorEvents(w http.ResponseWriter, message string) {
	payload, err := json.Marshal(sseErrorEnvelope{Error: sseError{
		Message: message,
		Type:    "server_error",
		Code:    "upstream_error",
	}})
	if err != nil {
		payload = []byte(`{"error":{"message":"Upstream error","type":"server_error","code":"upstream_error"}}`)
	}

	fmt.Fprintf(w, "data: %s\n\n", payload)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flush(w)
}

// extractErrorMessage pulls error.message out of a buffered upstream error
// body, falling back to the canonical message.
func extractErrorMessage(body []byte) string {
	var envelope sseErrorEnvelope
	if err := json.Unmarshal(bytes.TrimSpace(body), &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return FallbackErrorMessage
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

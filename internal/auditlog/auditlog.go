// Package auditlog appends the gateway's two JSONL logs: the monetization
// log (one line per parse request) and the access log (one line per upstream
// proxy call). Lines are written whole under an exclusive advisory lock so
// concurrent processes sharing a file never interleave.
package auditlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

const (
	// DefaultDir is where log files land relative to the working directory.
	DefaultDir = "runtime/log"

	MonetizationFilename = "ps_parse.log"
	AccessFilename       = "api_access.log"

	dirMode = 0755
)

// MonetizationRecord is one parse request, success or failure.
type MonetizationRecord struct {
	TS           string `json:"ts"`
	RequestID    string `json:"request_id"`
	OK           bool   `json:"ok"`
	Mode         string `json:"mode"`
	ResolvedMode string `json:"resolved_mode"`
	ClientIP     string `json:"client_ip"`
	InputBytes   int    `json:"input_bytes"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Provider     string `json:"provider"`
	Tier         string `json:"tier"`
	Model        string `json:"model"`
	DurationMS   int64  `json:"duration_ms"`
	ErrorCode    string `json:"error_code"`
}

// AccessRecord is one upstream proxy call on the chat surface.
type AccessRecord struct {
	TS             string `json:"ts"`
	Provider       string `json:"provider"`
	StatusCode     int    `json:"status_code"`
	FirstByteMS    int64  `json:"first_byte_ms"`
	TotalLatencyMS int64  `json:"total_latency_ms"`
	Path           string `json:"path"`
	Stream         bool   `json:"stream"`
	IP             string `json:"ip"`
	Note           string `json:"note,omitempty"`
}

// Writer appends JSON lines to a single file, creating the directory on
// first use.
type Writer struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

func NewWriter(path string, logger *slog.Logger) *Writer {
	return &Writer{path: path, logger: logger}
}

// Append marshals record and writes it as one line. Failures are logged and
// swallowed: audit logging must never fail a request.
func (w *Writer) Append(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		w.logger.Error("Failed to marshal audit record", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writeLine(data); err != nil {
		w.logger.Error("Failed to append audit record", "path", w.path, "error", err)
	}
}

func (w *Writer) writeLine(line []byte) error {
	if w.file == nil {
		if err := os.MkdirAll(filepath.Dir(w.path), dirMode); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}

		f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w.file = f
	}

	// Advisory lock guards against interleaving with other gateway
	// processes appending to the same file.
	fd := int(w.file.Fd())
	if err := syscall.Flock(fd, syscall.LOCK_EX); err == nil {
		defer syscall.Flock(fd, syscall.LOCK_UN)
	}

	_, err := w.file.Write(append(line, '\n'))
	return err
}

// Close releases the file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Logs bundles the two writers the handlers need.
type Logs struct {
	Monetization *Writer
	Access       *Writer
}

// Open creates both writers under dir (DefaultDir when empty).
func Open(dir string, logger *slog.Logger) *Logs {
	if dir == "" {
		dir = DefaultDir
	}
	return &Logs{
		Monetization: NewWriter(filepath.Join(dir, MonetizationFilename), logger),
		Access:       NewWriter(filepath.Join(dir, AccessFilename), logger),
	}
}

// Close closes both writers.
func (l *Logs) Close() {
	l.Monetization.Close()
	l.Access.Close()
}

// Package upstream speaks OpenAI-compatible chat completions to a provider
// endpoint. The buffered client is used by the parse surface, which always
// needs the reply re-parsed as a JSON object; the chat surface relays raw
// bytes and only borrows the HTTP client construction from here.
package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/pkoukk/tiktoken-go"
)

const (
	ConnectTimeout = 8 * time.Second

	// ParseTimeout bounds a buffered parse call end to end.
	ParseTimeout = 20 * time.Second
	// ChatTimeout bounds a buffered chat relay end to end.
	ChatTimeout = 30 * time.Second

	requestTemperature = 0.2
)

// Error codes produced by Complete.
const (
	CodeContentNotJSON = "model_content_not_json_object"
)

// Error is a call failure with a stable machine-readable code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Usage mirrors the OpenAI usage block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Reply is a successful buffered completion.
type Reply struct {
	Model string
	Usage Usage
	// Object is the model's message content re-parsed as JSON.
	Object any
}

// NewHTTPClient builds a client with the gateway's connect timeout and the
// given total timeout. A zero total leaves the call unbounded (streaming).
func NewHTTPClient(total time.Duration) *http.Client {
	return &http.Client{
		Timeout: total,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: ConnectTimeout}).DialContext,
		},
	}
}

type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func New(logger *slog.Logger) *Client {
	return &Client{
		httpClient: NewHTTPClient(ParseTimeout),
		logger:     logger,
	}
}

type chatRequest struct {
	Model          string         `json:"model"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
	Messages       []chatMessage  `json:"messages"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete performs one buffered JSON-mode chat call and re-parses the
// model's message content as JSON.
func (c *Client) Complete(ctx context.Context, endpoint, apiKey, model, systemText, userText string) (*Reply, error) {
	payload, err := json.Marshal(chatRequest{
		Model:          model,
		Temperature:    requestTemperature,
		ResponseFormat: responseFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: systemText},
			{Role: "user", Content: userText},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyReader, err := decompressReader(resp)
	if err != nil {
		return nil, fmt.Errorf("decompression error: %w", err)
	}
	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	body, err := io.ReadAll(bodyReader)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	var parsed chatResponse
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code := fmt.Sprintf("http_%d", resp.StatusCode)
		if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
			return nil, &Error{Code: code, Message: parsed.Error.Message}
		}
		return nil, &Error{Code: code}
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{Code: CodeContentNotJSON, Message: "upstream response is not valid JSON"}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{Code: CodeContentNotJSON, Message: "upstream response carries no choices"}
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)

	var object any
	if err := json.Unmarshal([]byte(content), &object); err != nil {
		c.logger.Warn("Model content failed JSON re-parse",
			"model", model,
			"content_bytes", len(content),
		)
		return nil, &Error{Code: CodeContentNotJSON}
	}

	usage := parsed.Usage
	if usage.PromptTokens == 0 {
		usage.PromptTokens = EstimateTokens(systemText + userText)
	}

	replyModel := parsed.Model
	if replyModel == "" {
		replyModel = model
	}

	return &Reply{Model: replyModel, Usage: usage, Object: object}, nil
}

// EstimateTokens approximates the token count of text with the cl100k_base
// encoding, used when an upstream reply carries no usage block.
func EstimateTokens(text string) int {
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0
	}
	return len(tke.Encode(text, nil, nil))
}

func decompressReader(resp *http.Response) (io.Reader, error) {
	var bodyReader io.Reader = resp.Body

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		bodyReader = gzipReader
	case "br":
		bodyReader = brotli.NewReader(resp.Body)
	}

	return bodyReader, nil
}

package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parsegate/parsegate/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newGateway builds the full middleware+handler tree on an httptest server.
func newGateway(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()

	m := config.NewManager(t.TempDir())
	require.NoError(t, m.Save(cfg))
	_, err := m.Load()
	require.NoError(t, err)

	s := New(m, t.TempDir(), testLogger())
	srv := httptest.NewServer(s.setupRoutes())
	t.Cleanup(srv.Close)
	t.Cleanup(s.logs.Close)
	return srv
}

func TestGateway_ParseEndToEnd(t *testing.T) {
	srv := newGateway(t, &config.Config{})

	resp, err := http.Post(srv.URL+"/v1/parse?mode=auto", "application/json", strings.NewReader(`{"a":1,"b":[true,null]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, true, envelope["ok"])

	meta, _ := envelope["meta"].(map[string]any)
	assert.Equal(t, "json", meta["mode"])
}

func TestGateway_Health(t *testing.T) {
	srv := newGateway(t, &config.Config{})

	resp, err := http.Get(srv.URL + "/v1/parse/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"service":"api.v1.parse"`)
}

func TestGateway_Preflight(t *testing.T) {
	srv := newGateway(t, &config.Config{})

	for path, methods := range map[string]string{
		"/v1/parse":            "GET,POST,OPTIONS",
		"/v1/chat/completions": "POST,OPTIONS",
	} {
		req, _ := http.NewRequest(http.MethodOptions, srv.URL+path, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode, path)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"), path)
		assert.Equal(t, methods, resp.Header.Get("Access-Control-Allow-Methods"), path)
	}
}

func TestGateway_RateLimit(t *testing.T) {
	srv := newGateway(t, &config.Config{RateLimitPerMinute: 2})

	// S6: with limit 2, the third request in a minute gets 429.
	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/parse?mode=json", strings.NewReader(`{"k":1}`))
		req.Header.Set("X-Real-IP", "1.2.3.4")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
}

func TestGateway_ParseKeyGate(t *testing.T) {
	srv := newGateway(t, &config.Config{ParseKey: "gate"})

	resp, err := http.Post(srv.URL+"/v1/parse?mode=json", "application/json", strings.NewReader(`{"k":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/parse?mode=json", strings.NewReader(`{"k":1}`))
	req.Header.Set("X-Parse-Key", "gate")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open.
	resp, err = http.Get(srv.URL + "/v1/parse/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGateway_PoolStatus(t *testing.T) {
	srv := newGateway(t, &config.Config{
		ProviderA: config.Provider{APIKey: "ka"},
	})

	resp, err := http.Get(srv.URL + "/v1/parse/pool_status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	data, _ := envelope["data"].(map[string]any)
	assert.Equal(t, true, data["free_pool_ready"])
	assert.Equal(t, false, data["provider_b_ready"])
	assert.Equal(t, false, data["premium_ready"])
}

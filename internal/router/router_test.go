package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parsegate/parsegate/internal/cache"
	"github.com/parsegate/parsegate/internal/config"
	"github.com/parsegate/parsegate/internal/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeUpstream returns an OpenAI-compatible completion server whose replies
// carry the given marker in the extracted object.
func fakeUpstream(t *testing.T, marker string, status int) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if status >= 400 {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"upstream says no"}}`))
			return
		}

		content, _ := json.Marshal(map[string]any{
			"schema_version": "v1",
			"extracted":      map[string]any{"served_by": marker},
			"confidence":     0.9,
		})
		json.NewEncoder(w).Encode(map[string]any{
			"model": marker + "-model",
			"usage": map[string]any{"prompt_tokens": 5, "completion_tokens": 7, "total_tokens": 12},
			"choices": []any{
				map[string]any{"message": map[string]any{"content": string(content)}},
			},
		})
	}))
}

func managerWith(t *testing.T, cfg *config.Config) *config.Manager {
	t.Helper()

	m := config.NewManager(t.TempDir())
	require.NoError(t, m.Save(cfg))
	cfgLoaded, err := m.Load()
	require.NoError(t, err)
	*cfg = *cfgLoaded
	return m
}

func newTestRouter(t *testing.T, cfg *config.Config) (*Router, *cache.MemoryStore) {
	t.Helper()

	store := cache.NewMemoryStore(time.Minute)
	t.Cleanup(store.Close)

	m := managerWith(t, cfg)
	return New(m, store, upstream.New(testLogger()), testLogger()), store
}

func TestComplete_PrefersProviderAForChineseInput(t *testing.T) {
	srvA := fakeUpstream(t, "a", 200)
	defer srvA.Close()
	srvB := fakeUpstream(t, "b", 200)
	defer srvB.Close()

	rt, _ := newTestRouter(t, &config.Config{
		ProviderA: config.Provider{APIKey: "ka", BaseURL: srvA.URL},
		ProviderB: config.Provider{APIKey: "kb", BaseURL: srvB.URL},
	})

	res, err := rt.Complete(context.Background(), "", "sys", "解析这段商品描述")
	require.NoError(t, err)
	assert.Equal(t, config.ProviderA, res.Provider)
	assert.Equal(t, config.TierFree, res.Tier)
	assert.Equal(t, "a-model", res.Model)

	res, err = rt.Complete(context.Background(), "", "sys", "plain english input")
	require.NoError(t, err)
	assert.Equal(t, config.ProviderB, res.Provider)
}

func TestComplete_FailsOverToOtherProvider(t *testing.T) {
	srvBad := fakeUpstream(t, "bad", 500)
	defer srvBad.Close()
	srvGood := fakeUpstream(t, "good", 200)
	defer srvGood.Close()

	// English input prefers B, which fails; A serves.
	rt, _ := newTestRouter(t, &config.Config{
		ProviderA: config.Provider{APIKey: "ka", BaseURL: srvGood.URL},
		ProviderB: config.Provider{APIKey: "kb", BaseURL: srvBad.URL},
	})

	res, err := rt.Complete(context.Background(), "", "sys", "english")
	require.NoError(t, err)
	assert.Equal(t, config.ProviderA, res.Provider)
}

func TestComplete_BothFail_ReturnsLastErrorWithProviderTag(t *testing.T) {
	srvBad := fakeUpstream(t, "bad", 503)
	defer srvBad.Close()

	rt, _ := newTestRouter(t, &config.Config{
		ProviderA: config.Provider{APIKey: "ka", BaseURL: srvBad.URL},
		ProviderB: config.Provider{APIKey: "kb", BaseURL: srvBad.URL},
	})

	_, err := rt.Complete(context.Background(), "", "sys", "english")
	require.Error(t, err)

	routeErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, "http_503", routeErr.Code)
	assert.Equal(t, "upstream says no", routeErr.Message)
	// English input: B first, A last; the surfaced error is the last attempt's.
	assert.Equal(t, config.ProviderA, routeErr.Provider)
}

func TestComplete_NothingConfigured(t *testing.T) {
	rt, _ := newTestRouter(t, &config.Config{
		ProviderA: config.Provider{APIKey: "REPLACE_WITH_SILICONFLOW_KEY"},
		ProviderB: config.Provider{},
	})

	_, err := rt.Complete(context.Background(), "", "sys", "user")
	require.Error(t, err)

	routeErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeFreePoolNotConfigured, routeErr.Code)
}

func TestComplete_PremiumToken(t *testing.T) {
	srvPremium := fakeUpstream(t, "premium", 200)
	defer srvPremium.Close()
	srvFree := fakeUpstream(t, "free", 200)
	defer srvFree.Close()

	rt, _ := newTestRouter(t, &config.Config{
		APIKeys:   []string{"vip-token"},
		ProviderA: config.Provider{APIKey: "ka", BaseURL: srvFree.URL},
		ProviderB: config.Provider{APIKey: "kb", BaseURL: srvFree.URL},
		Premium:   config.Provider{APIKey: "kp", BaseURL: srvPremium.URL},
	})

	res, err := rt.Complete(context.Background(), "vip-token", "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, config.ProviderPremium, res.Provider)
	assert.Equal(t, config.TierPremium, res.Tier)

	// Unknown token stays on the free pool.
	res, err = rt.Complete(context.Background(), "nobody", "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, config.TierFree, res.Tier)
}

func TestComplete_PremiumFailureDowngradesSilently(t *testing.T) {
	srvPremium := fakeUpstream(t, "premium", 500)
	defer srvPremium.Close()
	srvFree := fakeUpstream(t, "free", 200)
	defer srvFree.Close()

	rt, _ := newTestRouter(t, &config.Config{
		APIKeys:   []string{"vip-token"},
		ProviderA: config.Provider{APIKey: "ka", BaseURL: srvFree.URL},
		ProviderB: config.Provider{APIKey: "kb", BaseURL: srvFree.URL},
		Premium:   config.Provider{APIKey: "kp", BaseURL: srvPremium.URL},
	})

	res, err := rt.Complete(context.Background(), "vip-token", "sys", "user")
	require.NoError(t, err, "premium failure must not surface while the free pool serves")
	assert.Equal(t, config.TierFree, res.Tier)
}

func TestStatus_CachedSnapshotWins(t *testing.T) {
	rt, store := newTestRouter(t, &config.Config{
		ProviderA: config.Provider{APIKey: "ka"},
		ProviderB: config.Provider{APIKey: "kb"},
	})

	ctx := context.Background()

	// Live config says both ready.
	status := rt.Status(ctx)
	assert.True(t, status.ProviderAReady)
	assert.True(t, status.ProviderBReady)

	// A cached snapshot marking A down overrides live config.
	store.Set(ctx, PoolStatusKey, `{"provider-a.ready":false,"provider-b.ready":true}`, time.Minute)
	status = rt.Status(ctx)
	assert.False(t, status.ProviderAReady)
	assert.True(t, status.ProviderBReady)

	// Refresh recomputes from live config and repairs the cache.
	status = rt.Refresh(ctx)
	assert.True(t, status.ProviderAReady)

	raw, ok := store.Get(ctx, PoolStatusKey)
	require.True(t, ok)
	assert.Contains(t, raw, `"provider-a.ready":true`)
}

func TestRouteChat_ModelMapping(t *testing.T) {
	rt, _ := newTestRouter(t, &config.Config{
		ProviderA: config.Provider{APIKey: "ka", Model: "deepseek-ai/DeepSeek-V3"},
		ProviderB: config.Provider{APIKey: "kb", Model: "llama-3.3-70b-versatile"},
	})

	ctx := context.Background()

	testCases := []struct {
		name           string
		requestedModel string
		input          string
		wantProvider   string
		wantModel      string
	}{
		{"deepseek name", "deepseek-chat", "hi", config.ProviderA, "deepseek-ai/DeepSeek-V3"},
		{"llama name", "meta/llama-3-8b", "hi", config.ProviderB, "llama-3.3-70b-versatile"},
		{"chinese input echoes model", "gpt-4o-mini", "你好", config.ProviderA, "gpt-4o-mini"},
		{"english input echoes model", "gpt-4o-mini", "hello", config.ProviderB, "gpt-4o-mini"},
		{"empty model falls back to default", "", "hello", config.ProviderB, "llama-3.3-70b-versatile"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			route, ok := rt.RouteChat(ctx, tc.requestedModel, tc.input)
			require.True(t, ok)
			assert.Equal(t, tc.wantProvider, route.Provider.ID)
			assert.Equal(t, tc.wantModel, route.Model)
		})
	}
}

func TestRouteChat_Failover(t *testing.T) {
	rt, _ := newTestRouter(t, &config.Config{
		ProviderA: config.Provider{APIKey: "", Model: "a-default"},
		ProviderB: config.Provider{APIKey: "kb", Model: "b-default"},
	})

	ctx := context.Background()

	// deepseek maps to A, but only B is ready: switch and take B's default.
	route, ok := rt.RouteChat(ctx, "deepseek-chat", "hi")
	require.True(t, ok)
	assert.Equal(t, config.ProviderB, route.Provider.ID)
	assert.Equal(t, "b-default", route.Model)

	// Echoed models survive the switch.
	route, ok = rt.RouteChat(ctx, "custom-model", "你好")
	require.True(t, ok)
	assert.Equal(t, config.ProviderB, route.Provider.ID)
	assert.Equal(t, "custom-model", route.Model)
}

func TestRouteChat_NeitherReady(t *testing.T) {
	rt, _ := newTestRouter(t, &config.Config{})

	_, ok := rt.RouteChat(context.Background(), "any", "hi")
	assert.False(t, ok)
}

func TestContainsChinese(t *testing.T) {
	assert.True(t, ContainsChinese("解析"))
	assert.True(t, ContainsChinese("mixed 文本 input"))
	assert.False(t, ContainsChinese("english only"))
	assert.False(t, ContainsChinese("カタカナ テキスト")) // kana is outside U+4E00..U+9FFF
	assert.False(t, ContainsChinese(""))
}

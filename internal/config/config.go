package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
)

const (
	DefaultPort           = 6970
	DefaultConfigFilename = "config.json"
	DefaultHost           = "127.0.0.1"

	DefaultRateLimitPerMinute = 10

	// PlaceholderPrefix marks a setting that was never filled in. A value
	// starting with it is treated exactly like an empty value.
	PlaceholderPrefix = "REPLACE_WITH_"
)

// Provider identifiers and tiers.
const (
	ProviderA       = "provider-a"
	ProviderB       = "provider-b"
	ProviderPremium = "premium"

	TierFree    = "free"
	TierPremium = "premium"
)

// Built-in upstream defaults, overridable via file or environment.
const (
	defaultProviderABase  = "https://api.siliconflow.cn/v1"
	defaultProviderAModel = "deepseek-ai/DeepSeek-V3"
	defaultProviderBBase  = "https://api.groq.com/openai/v1"
	defaultProviderBModel = "llama-3.3-70b-versatile"
	defaultPremiumBase    = "https://api.deepseek.com"
	defaultPremiumModel   = "deepseek-chat"
)

// Provider describes one upstream OpenAI-compatible endpoint.
type Provider struct {
	ID      string `json:"id"`
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	Tier    string `json:"tier"`
}

// Configured reports whether the provider can be called at all: a key must
// be present and must not be the setup placeholder.
func (p Provider) Configured() bool {
	return p.APIKey != "" && !strings.HasPrefix(p.APIKey, PlaceholderPrefix)
}

// Endpoint returns the chat-completions URL for the provider.
func (p Provider) Endpoint() string {
	return strings.TrimRight(p.BaseURL, "/") + "/chat/completions"
}

type Config struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// APIKeys is the premium-tier bearer token allow-list.
	APIKeys []string `json:"api_keys,omitempty"`

	// ParseKey, when set, gates every parse request behind an exact key match.
	ParseKey string `json:"parse_key,omitempty"`

	RateLimitPerMinute int      `json:"rate_limit_per_minute,omitempty"`
	SupportedModes     []string `json:"supported_modes,omitempty"`

	// RedisAddr selects the redis cache backend; empty means in-process.
	RedisAddr string `json:"redis_addr,omitempty"`

	ProviderA Provider `json:"provider_a"`
	ProviderB Provider `json:"provider_b"`
	Premium   Provider `json:"premium"`
}

// environment is the envconfig view of the process environment. Field
// resolution happens in resolve(); this struct only collects raw values.
type environment struct {
	Host               string `envconfig:"PS_HOST"`
	Port               int    `envconfig:"PS_PORT"`
	APIKeys            string `envconfig:"PS_API_KEYS"`
	ParseKey           string `envconfig:"PS_PARSE_KEY"`
	ParseKeyAlt        string `envconfig:"PARSE_API_KEY"`
	RateLimitPerMinute int    `envconfig:"PS_RATE_LIMIT_PER_MINUTE"`
	RedisAddr          string `envconfig:"PS_REDIS_ADDR"`

	SiliconflowAPIKey  string `envconfig:"SILICONFLOW_API_KEY"`
	SiliconflowBaseURL string `envconfig:"SILICONFLOW_BASE_URL"`
	SiliconflowModel   string `envconfig:"SILICONFLOW_MODEL"`

	GroqAPIKey  string `envconfig:"GROQ_API_KEY"`
	GroqBaseURL string `envconfig:"GROQ_BASE_URL"`
	GroqModel   string `envconfig:"GROQ_MODEL"`

	DeepseekAPIKey  string `envconfig:"DEEPSEEK_API_KEY"`
	DeepseekBaseURL string `envconfig:"DEEPSEEK_BASE_URL"`
	DeepseekModel   string `envconfig:"DEEPSEEK_MODEL"`
}

// resolveString applies the setting resolution order: file value, then
// environment, then default. Placeholder values count as absent.
func resolveString(fileValue, envValue, def string) string {
	for _, v := range []string{fileValue, envValue} {
		if v != "" && !strings.HasPrefix(v, PlaceholderPrefix) {
			return v
		}
	}
	return def
}

func resolveInt(fileValue, envValue, def int) int {
	if fileValue > 0 {
		return fileValue
	}
	if envValue > 0 {
		return envValue
	}
	return def
}

// resolve merges the file config with the environment and fills defaults.
// The input is mutated in place.
func resolve(cfg *Config, env environment) {
	cfg.Host = resolveString(cfg.Host, env.Host, DefaultHost)
	cfg.Port = resolveInt(cfg.Port, env.Port, DefaultPort)
	cfg.RateLimitPerMinute = resolveInt(cfg.RateLimitPerMinute, env.RateLimitPerMinute, DefaultRateLimitPerMinute)
	cfg.RedisAddr = resolveString(cfg.RedisAddr, env.RedisAddr, "")

	fileKeys := cfg.APIKeys
	cfg.APIKeys = nil
	for _, k := range fileKeys {
		if k = strings.TrimSpace(k); k != "" && !strings.HasPrefix(k, PlaceholderPrefix) {
			cfg.APIKeys = append(cfg.APIKeys, k)
		}
	}
	if len(cfg.APIKeys) == 0 && env.APIKeys != "" {
		for _, k := range strings.Split(env.APIKeys, ",") {
			if k = strings.TrimSpace(k); k != "" && !strings.HasPrefix(k, PlaceholderPrefix) {
				cfg.APIKeys = append(cfg.APIKeys, k)
			}
		}
	}

	parseKeyEnv := env.ParseKey
	if parseKeyEnv == "" {
		parseKeyEnv = env.ParseKeyAlt
	}
	cfg.ParseKey = resolveString(cfg.ParseKey, parseKeyEnv, "")

	cfg.ProviderA = Provider{
		ID:      ProviderA,
		APIKey:  resolveString(cfg.ProviderA.APIKey, env.SiliconflowAPIKey, ""),
		BaseURL: strings.TrimRight(resolveString(cfg.ProviderA.BaseURL, env.SiliconflowBaseURL, defaultProviderABase), "/"),
		Model:   resolveString(cfg.ProviderA.Model, env.SiliconflowModel, defaultProviderAModel),
		Tier:    TierFree,
	}
	cfg.ProviderB = Provider{
		ID:      ProviderB,
		APIKey:  resolveString(cfg.ProviderB.APIKey, env.GroqAPIKey, ""),
		BaseURL: strings.TrimRight(resolveString(cfg.ProviderB.BaseURL, env.GroqBaseURL, defaultProviderBBase), "/"),
		Model:   resolveString(cfg.ProviderB.Model, env.GroqModel, defaultProviderBModel),
		Tier:    TierFree,
	}
	cfg.Premium = Provider{
		ID:      ProviderPremium,
		APIKey:  resolveString(cfg.Premium.APIKey, env.DeepseekAPIKey, ""),
		BaseURL: strings.TrimRight(resolveString(cfg.Premium.BaseURL, env.DeepseekBaseURL, defaultPremiumBase), "/"),
		Model:   resolveString(cfg.Premium.Model, env.DeepseekModel, defaultPremiumModel),
		Tier:    TierPremium,
	}
}

// IsAllowedToken reports whether token is in the premium allow-list.
func (c *Config) IsAllowedToken(token string) bool {
	if token == "" {
		return false
	}
	for _, k := range c.APIKeys {
		if k == token {
			return true
		}
	}
	return false
}

// FreeProviders returns the free pool in fixed order.
func (c *Config) FreeProviders() []Provider {
	return []Provider{c.ProviderA, c.ProviderB}
}

type Manager struct {
	configPath  string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
	}
}

// Load reads the config file (if present), merges the environment on top of
// it and stores the resolved result. A missing file is not an error: the
// gateway can run entirely from the environment.
func (m *Manager) Load() (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(m.configPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	case os.IsNotExist(err):
		// Environment-only operation.
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var env environment
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	resolve(&cfg, env)

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		// Return a config with defaults if loading fails
		fallback := &Config{}
		resolve(fallback, environment{})
		return fallback
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}

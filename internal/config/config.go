package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/opsloop/pkg/models"
)

// Config holds all configuration for the OpsLoop server.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Tools       ToolsConfig       `yaml:"tools"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Policy      PolicyConfig      `yaml:"policy"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Remediation RemediationConfig `yaml:"remediation"`
	AI          AIConfig          `yaml:"ai"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Env  string `yaml:"env"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	RingSize   int    `yaml:"ring_size"`
}

// ToolsConfig lists the base URL of every remote tool service.
type ToolsConfig struct {
	KubernetesURL string        `yaml:"kubernetes_url"`
	PrometheusURL string        `yaml:"prometheus_url"`
	GrafanaURL    string        `yaml:"grafana_url"`
	GitHubURL     string        `yaml:"github_url"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	BaseBackoff   time.Duration `yaml:"base_backoff"`
}

// Services maps service name to base URL, skipping unset entries.
func (t ToolsConfig) Services() map[string]string {
	out := make(map[string]string, 4)
	for name, u := range map[string]string{
		"kubernetes": t.KubernetesURL,
		"prometheus": t.PrometheusURL,
		"grafana":    t.GrafanaURL,
		"github":     t.GitHubURL,
	} {
		if u != "" {
			out[name] = u
		}
	}
	return out
}

type LedgerConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	DocumentID    string `yaml:"document_id"`
	Timezone      string `yaml:"timezone"`
	RetentionDays int    `yaml:"retention_days"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type PolicyConfig struct {
	AnalysisThreshold int     `yaml:"analysis_threshold"`
	MaxRestartsPerDay int     `yaml:"max_restarts_per_day"`
	CPUThreshold      float64 `yaml:"cpu_threshold"`
	MemoryThreshold   float64 `yaml:"memory_threshold"`
}

type MonitorConfig struct {
	Namespace      string `yaml:"namespace"`
	StatusURL      string `yaml:"status_url"`
	MemoryInstance string `yaml:"memory_instance"`
}

type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Tick     time.Duration `yaml:"tick"`
	AutoRun  bool          `yaml:"auto_run"`
}

type RemediationConfig struct {
	DashboardID int    `yaml:"dashboard_id"`
	BaseBranch  string `yaml:"base_branch"`
}

type AIConfig struct {
	Provider         string        `yaml:"provider"`
	BaseURL          string        `yaml:"base_url"`
	APIKey           string        `yaml:"api_key"`
	Model            string        `yaml:"model"`
	InferenceTimeout time.Duration `yaml:"inference_timeout"`
}

// AuthConfig lists accepted API keys. Auth is disabled when empty.
type AuthConfig struct {
	APIKeys []models.APIKey `yaml:"api_keys"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

var validProviders = map[string]bool{
	"static": true,
	"openai": true,
	"vllm":   true,
	"ollama": true,
}

var defaultAIBaseURLs = map[string]string{
	"vllm":   "http://localhost:8000/v1",
	"ollama": "http://localhost:11434/v1",
}

// Default returns the built-in configuration before any file or environment
// overrides are applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, Env: "development"},
		Log:    LogConfig{Level: "info", Format: "json", MaxSizeMB: 100, MaxBackups: 3, RingSize: 100},
		Tools: ToolsConfig{
			Timeout:     30 * time.Second,
			MaxRetries:  3,
			BaseBackoff: 500 * time.Millisecond,
		},
		Ledger: LedgerConfig{
			Backend:       "file",
			Path:          "data/incidents.json",
			DocumentID:    "default",
			Timezone:      "UTC",
			RetentionDays: 7,
		},
		Database: DatabaseConfig{MaxOpenConns: 10, MaxIdleConns: 2, ConnMaxLifetime: 5 * time.Minute},
		Policy: PolicyConfig{
			AnalysisThreshold: 4,
			MaxRestartsPerDay: 10,
			CPUThreshold:      10,
			MemoryThreshold:   600_000_000,
		},
		Monitor:     MonitorConfig{Namespace: "default", MemoryInstance: "test-app:8001"},
		Scheduler:   SchedulerConfig{Interval: 30 * time.Second, Tick: 10 * time.Second, AutoRun: true},
		Remediation: RemediationConfig{DashboardID: 1, BaseBranch: "develop"},
		AI:          AIConfig{Provider: "static", Model: "gpt-4o-mini", InferenceTimeout: 60 * time.Second},
		RateLimit:   RateLimitConfig{RequestsPerMinute: 60},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// OPSLOOP_CONFIG_FILE (if any), then environment variables, and validates it.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("OPSLOOP_CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = envInt("OPSLOOP_PORT", c.Server.Port)
	c.Server.Env = envString("OPSLOOP_ENV", c.Server.Env)

	c.Log.Level = envString("OPSLOOP_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("OPSLOOP_LOG_FORMAT", c.Log.Format)
	c.Log.File = envString("OPSLOOP_LOG_FILE", c.Log.File)
	c.Log.RingSize = envInt("OPSLOOP_LOG_RING_SIZE", c.Log.RingSize)

	c.Tools.KubernetesURL = envString("KUBERNETES_MCP_URL", c.Tools.KubernetesURL)
	c.Tools.PrometheusURL = envString("PROMETHEUS_MCP_URL", c.Tools.PrometheusURL)
	c.Tools.GrafanaURL = envString("GRAFANA_MCP_URL", c.Tools.GrafanaURL)
	c.Tools.GitHubURL = envString("GITHUB_MCP_URL", c.Tools.GitHubURL)
	c.Tools.Timeout = envDuration("OPSLOOP_TOOL_TIMEOUT", c.Tools.Timeout)
	c.Tools.MaxRetries = envInt("OPSLOOP_TOOL_MAX_RETRIES", c.Tools.MaxRetries)
	c.Tools.BaseBackoff = envDuration("OPSLOOP_TOOL_BACKOFF", c.Tools.BaseBackoff)

	c.Ledger.Backend = envString("OPSLOOP_LEDGER_BACKEND", c.Ledger.Backend)
	c.Ledger.Path = envString("OPSLOOP_LEDGER_PATH", c.Ledger.Path)
	c.Ledger.DocumentID = envString("OPSLOOP_LEDGER_DOCUMENT", c.Ledger.DocumentID)
	c.Ledger.Timezone = envString("OPSLOOP_LEDGER_TIMEZONE", c.Ledger.Timezone)
	c.Ledger.RetentionDays = envInt("OPSLOOP_LEDGER_RETENTION_DAYS", c.Ledger.RetentionDays)

	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = envDuration("DATABASE_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)

	c.Redis.URL = envString("REDIS_URL", c.Redis.URL)

	c.Policy.AnalysisThreshold = envInt("OPSLOOP_ANALYSIS_THRESHOLD", c.Policy.AnalysisThreshold)
	c.Policy.MaxRestartsPerDay = envInt("OPSLOOP_MAX_RESTARTS_PER_DAY", c.Policy.MaxRestartsPerDay)
	c.Policy.CPUThreshold = envFloat("OPSLOOP_CPU_THRESHOLD", c.Policy.CPUThreshold)
	c.Policy.MemoryThreshold = envFloat("OPSLOOP_MEMORY_THRESHOLD", c.Policy.MemoryThreshold)

	c.Monitor.Namespace = envString("OPSLOOP_NAMESPACE", c.Monitor.Namespace)
	c.Monitor.StatusURL = envString("OPSLOOP_STATUS_URL", c.Monitor.StatusURL)
	c.Monitor.MemoryInstance = envString("OPSLOOP_MEMORY_INSTANCE", c.Monitor.MemoryInstance)

	c.Scheduler.Interval = envDurationSecs("OPSLOOP_RUN_INTERVAL_SECS", c.Scheduler.Interval)
	c.Scheduler.Tick = envDurationSecs("OPSLOOP_TICK_SECS", c.Scheduler.Tick)
	c.Scheduler.AutoRun = envBool("OPSLOOP_AUTO_RUN", c.Scheduler.AutoRun)

	c.Remediation.DashboardID = envInt("OPSLOOP_DASHBOARD_ID", c.Remediation.DashboardID)
	c.Remediation.BaseBranch = envString("OPSLOOP_BASE_BRANCH", c.Remediation.BaseBranch)

	c.AI.Provider = envString("AI_PROVIDER", c.AI.Provider)
	c.AI.BaseURL = envString("AI_BASE_URL", c.AI.BaseURL)
	c.AI.APIKey = envString("OPENAI_API_KEY", c.AI.APIKey)
	c.AI.Model = envString("AI_MODEL", c.AI.Model)
	c.AI.InferenceTimeout = envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", c.AI.InferenceTimeout)
	if c.AI.BaseURL == "" {
		c.AI.BaseURL = defaultAIBaseURLs[c.AI.Provider]
	}

	if keys := os.Getenv("OPSLOOP_API_KEYS"); keys != "" {
		c.Auth.APIKeys = parseAPIKeys(keys)
	}

	c.RateLimit.RequestsPerMinute = envInt("OPSLOOP_RATE_LIMIT_RPM", c.RateLimit.RequestsPerMinute)
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("OPSLOOP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	for name, u := range map[string]string{
		"KUBERNETES_MCP_URL": c.Tools.KubernetesURL,
		"PROMETHEUS_MCP_URL": c.Tools.PrometheusURL,
		"GITHUB_MCP_URL":     c.Tools.GitHubURL,
	} {
		if u == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	for name, u := range map[string]string{
		"KUBERNETES_MCP_URL": c.Tools.KubernetesURL,
		"PROMETHEUS_MCP_URL": c.Tools.PrometheusURL,
		"GRAFANA_MCP_URL":    c.Tools.GrafanaURL,
		"GITHUB_MCP_URL":     c.Tools.GitHubURL,
		"OPSLOOP_STATUS_URL": c.Monitor.StatusURL,
	} {
		if u != "" && !isHTTPURL(u) {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, u)
		}
	}
	if c.Tools.MaxRetries < 0 {
		return fmt.Errorf("OPSLOOP_TOOL_MAX_RETRIES must not be negative")
	}

	switch c.Ledger.Backend {
	case "file":
		if c.Ledger.Path == "" {
			return fmt.Errorf("OPSLOOP_LEDGER_PATH is required when OPSLOOP_LEDGER_BACKEND is file")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when OPSLOOP_LEDGER_BACKEND is postgres")
		}
	default:
		return fmt.Errorf("OPSLOOP_LEDGER_BACKEND must be one of file, postgres; got %q", c.Ledger.Backend)
	}
	if _, err := time.LoadLocation(c.Ledger.Timezone); err != nil {
		return fmt.Errorf("OPSLOOP_LEDGER_TIMEZONE is invalid: %w", err)
	}
	if c.Ledger.RetentionDays < 0 {
		return fmt.Errorf("OPSLOOP_LEDGER_RETENTION_DAYS must not be negative")
	}

	if c.Policy.AnalysisThreshold <= 0 {
		return fmt.Errorf("OPSLOOP_ANALYSIS_THRESHOLD must be positive")
	}
	if c.Policy.CPUThreshold <= 0 || c.Policy.MemoryThreshold <= 0 {
		return fmt.Errorf("OPSLOOP_CPU_THRESHOLD and OPSLOOP_MEMORY_THRESHOLD must be positive")
	}

	if c.Scheduler.Interval <= 0 || c.Scheduler.Tick <= 0 {
		return fmt.Errorf("OPSLOOP_RUN_INTERVAL_SECS and OPSLOOP_TICK_SECS must be positive")
	}

	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of static, openai, vllm, ollama; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}

	for _, k := range c.Auth.APIKeys {
		if k.KeyPrefix == "" || k.KeyHash == "" {
			return fmt.Errorf("API key %q needs both a prefix and a bcrypt hash", k.Name)
		}
	}

	return nil
}

// parseAPIKeys reads "name:prefix:scope|scope:hash" entries separated by commas.
// bcrypt hashes never contain ':' or ','.
func parseAPIKeys(raw string) []models.APIKey {
	var keys []models.APIKey
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 4)
		if len(parts) != 4 {
			continue
		}
		keys = append(keys, models.APIKey{
			Name:      parts[0],
			KeyPrefix: parts[1],
			Scopes:    strings.Split(parts[2], "|"),
			KeyHash:   parts[3],
		})
	}
	return keys
}

func isHTTPURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for an agentcore process.
type Config struct {
	Version      int                `yaml:"version"`
	Server       ServerConfig       `yaml:"server"`
	Store        StoreConfig        `yaml:"store"`
	LLM          LLMConfig          `yaml:"llm"`
	Agent        AgentConfig        `yaml:"agent"`
	Capability   CapabilityConfig   `yaml:"capability"`
	Context      ContextConfig      `yaml:"context"`
	LoopDetect   LoopDetectConfig   `yaml:"loop_detect"`
	Delegate     DelegateConfig     `yaml:"delegate"`
	Queue        QueueConfig        `yaml:"queue"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Tools        ToolsConfig        `yaml:"tools"`
	Logging      LoggingConfig      `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// StoreConfig selects and configures the Persistence Store.
type StoreConfig struct {
	// Backend is "sqlite" or "memory". Default: sqlite.
	Backend string `yaml:"backend"`
	// Path is the SQLite database file path.
	Path string `yaml:"path"`
}

// AgentConfig configures the Agent Runtime's per-job budgets.
type AgentConfig struct {
	MaxSteps     int           `yaml:"max_steps"`
	MaxWall      time.Duration `yaml:"max_wall"`
	SystemPrompt string        `yaml:"system_prompt"`
}

// CapabilityConfig configures the Capability Router's TTL/routing-stride behavior.
type CapabilityConfig struct {
	DefaultTTL   int `yaml:"default_ttl"`
	RouterStride int `yaml:"router_stride"`
}

// ContextConfig configures the Context Manager's token budget and retention window.
type ContextConfig struct {
	MaxTokens        int `yaml:"max_tokens"`
	RetainedExchanges int `yaml:"retained_exchanges"`
}

// LoopDetectConfig configures the Loop/Progress Detector's window and thresholds.
type LoopDetectConfig struct {
	WindowSize      int `yaml:"window_size"`
	RepeatThreshold int `yaml:"repeat_threshold"`
	StallThreshold  int `yaml:"stall_threshold"`
}

// DelegateConfig configures the Delegate/Explore Executor.
type DelegateConfig struct {
	Quota       int `yaml:"quota"`
	Concurrency int `yaml:"concurrency"`
}

// QueueConfig configures the Job Queue & Worker.
type QueueConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
}

// SchedulerConfig configures the CRON Scheduler's poll cadence.
type SchedulerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// ToolsConfig configures the Tool Registry's per-call defaults.
type ToolsConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// LLMConfig configures provider credentials and per-tier model selection.
type LLMConfig struct {
	Providers map[string]LLMProviderConfig `yaml:"providers"`
	Tiers     map[string]LLMTierConfig     `yaml:"tiers"`
}

// LLMProviderConfig holds one provider's credentials.
type LLMProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Region  string `yaml:"region"` // bedrock
}

// LLMTierConfig binds a model tier ("main", "cheap", "router") to a provider + model.
type LLMTierConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures OpenTelemetry tracing export.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig controls the OTLP exporter.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	Environment    string  `yaml:"environment"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	Insecure       bool    `yaml:"insecure"`
}

// Load reads path (resolving $include directives via LoadRaw), applies
// environment overrides and documented defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sqlite"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "agentcore.db"
	}

	if cfg.Agent.MaxSteps == 0 {
		cfg.Agent.MaxSteps = 100
	}
	if cfg.Agent.MaxWall == 0 {
		cfg.Agent.MaxWall = 30 * time.Minute
	}
	if cfg.Agent.SystemPrompt == "" {
		cfg.Agent.SystemPrompt = "You are an autonomous assistant. Use the available tools to complete the user's request."
	}

	if cfg.Capability.DefaultTTL == 0 {
		cfg.Capability.DefaultTTL = 6
	}
	if cfg.Capability.RouterStride == 0 {
		cfg.Capability.RouterStride = 3
	}

	if cfg.Context.MaxTokens == 0 {
		cfg.Context.MaxTokens = 120000
	}
	if cfg.Context.RetainedExchanges == 0 {
		cfg.Context.RetainedExchanges = 10
	}

	if cfg.LoopDetect.WindowSize == 0 {
		cfg.LoopDetect.WindowSize = 8
	}
	if cfg.LoopDetect.RepeatThreshold == 0 {
		cfg.LoopDetect.RepeatThreshold = 3
	}
	if cfg.LoopDetect.StallThreshold == 0 {
		cfg.LoopDetect.StallThreshold = 4
	}

	if cfg.Delegate.Quota == 0 {
		cfg.Delegate.Quota = 25
	}
	if cfg.Delegate.Concurrency == 0 {
		cfg.Delegate.Concurrency = 4
	}

	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = 500 * time.Millisecond
	}
	if cfg.Queue.MaxConcurrentJobs == 0 {
		cfg.Queue.MaxConcurrentJobs = 8
	}

	if cfg.Scheduler.TickInterval == 0 {
		cfg.Scheduler.TickInterval = time.Second
	}

	if cfg.Tools.DefaultTimeout == 0 {
		cfg.Tools.DefaultTimeout = 120 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "agentcore"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 0.1
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_HTTP_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_STORE_PATH")); v != "" {
		cfg.Store.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		setProviderKey(cfg, "anthropic", v)
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		setProviderKey(cfg, "openai", v)
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
		setProviderKey(cfg, "gemini", v)
	}
}

func setProviderKey(cfg *Config, provider, key string) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	p := cfg.LLM.Providers[provider]
	p.APIKey = key
	cfg.LLM.Providers[provider] = p
}

// ConfigValidationError accumulates every validation issue found, matching
// the reference's all-issues-at-once style rather than fail-fast.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var issues []string

	if cfg.Agent.MaxSteps <= 0 {
		issues = append(issues, "agent.max_steps must be > 0")
	}
	if cfg.Agent.MaxWall <= 0 {
		issues = append(issues, "agent.max_wall must be > 0")
	}
	if cfg.Context.MaxTokens <= 0 {
		issues = append(issues, "context.max_tokens must be > 0")
	}
	if cfg.Context.RetainedExchanges < 0 {
		issues = append(issues, "context.retained_exchanges must be >= 0")
	}
	if cfg.Delegate.Quota < 0 {
		issues = append(issues, "delegate.quota must be >= 0")
	}
	if cfg.Delegate.Concurrency <= 0 {
		issues = append(issues, "delegate.concurrency must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Backend)) {
	case "sqlite", "memory":
	default:
		issues = append(issues, `store.backend must be "sqlite" or "memory"`)
	}
	for tier, t := range cfg.LLM.Tiers {
		if strings.TrimSpace(t.Provider) == "" {
			issues = append(issues, fmt.Sprintf("llm.tiers[%s].provider is required", tier))
			continue
		}
		if _, ok := cfg.LLM.Providers[t.Provider]; !ok {
			issues = append(issues, fmt.Sprintf("llm.tiers[%s] references unknown provider %q", tier, t.Provider))
		}
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

// Package config provides configuration types and defaults for devteam.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/zjrosen/devteam/internal/log"
	"github.com/zjrosen/devteam/internal/orchestration/client"
	"github.com/zjrosen/devteam/internal/orchestration/memory"
	"github.com/zjrosen/devteam/internal/orchestration/message"
	"github.com/zjrosen/devteam/internal/orchestration/orchestrator"
	"github.com/zjrosen/devteam/internal/orchestration/queue"
	"github.com/zjrosen/devteam/internal/orchestration/router"
	"github.com/zjrosen/devteam/internal/orchestration/tracing"
	"github.com/zjrosen/devteam/internal/orchestration/worker"
)

// Config holds all configuration options for devteam.
type Config struct {
	LLM          LLMConfig          `mapstructure:"llm" yaml:"llm"`
	Router       RouterConfig       `mapstructure:"router" yaml:"router"`
	Memory       MemoryConfig       `mapstructure:"memory" yaml:"memory"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Tracing      tracing.Config     `mapstructure:"tracing" yaml:"tracing"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
}

// LLMConfig configures the model client.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider" yaml:"provider"` // mock (default), openai, anthropic, gemini, groq, ollama
	APIKey      string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model       string  `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`

	// Failover is the provider order tried after the primary. Providers
	// without a credential are skipped.
	Failover []string `mapstructure:"failover" yaml:"failover,omitempty"`

	// RateLimit is the per-provider request rate in requests per second.
	// 0 disables pacing.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`

	// CacheTTL enables the response cache when > 0.
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`

	// AttemptTimeout bounds each provider attempt of a completion so a hung
	// provider fails over. 0 disables the bound.
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
}

// ModelConfig converts to the client configuration.
func (c LLMConfig) ModelConfig() client.ModelConfig {
	return client.ModelConfig{
		Provider:    client.ProviderType(c.Provider),
		APIKey:      c.APIKey,
		Model:       c.Model,
		BaseURL:     c.BaseURL,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
}

// FailoverOrder returns Failover as provider types.
func (c LLMConfig) FailoverOrder() []client.ProviderType {
	out := make([]client.ProviderType, 0, len(c.Failover))
	for _, name := range c.Failover {
		out = append(out, client.ProviderType(name))
	}
	return out
}

// RouterConfig holds message router limits.
type RouterConfig struct {
	MaxQueueSize   int           `mapstructure:"max_queue_size" yaml:"max_queue_size"`
	HistoryLimit   int           `mapstructure:"history_limit" yaml:"history_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// RouterConfig converts to the router configuration.
func (c RouterConfig) RouterConfig() router.Config {
	return router.Config{
		MaxQueueSize:   c.MaxQueueSize,
		HistoryLimit:   c.HistoryLimit,
		RequestTimeout: c.RequestTimeout,
	}
}

// MemoryConfig holds memory store capacities and snapshot storage.
type MemoryConfig struct {
	ShortTermCapacity  int `mapstructure:"short_term_capacity" yaml:"short_term_capacity"`
	LongTermCapacity   int `mapstructure:"long_term_capacity" yaml:"long_term_capacity"`
	PromotionThreshold int `mapstructure:"promotion_threshold" yaml:"promotion_threshold"`

	// DatabasePath is the sqlite file holding memory snapshots.
	// Default: ~/.config/devteam/memory.db
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
}

// StoreConfig converts to the memory store configuration.
func (c MemoryConfig) StoreConfig() memory.Config {
	return memory.Config{
		ShortTermCapacity: c.ShortTermCapacity,
		LongTermCapacity:  c.LongTermCapacity,
	}
}

// OrchestratorConfig holds pipeline settings.
type OrchestratorConfig struct {
	ProjectName      string   `mapstructure:"project_name" yaml:"project_name"`
	Team             []string `mapstructure:"team" yaml:"team"`
	MaxIterations    int      `mapstructure:"max_iterations" yaml:"max_iterations"`
	QualityThreshold int      `mapstructure:"quality_threshold" yaml:"quality_threshold"`

	// RequireApproval asks on the terminal before the architecture and
	// implementation phases.
	RequireApproval bool `mapstructure:"require_approval" yaml:"require_approval"`
}

// Roles parses Team.
func (c OrchestratorConfig) Roles() ([]worker.Role, error) {
	roles := make([]worker.Role, 0, len(c.Team))
	for _, name := range c.Team {
		role, err := worker.ParseRole(name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"` // listen address, e.g. ":9090"
	Path    string `mapstructure:"path" yaml:"path"`
}

// DefaultConfigDir returns ~/.config/devteam, or an empty string if the home
// directory is unavailable.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "devteam")
}

// DefaultTracesFilePath returns ~/.config/devteam/traces/traces.jsonl.
func DefaultTracesFilePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// DefaultDatabasePath returns ~/.config/devteam/memory.db.
func DefaultDatabasePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "memory.db")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	team := make([]string, 0, len(worker.DefaultTeam))
	for _, r := range worker.DefaultTeam {
		team = append(team, string(r))
	}
	failover := make([]string, 0, len(client.DefaultFailoverOrder))
	for _, p := range client.DefaultFailoverOrder {
		failover = append(failover, string(p))
	}

	traces := tracing.DefaultConfig()
	traces.FilePath = DefaultTracesFilePath()

	return Config{
		LLM: LLMConfig{
			Provider:       string(client.ProviderMock),
			Temperature:    client.DefaultTemperature,
			MaxTokens:      client.DefaultMaxTokens,
			Failover:       failover,
			RateBurst:      1,
			AttemptTimeout: client.DefaultHTTPTimeout,
		},
		Router: RouterConfig{
			MaxQueueSize:   queue.DefaultMaxSize,
			HistoryLimit:   message.DefaultHistoryLimit,
			RequestTimeout: router.DefaultRequestTimeout,
		},
		Memory: MemoryConfig{
			ShortTermCapacity:  memory.DefaultShortTermCapacity,
			LongTermCapacity:   memory.DefaultLongTermCapacity,
			PromotionThreshold: memory.DefaultPromotionThreshold,
			DatabasePath:       DefaultDatabasePath(),
		},
		Orchestrator: OrchestratorConfig{
			ProjectName:      orchestrator.DefaultProjectName,
			Team:             team,
			MaxIterations:    orchestrator.DefaultMaxIterations,
			QualityThreshold: orchestrator.DefaultQualityThreshold,
		},
		Tracing: traces,
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
			Path:    "/metrics",
		},
	}
}

// Validate checks every section.
func Validate(cfg Config) error {
	if err := ValidateLLM(cfg.LLM); err != nil {
		return err
	}
	if err := ValidateRouter(cfg.Router); err != nil {
		return err
	}
	if err := ValidateMemory(cfg.Memory); err != nil {
		return err
	}
	if err := ValidateOrchestrator(cfg.Orchestrator); err != nil {
		return err
	}
	if err := ValidateTracing(cfg.Tracing); err != nil {
		return err
	}
	return ValidateMetrics(cfg.Metrics)
}

// ValidateLLM checks provider names and numeric bounds.
func ValidateLLM(llm LLMConfig) error {
	if llm.Provider != "" {
		if _, err := client.ParseProviderType(llm.Provider); err != nil {
			return fmt.Errorf("llm.provider: %w", err)
		}
	}
	for i, name := range llm.Failover {
		if _, err := client.ParseProviderType(name); err != nil {
			return fmt.Errorf("llm.failover[%d]: %w", i, err)
		}
	}
	if llm.Temperature < 0 || llm.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0.0 and 2.0, got %v", llm.Temperature)
	}
	if llm.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens must be non-negative, got %d", llm.MaxTokens)
	}
	if llm.RateLimit < 0 {
		return fmt.Errorf("llm.rate_limit must be non-negative, got %v", llm.RateLimit)
	}
	if llm.CacheTTL < 0 {
		return fmt.Errorf("llm.cache_ttl must be non-negative, got %s", llm.CacheTTL)
	}
	if llm.AttemptTimeout < 0 {
		return fmt.Errorf("llm.attempt_timeout must be non-negative, got %s", llm.AttemptTimeout)
	}
	return nil
}

// ValidateRouter checks router limits. Zero values fall back to defaults.
func ValidateRouter(r RouterConfig) error {
	if r.MaxQueueSize < 0 {
		return fmt.Errorf("router.max_queue_size must be non-negative, got %d", r.MaxQueueSize)
	}
	if r.HistoryLimit < 0 {
		return fmt.Errorf("router.history_limit must be non-negative, got %d", r.HistoryLimit)
	}
	if r.RequestTimeout < 0 {
		return fmt.Errorf("router.request_timeout must be non-negative, got %s", r.RequestTimeout)
	}
	return nil
}

// ValidateMemory checks memory capacities.
func ValidateMemory(m MemoryConfig) error {
	if m.ShortTermCapacity < 0 || m.LongTermCapacity < 0 {
		return fmt.Errorf("memory capacities must be non-negative, got short_term=%d long_term=%d",
			m.ShortTermCapacity, m.LongTermCapacity)
	}
	if m.PromotionThreshold < 0 {
		return fmt.Errorf("memory.promotion_threshold must be non-negative, got %d", m.PromotionThreshold)
	}
	return nil
}

// ValidateOrchestrator checks the team and review gate settings.
func ValidateOrchestrator(o OrchestratorConfig) error {
	roles, err := o.Roles()
	if err != nil {
		return fmt.Errorf("orchestrator.team: %w", err)
	}
	if len(roles) > 0 {
		for _, required := range worker.RequiredRoles {
			if !slices.Contains(roles, required) {
				return fmt.Errorf("orchestrator.team is missing required role %q", required)
			}
		}
	}
	if o.MaxIterations < 0 {
		return fmt.Errorf("orchestrator.max_iterations must be non-negative, got %d", o.MaxIterations)
	}
	if o.QualityThreshold < 0 || o.QualityThreshold > 100 {
		return fmt.Errorf("orchestrator.quality_threshold must be between 0 and 100, got %d", o.QualityThreshold)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors. An enabled otlp
// exporter must name its collector.
func ValidateTracing(t tracing.Config) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("tracing.%w", err)
	}
	if t.Enabled && t.Exporter == tracing.ExporterOTLP && t.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlp_endpoint is required when exporter is %q", tracing.ExporterOTLP)
	}
	return nil
}

// ValidateMetrics requires a listen address when metrics are enabled.
func ValidateMetrics(m MetricsConfig) error {
	if m.Enabled && m.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# devteam configuration

# Model client
llm:
  # Primary provider: mock (default, offline), openai, anthropic, gemini, groq, ollama
  provider: mock
  # api_key: ""            # Overrides <PROVIDER>_API_KEY for the primary only
  # model: gpt-4o-mini     # Provider default when empty
  # base_url: ""           # Custom endpoint for the primary
  temperature: 0.7
  max_tokens: 4096

  # Tried in order after the primary; providers without a credential are skipped.
  # Credentials come from OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY,
  # GROQ_API_KEY and OLLAMA_HOST.
  failover: [openai, anthropic, gemini, groq, ollama]

  # rate_limit: 2          # Requests per second per provider (0 = unlimited)
  # rate_burst: 1
  # cache_ttl: 10m         # Cache identical completions (0 = disabled)
  # attempt_timeout: 2m    # Fail over when a provider call takes longer (0 = no limit)

# Message router
router:
  max_queue_size: 100      # Per-recipient queue bound
  history_limit: 1000      # Messages kept for inspection
  request_timeout: 30s     # Default reply window for request/response

# Tiered memory store
memory:
  short_term_capacity: 100
  long_term_capacity: 1000
  promotion_threshold: 5   # Access count that promotes an entry to long-term
  # database_path: ~/.config/devteam/memory.db  # Snapshot store for 'devteam memory'

# Pipeline
orchestrator:
  project_name: untitled-project
  # Enabled roles: product_manager, architect, designer, developer, security, qa
  team: [product_manager, architect, designer, developer, qa]
  max_iterations: 3        # Review attempts per run
  quality_threshold: 80    # Score (0-100) that passes review
  # require_approval: true # Confirm architecture and implementation on the terminal

# Distributed tracing
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/devteam/traces/traces.jsonl
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)

# Prometheus metrics
# metrics:
#   enabled: false
#   addr: ":9090"
#   path: /metrics
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides, e.g. DEVTEAM_LLM_PROVIDER.
const EnvPrefix = "DEVTEAM"

// SetDefaults registers Defaults() on v key by key, so a config file that
// sets only some keys of a section keeps the defaults for the rest.
func SetDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.failover", d.LLM.Failover)
	v.SetDefault("llm.rate_limit", d.LLM.RateLimit)
	v.SetDefault("llm.rate_burst", d.LLM.RateBurst)
	v.SetDefault("llm.cache_ttl", d.LLM.CacheTTL)
	v.SetDefault("llm.attempt_timeout", d.LLM.AttemptTimeout)

	v.SetDefault("router.max_queue_size", d.Router.MaxQueueSize)
	v.SetDefault("router.history_limit", d.Router.HistoryLimit)
	v.SetDefault("router.request_timeout", d.Router.RequestTimeout)

	v.SetDefault("memory.short_term_capacity", d.Memory.ShortTermCapacity)
	v.SetDefault("memory.long_term_capacity", d.Memory.LongTermCapacity)
	v.SetDefault("memory.promotion_threshold", d.Memory.PromotionThreshold)
	v.SetDefault("memory.database_path", d.Memory.DatabasePath)

	v.SetDefault("orchestrator.project_name", d.Orchestrator.ProjectName)
	v.SetDefault("orchestrator.team", d.Orchestrator.Team)
	v.SetDefault("orchestrator.max_iterations", d.Orchestrator.MaxIterations)
	v.SetDefault("orchestrator.quality_threshold", d.Orchestrator.QualityThreshold)
	v.SetDefault("orchestrator.require_approval", d.Orchestrator.RequireApproval)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// BindEnv enables DEVTEAM_* overrides for every key known to v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the configuration held by v. Call SetDefaults
// first.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

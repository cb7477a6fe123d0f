package client

import (
	"fmt"
	"slices"
	"strings"

	"github.com/zjrosen/devteam/internal/orchestration/metrics"
)

// ProviderType identifies a model backend.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderGemini    ProviderType = "gemini"
	ProviderGroq      ProviderType = "groq"
	ProviderOllama    ProviderType = "ollama"
	// ProviderMock is the deterministic offline provider.
	ProviderMock ProviderType = "mock"
)

// DefaultFailoverOrder is the global provider priority used after the primary.
var DefaultFailoverOrder = []ProviderType{
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderGemini,
	ProviderGroq,
	ProviderOllama,
}

// KnownProviders lists every provider type with an adapter in this module,
// registered or not.
func KnownProviders() []ProviderType {
	return append([]ProviderType{ProviderMock}, DefaultFailoverOrder...)
}

// ParseProviderType validates a provider name, case-insensitively.
func ParseProviderType(s string) (ProviderType, error) {
	p := ProviderType(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(KnownProviders(), p) {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
	return p, nil
}

// RequiresAPIKey reports whether p needs an API key to be called.
func (p ProviderType) RequiresAPIKey() bool {
	return p != ProviderOllama && p != ProviderMock
}

// Role is the author of a ModelMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ModelMessage is one turn of a conversation.
type ModelMessage struct {
	Role    Role     `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // URLs or data URIs
}

// Usage is the token accounting returned by providers.
type Usage = metrics.Usage

// ModelResponse is the provider-neutral completion result.
type ModelResponse struct {
	Content      string       `json:"content"`
	Model        string       `json:"model"`
	Provider     ProviderType `json:"provider"`
	Usage        *Usage       `json:"usage,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

// StreamChunk is one increment of a streamed completion. The final chunk has
// Done set and empty Content.
type StreamChunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
)

// ModelConfig configures a ModelClient.
type ModelConfig struct {
	Provider    ProviderType `mapstructure:"provider" yaml:"provider"`
	APIKey      string       `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model       string       `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL     string       `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Temperature float64      `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int          `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// withDefaults fills unset fields.
func (c ModelConfig) withDefaults() ModelConfig {
	if c.Provider == "" {
		c.Provider = ProviderMock
	}
	if c.Temperature < 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return c
}

// CompleteOptions configures a single Complete call.
type CompleteOptions struct {
	// DisableFailover restricts the call to the primary provider.
	DisableFailover bool
}

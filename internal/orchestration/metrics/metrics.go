// Package metrics provides token usage accounting for orchestrator runs and
// Prometheus collectors for the model client.
package metrics

import (
	"fmt"
	"maps"
	"sync"
	"time"
)

// Usage is the token count reported for a single completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TokenMetrics holds cumulative token usage for a run, per phase and per provider.
type TokenMetrics struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	Requests         int `json:"requests"`

	ByPhase    map[string]int `json:"by_phase,omitempty"`
	ByProvider map[string]int `json:"by_provider,omitempty"`

	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// FormatTokenDisplay returns a compact usage string (e.g., "12.3k tokens / 7 requests").
func (m TokenMetrics) FormatTokenDisplay() string {
	if m.Requests == 0 {
		return "-"
	}
	total := fmt.Sprintf("%d", m.TotalTokens)
	if m.TotalTokens >= 1000 {
		total = fmt.Sprintf("%.1fk", float64(m.TotalTokens)/1000)
	}
	return fmt.Sprintf("%s tokens / %d requests", total, m.Requests)
}

// Tracker accumulates TokenMetrics. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	metrics TokenMetrics
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Record adds usage attributed to phase and provider. A nil usage still
// counts as a request.
func (t *Tracker) Record(phase, provider string, usage *Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.Requests++
	t.metrics.LastUpdatedAt = t.now()
	if usage == nil {
		return
	}

	total := usage.TotalTokens
	if total == 0 {
		total = usage.PromptTokens + usage.CompletionTokens
	}
	t.metrics.PromptTokens += usage.PromptTokens
	t.metrics.CompletionTokens += usage.CompletionTokens
	t.metrics.TotalTokens += total

	if phase != "" {
		if t.metrics.ByPhase == nil {
			t.metrics.ByPhase = make(map[string]int)
		}
		t.metrics.ByPhase[phase] += total
	}
	if provider != "" {
		if t.metrics.ByProvider == nil {
			t.metrics.ByProvider = make(map[string]int)
		}
		t.metrics.ByProvider[provider] += total
	}
}

// Snapshot returns a copy of the accumulated metrics.
func (t *Tracker) Snapshot() TokenMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.metrics
	m.ByPhase = maps.Clone(t.metrics.ByPhase)
	m.ByProvider = maps.Clone(t.metrics.ByProvider)
	return m
}

// Reset clears all accumulated usage.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = TokenMetrics{}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors holds the Prometheus metrics exported by the model client.
//
// Metrics:
//   - devteam_llm_requests_total{provider} - completions attempted
//   - devteam_llm_failures_total{provider} - completions that returned an error
//   - devteam_llm_failovers_total{from,to} - failovers between providers
//   - devteam_llm_request_duration_seconds{provider} - completion latency
//   - devteam_llm_tokens_total{provider,kind} - prompt and completion tokens
//   - devteam_llm_cache_hits_total - completions served from the response cache
type Collectors struct {
	Requests  *prometheus.CounterVec
	Failures  *prometheus.CounterVec
	Failovers *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	Tokens    *prometheus.CounterVec
	CacheHits prometheus.Counter
}

// NewCollectors creates the client metrics and registers them with reg.
// Registering twice on the same registry panics, so callers own one
// Collectors per registry.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devteam_llm_requests_total",
				Help: "Total number of completion requests issued per provider",
			},
			[]string{"provider"},
		),
		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devteam_llm_failures_total",
				Help: "Total number of failed completion requests per provider",
			},
			[]string{"provider"},
		),
		Failovers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devteam_llm_failovers_total",
				Help: "Total number of failovers from one provider to the next",
			},
			[]string{"from", "to"},
		),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devteam_llm_request_duration_seconds",
				Help:    "Duration of completion requests in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"provider"},
		),
		Tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devteam_llm_tokens_total",
				Help: "Total number of tokens consumed per provider",
			},
			[]string{"provider", "kind"}, // "prompt" or "completion"
		),
		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "devteam_llm_cache_hits_total",
				Help: "Total number of completions served from the response cache",
			},
		),
	}
}

// RecordRequest records a completed request. Nil-safe.
func (c *Collectors) RecordRequest(provider string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	c.Requests.WithLabelValues(provider).Inc()
	c.Duration.WithLabelValues(provider).Observe(elapsed.Seconds())
	if err != nil {
		c.Failures.WithLabelValues(provider).Inc()
	}
}

// RecordFailover records a switch from one provider to the next. Nil-safe.
func (c *Collectors) RecordFailover(from, to string) {
	if c == nil {
		return
	}
	c.Failovers.WithLabelValues(from, to).Inc()
}

// RecordUsage adds token counts for provider. Nil-safe.
func (c *Collectors) RecordUsage(provider string, usage *Usage) {
	if c == nil || usage == nil {
		return
	}
	c.Tokens.WithLabelValues(provider, "prompt").Add(float64(usage.PromptTokens))
	c.Tokens.WithLabelValues(provider, "completion").Add(float64(usage.CompletionTokens))
}

// RecordCacheHit counts a response served from cache. Nil-safe.
func (c *Collectors) RecordCacheHit() {
	if c == nil {
		return
	}
	c.CacheHits.Inc()
}

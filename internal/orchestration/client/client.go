package client

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/zjrosen/devteam/internal/cachemanager"
	"github.com/zjrosen/devteam/internal/log"
	"github.com/zjrosen/devteam/internal/orchestration/metrics"
	"github.com/zjrosen/devteam/internal/orchestration/tracing"
	"github.com/zjrosen/devteam/internal/pubsub"
)

// Option configures a ModelClient.
type Option func(*ModelClient)

// WithProvider uses p for its type instead of the registered factory.
func WithProvider(p Provider) Option {
	return func(c *ModelClient) {
		c.providers[p.Type()] = p
	}
}

// WithFailoverOrder replaces DefaultFailoverOrder.
func WithFailoverOrder(order ...ProviderType) Option {
	return func(c *ModelClient) {
		c.failoverOrder = slices.Clone(order)
	}
}

// WithCredentials replaces EnvCredentials as the credential source.
func WithCredentials(fn CredentialFunc) Option {
	return func(c *ModelClient) {
		c.credentials = fn
	}
}

// WithAttemptTimeout bounds each provider attempt of Complete so a hung
// provider fails over (default: DefaultHTTPTimeout; <= 0 disables).
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *ModelClient) {
		c.attemptTimeout = d
	}
}

// WithRateLimit paces calls to each provider independently.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *ModelClient) {
		c.rateLimit = limit
		c.rateBurst = burst
	}
}

// WithMetrics records request, failure and failover counters.
func WithMetrics(m *metrics.Collectors) Option {
	return func(c *ModelClient) {
		c.metrics = m
	}
}

// WithTracer opens a span per completion and per provider attempt.
func WithTracer(t trace.Tracer) Option {
	return func(c *ModelClient) {
		c.tracer = t
	}
}

// WithResponseCache serves identical Complete calls from cache for ttl.
func WithResponseCache(cache cachemanager.CacheManager[string, ModelResponse], ttl time.Duration) Option {
	return func(c *ModelClient) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// ModelClient issues completions against a primary provider with ordered
// failover. It is safe for concurrent use.
type ModelClient struct {
	cfg           ModelConfig
	failoverOrder []ProviderType
	credentials   CredentialFunc

	// providers caches resolved providers, guarded by providersM.
	providersM sync.Mutex
	providers  map[ProviderType]Provider

	attemptTimeout time.Duration

	rateLimit rate.Limit
	rateBurst int
	limitersM sync.Mutex
	limiters  map[ProviderType]*rate.Limiter

	metrics  *metrics.Collectors
	tracer   trace.Tracer
	cache    cachemanager.CacheManager[string, ModelResponse]
	cacheTTL time.Duration

	requests atomic.Int64
	broker   *pubsub.Broker[Event]
}

// New creates a ModelClient. The primary provider must be registered or
// injected with WithProvider.
func New(cfg ModelConfig, opts ...Option) (*ModelClient, error) {
	c := &ModelClient{
		cfg:            cfg.withDefaults(),
		providers:      make(map[ProviderType]Provider),
		failoverOrder:  slices.Clone(DefaultFailoverOrder),
		credentials:    EnvCredentials,
		attemptTimeout: DefaultHTTPTimeout,
		limiters:       make(map[ProviderType]*rate.Limiter),
		broker:         pubsub.NewBroker[Event](),
	}
	for _, opt := range opts {
		opt(c)
	}

	if _, err := c.provider(c.cfg.Provider); err != nil {
		return nil, err
	}

	log.Debug(log.CatLLM, "Model client created",
		"provider", c.cfg.Provider,
		"model", c.cfg.Model,
		"real", c.IsRealLLM())
	return c, nil
}

// Config returns the effective configuration with the API key redacted.
func (c *ModelClient) Config() ModelConfig {
	cfg := c.cfg
	if cfg.APIKey != "" {
		cfg.APIKey = "***"
	}
	return cfg
}

// PrimaryProvider returns the configured provider.
func (c *ModelClient) PrimaryProvider() ProviderType {
	return c.cfg.Provider
}

// RequestCount returns the number of Complete and Stream calls made.
func (c *ModelClient) RequestCount() int64 {
	return c.requests.Load()
}

// IsRealLLM reports whether the primary provider is a real backend with a
// usable credential.
func (c *ModelClient) IsRealLLM() bool {
	p := c.cfg.Provider
	if p == ProviderMock {
		return false
	}
	return !p.RequiresAPIKey() || c.credential(p, true) != ""
}

// AvailableProviders returns the providers Complete would try, in order.
func (c *ModelClient) AvailableProviders() []ProviderType {
	cands, _ := c.candidates(true)
	out := make([]ProviderType, len(cands))
	for i, cand := range cands {
		out[i] = cand.provider.Type()
	}
	return out
}

// Events returns a stream of provider_failed, failover and completed events.
func (c *ModelClient) Events(ctx context.Context) <-chan pubsub.Event[Event] {
	return c.broker.Subscribe(ctx)
}

// OnEvent registers a synchronous event listener.
func (c *ModelClient) OnEvent(fn func(Event)) func() {
	return c.broker.Listen(func(e pubsub.Event[Event]) { fn(e.Payload) })
}

// Complete returns the first successful completion among the candidate
// providers. When every candidate fails, the last error is returned.
func (c *ModelClient) Complete(ctx context.Context, messages []ModelMessage, opts CompleteOptions) (*ModelResponse, error) {
	if len(messages) == 0 {
		return nil, ErrEmptyMessages
	}
	c.requests.Add(1)

	ctx, span := tracing.Start(ctx, c.tracer, tracing.SpanComplete,
		attribute.String(tracing.AttrProvider, string(c.cfg.Provider)),
		attribute.String(tracing.AttrModel, c.cfg.Model),
	)

	if c.cache == nil {
		resp, err := c.complete(ctx, messages, opts)
		c.annotate(span, resp, false)
		tracing.End(span, err)
		return resp, err
	}

	rt := cachemanager.NewReadThroughCache[string, ModelResponse, CompleteOptions](c.cache,
		func(ctx context.Context, opts CompleteOptions) (ModelResponse, error) {
			resp, err := c.complete(ctx, messages, opts)
			if err != nil {
				return ModelResponse{}, err
			}
			return *resp, nil
		}, false)

	resp, hit, err := rt.Get(ctx, c.cacheKey(messages, opts), opts, c.cacheTTL)
	if err != nil {
		tracing.End(span, err)
		return nil, err
	}
	if hit {
		log.Debug(log.CatLLM, "Completion served from cache", "provider", resp.Provider)
		c.metrics.RecordCacheHit()
	}
	c.annotate(span, &resp, hit)
	tracing.End(span, nil)
	return &resp, nil
}

func (c *ModelClient) complete(ctx context.Context, messages []ModelMessage, opts CompleteOptions) (*ModelResponse, error) {
	cands, lastErr := c.candidates(!opts.DisableFailover)

	for i, cand := range cands {
		p := cand.provider.Type()
		if err := c.wait(ctx, p); err != nil {
			return nil, err
		}

		attemptCtx, span := tracing.StartAttempt(ctx, c.tracer, string(p))
		cancel := context.CancelFunc(func() {})
		if c.attemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(attemptCtx, c.attemptTimeout)
		}
		start := time.Now()
		resp, err := cand.provider.Complete(attemptCtx, c.request(messages, cand))
		cancel()
		c.metrics.RecordRequest(string(p), time.Since(start), err)
		tracing.End(span, err)

		if err == nil {
			if resp.Provider == "" {
				resp.Provider = p
			}
			c.metrics.RecordUsage(string(p), resp.Usage)
			c.publish(Event{Type: EventCompleted, Provider: p, Usage: resp.Usage})
			return resp, nil
		}

		lastErr = err
		log.Warn(log.CatLLM, "Provider failed", "provider", p, "error", err)
		c.publish(Event{Type: EventProviderFailed, Provider: p, Error: err})

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", p, ctx.Err())
		}
		if i+1 < len(cands) {
			next := cands[i+1].provider.Type()
			log.Info(log.CatLLM, "Failing over", "from", p, "to", next)
			c.metrics.RecordFailover(string(p), string(next))
			c.publish(Event{Type: EventFailover, Provider: p, Next: next, Error: err})
		}
	}

	if lastErr == nil {
		lastErr = ErrNoProviders
	}
	return nil, lastErr
}

// Stream yields the completion incrementally. Failover applies only until
// the first chunk has been yielded; later errors end the sequence.
func (c *ModelClient) Stream(ctx context.Context, messages []ModelMessage) iter.Seq2[StreamChunk, error] {
	return func(yield func(StreamChunk, error) bool) {
		if len(messages) == 0 {
			yield(StreamChunk{}, ErrEmptyMessages)
			return
		}
		c.requests.Add(1)

		cands, lastErr := c.candidates(true)
		for i, cand := range cands {
			p := cand.provider.Type()
			if err := c.wait(ctx, p); err != nil {
				yield(StreamChunk{}, err)
				return
			}

			var (
				emitted bool
				failed  error
			)
			for chunk, err := range cand.provider.Stream(ctx, c.request(messages, cand)) {
				if err != nil {
					failed = err
					break
				}
				if chunk.Done {
					c.publish(Event{Type: EventCompleted, Provider: p})
					yield(StreamChunk{Done: true}, nil)
					return
				}
				emitted = true
				if !yield(chunk, nil) {
					return
				}
			}
			if failed == nil {
				// Provider ended without a terminal chunk
				yield(StreamChunk{Done: true}, nil)
				return
			}

			lastErr = failed
			log.Warn(log.CatLLM, "Provider stream failed", "provider", p, "error", failed)
			c.publish(Event{Type: EventProviderFailed, Provider: p, Error: failed})
			if emitted || ctx.Err() != nil {
				yield(StreamChunk{}, failed)
				return
			}
			if i+1 < len(cands) {
				next := cands[i+1].provider.Type()
				c.metrics.RecordFailover(string(p), string(next))
				c.publish(Event{Type: EventFailover, Provider: p, Next: next, Error: failed})
			}
		}

		if lastErr == nil {
			lastErr = ErrNoProviders
		}
		yield(StreamChunk{}, lastErr)
	}
}

// candidate is a provider with its resolved credential.
type candidate struct {
	provider   Provider
	credential string
	primary    bool
}

// candidates lists the primary provider followed, when failover is enabled
// and the primary is not the mock, by every other provider in failover
// order that has a credential. The returned error explains a primary that
// was skipped.
func (c *ModelClient) candidates(failover bool) ([]candidate, error) {
	var (
		out     []candidate
		skipErr error
	)

	primary := c.cfg.Provider
	if p, err := c.provider(primary); err != nil {
		skipErr = err
	} else if cred := c.credential(primary, true); primary.RequiresAPIKey() && cred == "" {
		skipErr = fmt.Errorf("%w: %s (set %s)", ErrMissingCredential, primary, CredentialEnvVar(primary))
	} else {
		out = append(out, candidate{provider: p, credential: cred, primary: true})
	}

	if !failover || primary == ProviderMock {
		return out, skipErr
	}

	for _, t := range c.failoverOrder {
		if t == primary || t == ProviderMock {
			continue
		}
		cred := c.credential(t, false)
		if cred == "" {
			continue
		}
		p, err := c.provider(t)
		if err != nil {
			continue
		}
		out = append(out, candidate{provider: p, credential: cred})
	}
	return out, skipErr
}

// credential resolves the credential for p. The explicit APIKey applies to
// the primary only.
func (c *ModelClient) credential(p ProviderType, primary bool) string {
	if primary && c.cfg.APIKey != "" {
		return c.cfg.APIKey
	}
	if c.credentials == nil {
		return ""
	}
	return c.credentials(p)
}

// provider returns the cached provider of type t, creating it on first use.
func (c *ModelClient) provider(t ProviderType) (Provider, error) {
	c.providersM.Lock()
	defer c.providersM.Unlock()
	if p, ok := c.providers[t]; ok {
		return p, nil
	}
	p, err := NewProvider(t)
	if err != nil {
		return nil, err
	}
	c.providers[t] = p
	return p, nil
}

// request builds the provider request. Model and BaseURL from the config
// apply to the primary only; failover providers use their defaults.
func (c *ModelClient) request(messages []ModelMessage, cand candidate) Request {
	req := Request{
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if cand.primary {
		req.Model = c.cfg.Model
		req.BaseURL = c.cfg.BaseURL
	}
	if cand.provider.Type() == ProviderOllama {
		if req.BaseURL == "" {
			req.BaseURL = cand.credential
		}
	} else {
		req.APIKey = cand.credential
	}
	return req
}

func (c *ModelClient) wait(ctx context.Context, p ProviderType) error {
	if c.rateLimit == 0 {
		return nil
	}
	c.limitersM.Lock()
	lim, ok := c.limiters[p]
	if !ok {
		burst := c.rateBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(c.rateLimit, burst)
		c.limiters[p] = lim
	}
	c.limitersM.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", p, err)
	}
	return nil
}

func (c *ModelClient) cacheKey(messages []ModelMessage, opts CompleteOptions) string {
	encoded, _ := json.Marshal(messages)
	return cachemanager.Key(
		string(c.cfg.Provider),
		c.cfg.Model,
		strconv.FormatFloat(c.cfg.Temperature, 'f', -1, 64),
		strconv.Itoa(c.cfg.MaxTokens),
		strconv.FormatBool(opts.DisableFailover),
		string(encoded),
	)
}

func (c *ModelClient) annotate(span trace.Span, resp *ModelResponse, cached bool) {
	if resp == nil {
		return
	}
	span.SetAttributes(
		attribute.String(tracing.AttrProvider, string(resp.Provider)),
		attribute.Bool(tracing.AttrCacheHit, cached),
	)
	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int(tracing.AttrPromptTokens, resp.Usage.PromptTokens),
			attribute.Int(tracing.AttrCompletionTokens, resp.Usage.CompletionTokens),
		)
	}
}

func (c *ModelClient) publish(e Event) {
	c.broker.Publish(pubsub.CreatedEvent, e)
}

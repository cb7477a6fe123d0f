package client

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/zjrosen/devteam/internal/cachemanager"
	"github.com/zjrosen/devteam/internal/orchestration/metrics"
)

// fakeProvider returns a fixed response or error and records its calls.
type fakeProvider struct {
	typ    ProviderType
	err    error
	chunks []string
	// failAfter makes Stream fail after this many chunks (-1 disables).
	failAfter int

	mu    sync.Mutex
	calls []Request
}

func newFake(typ ProviderType, err error) *fakeProvider {
	return &fakeProvider{typ: typ, err: err, chunks: []string{"hel", "lo"}, failAfter: -1}
}

func (f *fakeProvider) Type() ProviderType { return f.typ }

func (f *fakeProvider) Complete(_ context.Context, req Request) (*ModelResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &ModelResponse{
		Content: "from " + string(f.typ),
		Model:   req.Model,
		Usage:   &Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7},
	}, nil
}

func (f *fakeProvider) Stream(_ context.Context, req Request) iter.Seq2[StreamChunk, error] {
	return func(yield func(StreamChunk, error) bool) {
		f.mu.Lock()
		f.calls = append(f.calls, req)
		f.mu.Unlock()
		if f.err != nil && f.failAfter < 0 {
			yield(StreamChunk{}, f.err)
			return
		}
		for i, c := range f.chunks {
			if i == f.failAfter {
				yield(StreamChunk{}, f.err)
				return
			}
			if !yield(StreamChunk{Content: c}, nil) {
				return
			}
		}
		yield(StreamChunk{Done: true}, nil)
	}
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func keys(m map[ProviderType]string) CredentialFunc {
	return func(p ProviderType) string { return m[p] }
}

var userMsg = []ModelMessage{{Role: RoleUser, Content: "hi"}}

func TestComplete_FailsOverToNextProvider(t *testing.T) {
	a := newFake(ProviderOpenAI, errors.New("rate limited"))
	b := newFake(ProviderAnthropic, nil)

	c, err := New(ModelConfig{Provider: ProviderOpenAI, Model: "gpt-test"},
		WithProvider(a), WithProvider(b),
		WithFailoverOrder(ProviderOpenAI, ProviderAnthropic),
		WithCredentials(keys(map[ProviderType]string{ProviderOpenAI: "ka", ProviderAnthropic: "kb"})),
	)
	require.NoError(t, err)

	var events []Event
	c.OnEvent(func(e Event) { events = append(events, e) })

	resp, err := c.Complete(context.Background(), userMsg, CompleteOptions{})
	require.NoError(t, err)
	require.Equal(t, "from anthropic", resp.Content)
	require.Equal(t, ProviderAnthropic, resp.Provider)
	require.Equal(t, 1, a.callCount())
	require.Equal(t, 1, b.callCount())
	require.Equal(t, int64(1), c.RequestCount())

	require.Len(t, events, 3)
	require.Equal(t, EventProviderFailed, events[0].Type)
	require.Equal(t, ProviderOpenAI, events[0].Provider)
	require.EqualError(t, events[0].Error, "rate limited")
	require.Equal(t, EventFailover, events[1].Type)
	require.Equal(t, ProviderAnthropic, events[1].Next)
	require.Equal(t, EventCompleted, events[2].Type)

	// Primary gets the configured model and key, failover uses defaults
	require.Equal(t, "gpt-test", a.calls[0].Model)
	require.Equal(t, "ka", a.calls[0].APIKey)
	require.Empty(t, b.calls[0].Model)
	require.Equal(t, "kb", b.calls[0].APIKey)
}

// registerFakes registers fake factories for types and restores the
// previous registry entries on cleanup.
func registerFakes(t *testing.T, types ...ProviderType) {
	t.Helper()
	for _, typ := range types {
		prev, had := providerRegistry[typ]
		RegisterProvider(typ, func() Provider { return newFake(typ, nil) })
		t.Cleanup(func() {
			if had {
				providerRegistry[typ] = prev
			} else {
				delete(providerRegistry, typ)
			}
		})
	}
}

func TestComplete_ConcurrentFailover(t *testing.T) {
	registerFakes(t, ProviderAnthropic, ProviderGemini, ProviderGroq)
	primary := newFake(ProviderOpenAI, errors.New("overloaded"))

	c, err := New(ModelConfig{Provider: ProviderOpenAI},
		WithProvider(primary),
		WithFailoverOrder(ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderGroq),
		WithCredentials(func(ProviderType) string { return "key" }),
	)
	require.NoError(t, err)

	const callers = 50
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.Complete(context.Background(), userMsg, CompleteOptions{})
			if err == nil && resp.Provider != ProviderAnthropic {
				err = fmt.Errorf("served by %s", resp.Provider)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, callers, primary.callCount())
	require.Equal(t,
		[]ProviderType{ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderGroq},
		c.AvailableProviders())
}

// hangingProvider blocks until its context is done.
type hangingProvider struct{ typ ProviderType }

func (h hangingProvider) Type() ProviderType { return h.typ }

func (h hangingProvider) Complete(ctx context.Context, _ Request) (*ModelResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (h hangingProvider) Stream(ctx context.Context, _ Request) iter.Seq2[StreamChunk, error] {
	return func(yield func(StreamChunk, error) bool) {
		<-ctx.Done()
		yield(StreamChunk{}, ctx.Err())
	}
}

func TestComplete_AttemptTimeoutFailsOver(t *testing.T) {
	next := newFake(ProviderAnthropic, nil)
	c, err := New(ModelConfig{Provider: ProviderOpenAI},
		WithProvider(hangingProvider{typ: ProviderOpenAI}), WithProvider(next),
		WithFailoverOrder(ProviderOpenAI, ProviderAnthropic),
		WithCredentials(func(ProviderType) string { return "key" }),
		WithAttemptTimeout(50*time.Millisecond),
	)
	require.NoError(t, err)

	var failed []Event
	c.OnEvent(func(e Event) {
		if e.Type == EventProviderFailed {
			failed = append(failed, e)
		}
	})

	start := time.Now()
	resp, err := c.Complete(context.Background(), userMsg, CompleteOptions{})
	require.NoError(t, err)
	require.Equal(t, ProviderAnthropic, resp.Provider)
	require.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, failed, 1)
	require.ErrorIs(t, failed[0].Error, context.DeadlineExceeded)
}

func TestNew_DefaultAttemptTimeout(t *testing.T) {
	c, err := New(ModelConfig{Provider: ProviderOpenAI}, WithProvider(newFake(ProviderOpenAI, nil)))
	require.NoError(t, err)
	require.Equal(t, DefaultHTTPTimeout, c.attemptTimeout)
}

func TestComplete_ExplicitKeyAppliesToPrimaryOnly(t *testing.T) {
	a := newFake(ProviderOpenAI, nil)
	c, err := New(ModelConfig{Provider: ProviderOpenAI, APIKey: "explicit"},
		WithProvider(a),
		WithCredentials(keys(map[ProviderType]string{ProviderOpenAI: "env"})),
	)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), userMsg, CompleteOptions{})
	require.NoError(t, err)
	require.Equal(t, "explicit", a.calls[0].APIKey)
	require.Equal(t, "***", c.Config().APIKey)
}

func TestComplete_SkipsProvidersWithoutCredentials(t *testing.T) {
	a := newFake(ProviderOpenAI, nil)
	b := newFake(ProviderAnthropic, nil)
	g := newFake(ProviderGemini, nil)

	c, err := New(ModelConfig{Provider: ProviderOpenAI},
		WithProvider(a), WithProvider(b), WithProvider(g),
		WithFailoverOrder(ProviderOpenAI, ProviderAnthropic, ProviderGemini),
		WithCredentials(keys(map[ProviderType]string{ProviderGemini: "kg"})),
	)
	require.NoError(t, err)
	require.False(t, c.IsRealLLM())
	require.Equal(t, []ProviderType{ProviderGemini}, c.AvailableProviders())

	resp, err := c.Complete(context.Background(), userMsg, CompleteOptions{})
	require.NoError(t, err)
	require.Equal(t, ProviderGemini, resp.Provider)
	require.Zero(t, a.callCount())
	require.Zero(t, b.callCount())
}

func TestComplete_AllProvidersFail(t *testing.T) {
	a := newFake(ProviderOpenAI, errors.New("first"))
	b := newFake(ProviderGroq, errors.New("second"))

	c, err := New(ModelConfig{Provider: ProviderOpenAI},
		WithProvider(a), WithProvider(b),
		WithFailoverOrder(ProviderGroq),
		WithCredentials(keys(map[ProviderType]string{ProviderOpenAI: "a", ProviderGroq: "b"})),
	)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), userMsg, CompleteOptions{})
	require.EqualError(t, err, "second")
}

func TestComplete_MissingPrimaryCredentialWithoutFallback(t *testing.T) {
	a := newFake(ProviderOpenAI, nil)
	c, err := New(ModelConfig{Provider: ProviderOpenAI},
		WithProvider(a),
		WithCredentials(keys(nil)),
	)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), userMsg, CompleteOptions{})
	require.ErrorIs(t, err, ErrMissingCredential)
	require.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestComplete_MockNeverFailsOver(t *testing.T) {
	m := newFake(ProviderMock, errors.New("mock broke"))
	a := newFake(ProviderOpenAI, nil)

	c, err := New(ModelConfig{},
		WithProvider(m), WithProvider(a),
		WithCredentials(keys(map[ProviderType]string{ProviderOpenAI: "k"})),
	)
	require.NoError(t, err)
	require.Equal(t, ProviderMock, c.PrimaryProvider())
	require.False(t, c.IsRealLLM())
	require.Equal(t, []ProviderType{ProviderMock}, c.AvailableProviders())

	_, err = c.Complete(context.Background(), userMsg, CompleteOptions{})
	require.EqualError(t, err, "mock broke")
	require.Zero(t, a.callCount())
}

func TestComplete_DisableFailover(t *testing.T) {
	a := newFake(ProviderOpenAI, errors.New("down"))
	b := newFake(ProviderAnthropic, nil)

	c, err := New(ModelConfig{Provider: ProviderOpenAI},
		WithProvider(a), WithProvider(b),
		WithCredentials(keys(map[ProviderType]string{ProviderOpenAI: "a", ProviderAnthropic: "b"})),
	)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), userMsg, CompleteOptions{DisableFailover: true})
	require.EqualError(t, err, "down")
	require.Zero(t, b.callCount())
}

func TestComplete_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := newFake(ProviderOpenAI, context.Canceled)
	b := newFake(ProviderAnthropic, nil)
	cancel()

	c, err := New(ModelConfig{Provider: ProviderOpenAI},
		WithProvider(a), WithProvider(b),
		WithCredentials(keys(map[ProviderType]string{ProviderOpenAI: "a", ProviderAnthropic: "b"})),
	)
	require.NoError(t, err)

	_, err = c.Complete(ctx, userMsg, CompleteOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, b.callCount())
}

func TestComplete_EmptyMessages(t *testing.T) {
	c, err := New(ModelConfig{}, WithProvider(newFake(ProviderMock, nil)))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), nil, CompleteOptions{})
	require.ErrorIs(t, err, ErrEmptyMessages)
	require.Zero(t, c.RequestCount())
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(ModelConfig{Provider: "nope"})
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestComplete_ResponseCache(t *testing.T) {
	a := newFake(ProviderOpenAI, nil)
	reg := prometheus.NewRegistry()
	collectors := metrics.NewCollectors(reg)
	cache := cachemanager.NewInMemoryCacheManager[string, ModelResponse]("responses", time.Minute, time.Minute)

	c, err := New(ModelConfig{Provider: ProviderOpenAI},
		WithProvider(a),
		WithCredentials(keys(map[ProviderType]string{ProviderOpenAI: "k"})),
		WithResponseCache(cache, time.Minute),
		WithMetrics(collectors),
	)
	require.NoError(t, err)

	first, err := c.Complete(context.Background(), userMsg, CompleteOptions{})
	require.NoError(t, err)
	second, err := c.Complete(context.Background(), userMsg, CompleteOptions{})
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, a.callCount())
	require.Equal(t, 1.0, testutil.ToFloat64(collectors.CacheHits))
	require.Equal(t, 1.0, testutil.ToFloat64(collectors.Requests.WithLabelValues("openai")))
	require.Equal(t, 7.0, testutil.ToFloat64(collectors.Tokens.WithLabelValues("openai", "completion"))+
		testutil.ToFloat64(collectors.Tokens.WithLabelValues("openai", "prompt")))

	// A different conversation misses
	_, err = c.Complete(context.Background(), []ModelMessage{{Role: RoleUser, Content: "other"}}, CompleteOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, a.callCount())
}

func TestComplete_FailoverMetrics(t *testing.T) {
	a := newFake(ProviderOpenAI, errors.New("boom"))
	b := newFake(ProviderAnthropic, nil)
	collectors := metrics.NewCollectors(prometheus.NewRegistry())

	c, err := New(ModelConfig{Provider: ProviderOpenAI},
		WithProvider(a), WithProvider(b),
		WithCredentials(keys(map[ProviderType]string{ProviderOpenAI: "a", ProviderAnthropic: "b"})),
		WithMetrics(collectors),
	)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), userMsg, CompleteOptions{})
	require.NoError(t, err)
	require.Equal(t, 1.0, testutil.ToFloat64(collectors.Failures.WithLabelValues("openai")))
	require.Equal(t, 1.0, testutil.ToFloat64(collectors.Failovers.WithLabelValues("openai", "anthropic")))
}

func TestComplete_RateLimitHonorsContext(t *testing.T) {
	a := newFake(ProviderOpenAI, nil)
	c, err := New(ModelConfig{Provider: ProviderOpenAI},
		WithProvider(a),
		WithCredentials(keys(map[ProviderType]string{ProviderOpenAI: "k"})),
		WithRateLimit(rate.Every(time.Hour), 1),
	)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), userMsg, CompleteOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, userMsg, CompleteOptions{})
	require.Error(t, err)
	require.Equal(t, 1, a.callCount())
}

func collect(seq iter.Seq2[StreamChunk, error]) ([]StreamChunk, error) {
	var chunks []StreamChunk
	for chunk, err := range seq {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func TestStream_EndsWithDoneChunk(t *testing.T) {
	a := newFake(ProviderOpenAI, nil)
	c, err := New(ModelConfig{Provider: ProviderOpenAI},
		WithProvider(a),
		WithCredentials(keys(map[ProviderType]string{ProviderOpenAI: "k"})),
	)
	require.NoError(t, err)

	chunks, err := collect(c.Stream(context.Background(), userMsg))
	require.NoError(t, err)
	require.Equal(t, []StreamChunk{{Content: "hel"}, {Content: "lo"}, {Done: true}}, chunks)
	require.Equal(t, int64(1), c.RequestCount())
}

func TestStream_FailsOverBeforeFirstChunk(t *testing.T) {
	a := newFake(ProviderOpenAI, errors.New("refused"))
	b := newFake(ProviderAnthropic, nil)
	b.chunks = []string{"ok"}

	c, err := New(ModelConfig{Provider: ProviderOpenAI},
		WithProvider(a), WithProvider(b),
		WithCredentials(keys(map[ProviderType]string{ProviderOpenAI: "a", ProviderAnthropic: "b"})),
	)
	require.NoError(t, err)

	chunks, err := collect(c.Stream(context.Background(), userMsg))
	require.NoError(t, err)
	require.Equal(t, []StreamChunk{{Content: "ok"}, {Done: true}}, chunks)
}

func TestStream_NoFailoverAfterFirstChunk(t *testing.T) {
	a := newFake(ProviderOpenAI, errors.New("connection reset"))
	a.failAfter = 1
	b := newFake(ProviderAnthropic, nil)

	c, err := New(ModelConfig{Provider: ProviderOpenAI},
		WithProvider(a), WithProvider(b),
		WithCredentials(keys(map[ProviderType]string{ProviderOpenAI: "a", ProviderAnthropic: "b"})),
	)
	require.NoError(t, err)

	chunks, err := collect(c.Stream(context.Background(), userMsg))
	require.EqualError(t, err, "connection reset")
	require.Equal(t, []StreamChunk{{Content: "hel"}}, chunks)
	require.Zero(t, b.callCount())
}

func TestStream_ConsumerBreak(t *testing.T) {
	a := newFake(ProviderOpenAI, nil)
	a.chunks = []string{"a", "b", "c"}
	c, err := New(ModelConfig{Provider: ProviderOpenAI},
		WithProvider(a),
		WithCredentials(keys(map[ProviderType]string{ProviderOpenAI: "k"})),
	)
	require.NoError(t, err)

	var got []string
	for chunk, err := range c.Stream(context.Background(), userMsg) {
		require.NoError(t, err)
		got = append(got, chunk.Content)
		break
	}
	require.Equal(t, []string{"a"}, got)
}

func TestRegistry(t *testing.T) {
	RegisterProvider("fake-test", func() Provider { return newFake("fake-test", nil) })
	t.Cleanup(func() { delete(providerRegistry, "fake-test") })

	require.True(t, IsRegistered("fake-test"))
	require.Contains(t, RegisteredProviders(), ProviderType("fake-test"))

	p, err := NewProvider("fake-test")
	require.NoError(t, err)
	require.Equal(t, ProviderType("fake-test"), p.Type())

	_, err = NewProvider("missing")
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestCredentialEnvVar(t *testing.T) {
	require.Equal(t, "OPENAI_API_KEY", CredentialEnvVar(ProviderOpenAI))
	require.Equal(t, "GROQ_API_KEY", CredentialEnvVar(ProviderGroq))
	require.Equal(t, "OLLAMA_HOST", CredentialEnvVar(ProviderOllama))

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	require.Equal(t, "sk-ant", EnvCredentials(ProviderAnthropic))
}

func TestModelConfigDefaults(t *testing.T) {
	cfg := ModelConfig{Temperature: -1}.withDefaults()
	require.Equal(t, ProviderMock, cfg.Provider)
	require.Equal(t, DefaultTemperature, cfg.Temperature)
	require.Equal(t, DefaultMaxTokens, cfg.MaxTokens)

	// Zero temperature is a valid setting
	cfg = ModelConfig{Provider: ProviderOpenAI, MaxTokens: 10}.withDefaults()
	require.Zero(t, cfg.Temperature)
	require.Equal(t, 10, cfg.MaxTokens)
}

func TestParseProviderType(t *testing.T) {
	p, err := ParseProviderType(" Anthropic ")
	require.NoError(t, err)
	require.Equal(t, ProviderAnthropic, p)

	_, err = ParseProviderType("claude")
	require.ErrorIs(t, err, ErrUnknownProvider)

	require.Equal(t, ProviderMock, KnownProviders()[0])
	require.Len(t, KnownProviders(), len(DefaultFailoverOrder)+1)
}

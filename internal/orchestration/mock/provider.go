package mock

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/devteam/internal/orchestration/client"
)

// Model is reported on every response.
const Model = "mock-1"

func init() {
	client.RegisterProvider(client.ProviderMock, func() client.Provider {
		return New()
	})
}

// Provider is a deterministic client.Provider.
type Provider struct {
	// RespondFunc replaces the canned answers when set.
	RespondFunc func(req client.Request) (string, error)

	// Latency delays each call. Cancellation of the context aborts the wait.
	Latency time.Duration

	mu       sync.Mutex
	requests []client.Request
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Type() client.ProviderType {
	return client.ProviderMock
}

func (p *Provider) Complete(ctx context.Context, req client.Request) (*client.ModelResponse, error) {
	content, err := p.respond(ctx, req)
	if err != nil {
		return nil, err
	}

	prompt := 0
	for _, m := range req.Messages {
		prompt += estimateTokens(m.Content)
	}
	completion := estimateTokens(content)
	return &client.ModelResponse{
		Content:      content,
		Model:        Model,
		Provider:     client.ProviderMock,
		FinishReason: "stop",
		Usage: &client.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}, nil
}

// Stream yields the answer word by word.
func (p *Provider) Stream(ctx context.Context, req client.Request) iter.Seq2[client.StreamChunk, error] {
	return func(yield func(client.StreamChunk, error) bool) {
		content, err := p.respond(ctx, req)
		if err != nil {
			yield(client.StreamChunk{}, err)
			return
		}
		for _, word := range strings.SplitAfter(content, " ") {
			if word == "" {
				continue
			}
			if !yield(client.StreamChunk{Content: word}, nil) {
				return
			}
		}
		yield(client.StreamChunk{Done: true}, nil)
	}
}

// Requests returns every request received, oldest first.
func (p *Provider) Requests() []client.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]client.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// CallCount returns how many requests were received.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *Provider) respond(ctx context.Context, req client.Request) (string, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.Latency > 0 {
		timer := time.NewTimer(p.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if p.RespondFunc != nil {
		return p.RespondFunc(req)
	}
	return Answer(req.Messages)
}

// estimateTokens approximates four characters per token.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return len(s)/4 + 1
}

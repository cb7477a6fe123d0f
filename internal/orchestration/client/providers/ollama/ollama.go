// Package ollama adapts a local Ollama server through langchaingo.
package ollama

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/zjrosen/devteam/internal/log"
	"github.com/zjrosen/devteam/internal/orchestration/client"
)

const (
	DefaultServerURL = "http://localhost:11434"
	DefaultModel     = "llama3.2"
)

func init() {
	client.RegisterProvider(client.ProviderOllama, func() client.Provider {
		return New()
	})
}

// Provider calls Ollama's chat endpoint. The request's BaseURL is the server
// host; it needs no API key.
type Provider struct{}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Type() client.ProviderType {
	return client.ProviderOllama
}

func (p *Provider) Complete(ctx context.Context, req client.Request) (*client.ModelResponse, error) {
	llm, model, err := newLLM(req)
	if err != nil {
		return nil, err
	}

	resp, err := llm.GenerateContent(ctx, messages(req.Messages), callOptions(req)...)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("ollama returned no choices")
	}

	choice := resp.Choices[0]
	return &client.ModelResponse{
		Content:      choice.Content,
		Model:        model,
		Provider:     client.ProviderOllama,
		FinishReason: choice.StopReason,
		Usage:        usage(choice.GenerationInfo),
	}, nil
}

// Stream bridges langchaingo's streaming callback to a sequence. The
// callback goroutine stops when the consumer breaks.
func (p *Provider) Stream(ctx context.Context, req client.Request) iter.Seq2[client.StreamChunk, error] {
	return func(yield func(client.StreamChunk, error) bool) {
		llm, _, err := newLLM(req)
		if err != nil {
			yield(client.StreamChunk{}, err)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		chunks := make(chan string)
		done := make(chan error, 1)
		go func() {
			opts := append(callOptions(req), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				select {
				case chunks <- string(chunk):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}))
			_, err := llm.GenerateContent(ctx, messages(req.Messages), opts...)
			done <- err
		}()

		for {
			select {
			case chunk := <-chunks:
				if chunk == "" {
					continue
				}
				if !yield(client.StreamChunk{Content: chunk}, nil) {
					return
				}
			case err := <-done:
				if err != nil {
					yield(client.StreamChunk{}, fmt.Errorf("ollama: %w", err))
					return
				}
				yield(client.StreamChunk{Done: true}, nil)
				return
			}
		}
	}
}

func newLLM(req client.Request) (*ollama.LLM, string, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	llm, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(serverURL(req.BaseURL)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("create ollama client: %w", err)
	}
	return llm, model, nil
}

// serverURL accepts OLLAMA_HOST style values without a scheme.
func serverURL(host string) string {
	if host == "" {
		return DefaultServerURL
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return strings.TrimRight(host, "/")
}

func callOptions(req client.Request) []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	return opts
}

func messages(in []client.ModelMessage) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(in))
	for _, m := range in {
		mc := llms.TextParts(role(m.Role), m.Content)
		for _, img := range m.Images {
			part, ok := imagePart(img)
			if !ok {
				log.Warn(log.CatLLM, "Ollama accepts only inline images, skipping", "image", img)
				continue
			}
			mc.Parts = append(mc.Parts, part)
		}
		out = append(out, mc)
	}
	return out
}

func role(r client.Role) llms.ChatMessageType {
	switch r {
	case client.RoleSystem:
		return llms.ChatMessageTypeSystem
	case client.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// imagePart decodes a base64 data URI.
func imagePart(ref string) (llms.ContentPart, bool) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return nil, false
	}
	meta, data, found := strings.Cut(rest, ",")
	if !found {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, false
	}
	return llms.BinaryPart(strings.TrimSuffix(meta, ";base64"), raw), true
}

func usage(info map[string]any) *client.Usage {
	if info == nil {
		return nil
	}
	u := &client.Usage{
		PromptTokens:     intValue(info["PromptTokens"]),
		CompletionTokens: intValue(info["CompletionTokens"]),
		TotalTokens:      intValue(info["TotalTokens"]),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Package openai adapts OpenAI-compatible chat completion APIs. It registers
// both the openai and groq providers, which share the wire format.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/zjrosen/devteam/internal/orchestration/client"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"

	GroqBaseURL = "https://api.groq.com/openai/v1"
	GroqModel   = "llama-3.3-70b-versatile"
)

func init() {
	client.RegisterProvider(client.ProviderOpenAI, func() client.Provider {
		return New(client.ProviderOpenAI, DefaultBaseURL, DefaultModel)
	})
	client.RegisterProvider(client.ProviderGroq, func() client.Provider {
		return New(client.ProviderGroq, GroqBaseURL, GroqModel)
	})
}

// Provider speaks the /chat/completions protocol.
type Provider struct {
	typ          client.ProviderType
	baseURL      string
	defaultModel string
	http         *http.Client // bounded by DefaultHTTPTimeout
	stream       *http.Client
}

// New creates a provider identified as typ with the given defaults.
func New(typ client.ProviderType, baseURL, model string) *Provider {
	return &Provider{
		typ:          typ,
		baseURL:      baseURL,
		defaultModel: model,
		http:         client.NewHTTPClient(client.DefaultHTTPTimeout),
		stream:       client.NewHTTPClient(0),
	}
}

func (p *Provider) Type() client.ProviderType {
	return p.typ
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// chatMessage content is a string, or a part list when images are attached.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type streamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (p *Provider) Complete(ctx context.Context, req client.Request) (*client.ModelResponse, error) {
	resp, err := client.PostJSON(ctx, p.http, p.typ, p.url(req), p.headers(req), p.body(req, false))
	if err != nil {
		return nil, err
	}

	var out chatResponse
	if err := client.DecodeJSON(p.typ, resp, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", p.typ)
	}

	result := &client.ModelResponse{
		Content:      out.Choices[0].Message.Content,
		Model:        out.Model,
		Provider:     p.typ,
		FinishReason: out.Choices[0].FinishReason,
	}
	if out.Usage != nil {
		result.Usage = &client.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		}
	}
	return result, nil
}

func (p *Provider) Stream(ctx context.Context, req client.Request) iter.Seq2[client.StreamChunk, error] {
	return func(yield func(client.StreamChunk, error) bool) {
		resp, err := client.PostJSON(ctx, p.stream, p.typ, p.url(req), p.headers(req), p.body(req, true))
		if err != nil {
			yield(client.StreamChunk{}, err)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		for ev, err := range client.ReadSSE(resp.Body) {
			if err != nil {
				yield(client.StreamChunk{}, fmt.Errorf("read %s stream: %w", p.typ, err))
				return
			}
			if ev.Data == "[DONE]" {
				break
			}
			var chunk streamResponse
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				yield(client.StreamChunk{}, fmt.Errorf("decode %s stream chunk: %w", p.typ, err))
				return
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(client.StreamChunk{Content: chunk.Choices[0].Delta.Content}, nil) {
				return
			}
		}
		yield(client.StreamChunk{Done: true}, nil)
	}
}

func (p *Provider) url(req client.Request) string {
	base := req.BaseURL
	if base == "" {
		base = p.baseURL
	}
	return strings.TrimRight(base, "/") + "/chat/completions"
}

func (p *Provider) headers(req client.Request) map[string]string {
	h := map[string]string{}
	if req.APIKey != "" {
		h["Authorization"] = "Bearer " + req.APIKey
	}
	return h
}

func (p *Provider) body(req client.Request, stream bool) chatRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	messages := make([]chatMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = chatMessage{Role: string(m.Role), Content: content(m)}
	}
	return chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

func content(m client.ModelMessage) any {
	if len(m.Images) == 0 {
		return m.Content
	}
	parts := []contentPart{{Type: "text", Text: m.Content}}
	for _, img := range m.Images {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: img}})
	}
	return parts
}

// Package anthropic adapts the Anthropic Messages API.
package anthropic

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
	DefaultBaseURL = "https://api.anthropic.com/v1"
	DefaultModel   = "claude-3-5-sonnet-latest"
	APIVersion     = "2023-06-01"
)

func init() {
	client.RegisterProvider(client.ProviderAnthropic, func() client.Provider {
		return New()
	})
}

// Provider speaks the /messages protocol.
type Provider struct {
	http   *http.Client // bounded by DefaultHTTPTimeout
	stream *http.Client
}

func New() *Provider {
	return &Provider{
		http:   client.NewHTTPClient(client.DefaultHTTPTimeout),
		stream: client.NewHTTPClient(0),
	}
}

func (p *Provider) Type() client.ProviderType {
	return client.ProviderAnthropic
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type messagesResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) Complete(ctx context.Context, req client.Request) (*client.ModelResponse, error) {
	resp, err := client.PostJSON(ctx, p.http, client.ProviderAnthropic, url(req), headers(req), body(req, false))
	if err != nil {
		return nil, err
	}

	var out messagesResponse
	if err := client.DecodeJSON(client.ProviderAnthropic, resp, &out); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &client.ModelResponse{
		Content:      text.String(),
		Model:        out.Model,
		Provider:     client.ProviderAnthropic,
		FinishReason: out.StopReason,
		Usage: &client.Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}, nil
}

func (p *Provider) Stream(ctx context.Context, req client.Request) iter.Seq2[client.StreamChunk, error] {
	return func(yield func(client.StreamChunk, error) bool) {
		resp, err := client.PostJSON(ctx, p.stream, client.ProviderAnthropic, url(req), headers(req), body(req, true))
		if err != nil {
			yield(client.StreamChunk{}, err)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		for ev, err := range client.ReadSSE(resp.Body) {
			if err != nil {
				yield(client.StreamChunk{}, fmt.Errorf("read anthropic stream: %w", err))
				return
			}
			if ev.Data == "" {
				continue
			}
			var se streamEvent
			if err := json.Unmarshal([]byte(ev.Data), &se); err != nil {
				yield(client.StreamChunk{}, fmt.Errorf("decode anthropic stream event: %w", err))
				return
			}
			switch se.Type {
			case "content_block_delta":
				if se.Delta.Text == "" {
					continue
				}
				if !yield(client.StreamChunk{Content: se.Delta.Text}, nil) {
					return
				}
			case "error":
				msg := "stream error"
				if se.Error != nil {
					msg = se.Error.Message
				}
				yield(client.StreamChunk{}, &client.APIError{
					Provider:   client.ProviderAnthropic,
					StatusCode: http.StatusOK,
					Message:    msg,
				})
				return
			case "message_stop":
				yield(client.StreamChunk{Done: true}, nil)
				return
			}
		}
		yield(client.StreamChunk{Done: true}, nil)
	}
}

func url(req client.Request) string {
	base := req.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/") + "/messages"
}

func headers(req client.Request) map[string]string {
	return map[string]string{
		"x-api-key":         req.APIKey,
		"anthropic-version": APIVersion,
	}
}

// body moves system messages into the top-level system prompt.
func body(req client.Request, stream bool) messagesRequest {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	var (
		system   []string
		messages []message
	)
	for _, m := range req.Messages {
		if m.Role == client.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		blocks := []contentBlock{{Type: "text", Text: m.Content}}
		for _, img := range m.Images {
			blocks = append(blocks, contentBlock{Type: "image", Source: image(img)})
		}
		messages = append(messages, message{Role: string(m.Role), Content: blocks})
	}

	return messagesRequest{
		Model:       model,
		System:      strings.Join(system, "\n\n"),
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

// image converts a data URI to a base64 source; anything else is a URL.
func image(ref string) *imageSource {
	if rest, ok := strings.CutPrefix(ref, "data:"); ok {
		meta, data, found := strings.Cut(rest, ",")
		if found {
			return &imageSource{
				Type:      "base64",
				MediaType: strings.TrimSuffix(meta, ";base64"),
				Data:      data,
			}
		}
	}
	return &imageSource{Type: "url", URL: ref}
}

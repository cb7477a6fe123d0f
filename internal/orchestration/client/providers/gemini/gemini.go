// Package gemini adapts the Google Generative Language API.
package gemini

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
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-1.5-flash"
)

func init() {
	client.RegisterProvider(client.ProviderGemini, func() client.Provider {
		return New()
	})
}

// Provider speaks generateContent and streamGenerateContent.
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
	return client.ProviderGemini
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
	FileData   *fileData   `json:"fileData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type fileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (r generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

func (p *Provider) Complete(ctx context.Context, req client.Request) (*client.ModelResponse, error) {
	model := modelName(req)
	resp, err := client.PostJSON(ctx, p.http, client.ProviderGemini,
		baseURL(req)+"/models/"+model+":generateContent", headers(req), body(req))
	if err != nil {
		return nil, err
	}

	var out generateResponse
	if err := client.DecodeJSON(client.ProviderGemini, resp, &out); err != nil {
		return nil, err
	}
	if len(out.Candidates) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	result := &client.ModelResponse{
		Content:      out.text(),
		Model:        model,
		Provider:     client.ProviderGemini,
		FinishReason: out.Candidates[0].FinishReason,
	}
	if out.ModelVersion != "" {
		result.Model = out.ModelVersion
	}
	if u := out.UsageMetadata; u != nil {
		result.Usage = &client.Usage{
			PromptTokens:     u.PromptTokenCount,
			CompletionTokens: u.CandidatesTokenCount,
			TotalTokens:      u.TotalTokenCount,
		}
	}
	return result, nil
}

func (p *Provider) Stream(ctx context.Context, req client.Request) iter.Seq2[client.StreamChunk, error] {
	return func(yield func(client.StreamChunk, error) bool) {
		resp, err := client.PostJSON(ctx, p.stream, client.ProviderGemini,
			baseURL(req)+"/models/"+modelName(req)+":streamGenerateContent?alt=sse", headers(req), body(req))
		if err != nil {
			yield(client.StreamChunk{}, err)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		for ev, err := range client.ReadSSE(resp.Body) {
			if err != nil {
				yield(client.StreamChunk{}, fmt.Errorf("read gemini stream: %w", err))
				return
			}
			if ev.Data == "" {
				continue
			}
			var chunk generateResponse
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				yield(client.StreamChunk{}, fmt.Errorf("decode gemini stream chunk: %w", err))
				return
			}
			text := chunk.text()
			if text == "" {
				continue
			}
			if !yield(client.StreamChunk{Content: text}, nil) {
				return
			}
		}
		yield(client.StreamChunk{Done: true}, nil)
	}
}

func modelName(req client.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return DefaultModel
}

func baseURL(req client.Request) string {
	base := req.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/")
}

func headers(req client.Request) map[string]string {
	return map[string]string{"x-goog-api-key": req.APIKey}
}

// body maps assistant turns to the "model" role and system messages to the
// system instruction.
func body(req client.Request) generateRequest {
	out := generateRequest{
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	for _, m := range req.Messages {
		if m.Role == client.RoleSystem {
			if out.SystemInstruction == nil {
				out.SystemInstruction = &content{}
			}
			out.SystemInstruction.Parts = append(out.SystemInstruction.Parts, part{Text: m.Content})
			continue
		}
		role := "user"
		if m.Role == client.RoleAssistant {
			role = "model"
		}
		parts := []part{{Text: m.Content}}
		for _, img := range m.Images {
			parts = append(parts, imagePart(img))
		}
		out.Contents = append(out.Contents, content{Role: role, Parts: parts})
	}
	return out
}

func imagePart(ref string) part {
	if rest, ok := strings.CutPrefix(ref, "data:"); ok {
		if meta, data, found := strings.Cut(rest, ","); found {
			return part{InlineData: &inlineData{MimeType: strings.TrimSuffix(meta, ";base64"), Data: data}}
		}
	}
	return part{FileData: &fileData{FileURI: ref}}
}

package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/devteam/internal/orchestration/client"
)

func TestComplete(t *testing.T) {
	var got messagesRequest
	var gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		if r.URL.Path != "/messages" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{
			"model": "claude-test",
			"stop_reason": "end_turn",
			"content": [{"type": "text", "text": "Hi "}, {"type": "text", "text": "there"}],
			"usage": {"input_tokens": 20, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	resp, err := New().Complete(context.Background(), client.Request{
		Messages: []client.ModelMessage{
			{Role: client.RoleSystem, Content: "You are terse."},
			{Role: client.RoleUser, Content: "hello", Images: []string{"data:image/png;base64,AAAA"}},
		},
		APIKey:    "sk-ant",
		BaseURL:   srv.URL,
		MaxTokens: 256,
	})
	require.NoError(t, err)
	require.Equal(t, "Hi there", resp.Content)
	require.Equal(t, "end_turn", resp.FinishReason)
	require.Equal(t, &client.Usage{PromptTokens: 20, CompletionTokens: 5, TotalTokens: 25}, resp.Usage)

	require.Equal(t, "sk-ant", gotKey)
	require.Equal(t, APIVersion, gotVersion)
	require.Equal(t, DefaultModel, got.Model)
	require.Equal(t, "You are terse.", got.System)
	require.Equal(t, 256, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	require.Equal(t, "user", got.Messages[0].Role)
	require.Len(t, got.Messages[0].Content, 2)
	require.Equal(t, &imageSource{Type: "base64", MediaType: "image/png", Data: "AAAA"}, got.Messages[0].Content[1].Source)
}

func TestComplete_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer srv.Close()

	_, err := New().Complete(context.Background(), client.Request{
		Messages: []client.ModelMessage{{Role: client.RoleUser, Content: "hi"}},
		BaseURL:  srv.URL,
	})
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 529, apiErr.StatusCode)
	require.Equal(t, "Overloaded", apiErr.Message)
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "event: ping\ndata: {\"type\":\"ping\"}\n\n")
		for _, tok := range []string{"one", " two"} {
			fmt.Fprintf(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n", tok)
		}
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	var chunks []client.StreamChunk
	for chunk, err := range New().Stream(context.Background(), client.Request{
		Messages: []client.ModelMessage{{Role: client.RoleUser, Content: "count"}},
		BaseURL:  srv.URL,
	}) {
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
	require.Equal(t, []client.StreamChunk{{Content: "one"}, {Content: " two"}, {Done: true}}, chunks)
}

func TestStream_ErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer srv.Close()

	var gotErr error
	for _, err := range New().Stream(context.Background(), client.Request{
		Messages: []client.ModelMessage{{Role: client.RoleUser, Content: "x"}},
		BaseURL:  srv.URL,
	}) {
		if err != nil {
			gotErr = err
		}
	}
	require.ErrorContains(t, gotErr, "Overloaded")
}

func TestImageURL(t *testing.T) {
	require.Equal(t, &imageSource{Type: "url", URL: "https://x/y.png"}, image("https://x/y.png"))
}

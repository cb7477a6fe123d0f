package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrNoProviders is returned when no provider could be attempted.
	ErrNoProviders = errors.New("no model providers available")

	// ErrMissingCredential is returned when a provider has no API key.
	ErrMissingCredential = errors.New("missing provider credential")

	// ErrEmptyMessages is returned when a completion is requested without messages.
	ErrEmptyMessages = errors.New("at least one message is required")
)

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider   ProviderType
	StatusCode int
	// Message is the provider's own error message when one was present.
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 * 1024

// NewAPIError builds an APIError from a failed response, extracting the
// provider's message from the common JSON error shapes. The body is consumed
// but not closed.
func NewAPIError(provider ProviderType, resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := extractErrorMessage(body)
	if msg == "" {
		msg = strings.TrimSpace(http.StatusText(resp.StatusCode))
	}
	return &APIError{Provider: provider, StatusCode: resp.StatusCode, Message: msg}
}

// extractErrorMessage understands {"error":{"message":...}}, {"error":"..."}
// and {"message":"..."}; any other body is returned trimmed.
func extractErrorMessage(body []byte) string {
	var shaped struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &shaped); err == nil {
		if len(shaped.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(shaped.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var plain string
			if json.Unmarshal(shaped.Error, &plain) == nil && plain != "" {
				return plain
			}
		}
		if shaped.Message != "" {
			return shaped.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 500 {
		text = text[:500]
	}
	return text
}

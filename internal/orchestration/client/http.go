package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultHTTPTimeout bounds a single non-streaming provider attempt. It is
// the HTTP adapters' client timeout and the ModelClient's default attempt
// timeout.
const DefaultHTTPTimeout = 120 * time.Second

// NewHTTPClient returns the transport shared by the HTTP provider adapters.
// Streaming calls rely on the request context rather than the client
// timeout, so timeout applies only when > 0.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// PostJSON sends body as JSON and returns the response when the status is
// 2xx. Any other status is converted to *APIError and the body is closed.
func PostJSON(ctx context.Context, hc *http.Client, provider ProviderType, url string, headers map[string]string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		return nil, NewAPIError(provider, resp)
	}
	return resp, nil
}

// DecodeJSON decodes resp's body into v and closes it.
func DecodeJSON(provider ProviderType, resp *http.Response, v any) error {
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", provider, err)
	}
	return nil
}

// SSEEvent is one server-sent event.
type SSEEvent struct {
	Event string
	Data  string
}

// ReadSSE yields the events of a text/event-stream body. Multi-line data
// fields are joined with newlines. The caller owns closing r.
func ReadSSE(r io.Reader) iter.Seq2[SSEEvent, error] {
	return func(yield func(SSEEvent, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var (
			event SSEEvent
			data  []string
		)
		flush := func() bool {
			if len(data) == 0 && event.Event == "" {
				return true
			}
			event.Data = strings.Join(data, "\n")
			ok := yield(event, nil)
			event, data = SSEEvent{}, nil
			return ok
		}

		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if !flush() {
					return
				}
			case strings.HasPrefix(line, ":"):
				// comment
			case strings.HasPrefix(line, "event:"):
				event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		}
		if err := scanner.Err(); err != nil {
			yield(SSEEvent{}, err)
			return
		}
		flush()
	}
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stockripper/agentd/internal/reliability"
)

// HTTPClient forwards chat requests to a generic JSON completion endpoint.
// The endpoint receives the ChatRequest as JSON and may answer with a plain
// body, {"text"|"output"|"content"|"message": "..."} or an OpenAI-style
// choices array. Tool calls are not supported.
type HTTPClient struct {
	url    string
	client *http.Client
	retry  reliability.Policy
}

// StatusError is a non-2xx answer from the endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion http status %d: %s", e.Code, e.Body)
}

func NewHTTPClient(url string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPClient{
		url:    strings.TrimSpace(url),
		client: client,
		retry:  reliability.DefaultPolicy,
	}
}

func (c *HTTPClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var text string
	err = reliability.Retry(ctx, c.retry, func(ctx context.Context) error {
		var err error
		text, err = c.post(ctx, payload)
		var status *StatusError
		if errors.As(err, &status) && !reliability.IsRetryableHTTPStatus(status.Code) {
			return reliability.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ChatResponse{Content: text, StopReason: StopEndTurn}, nil
}

func (c *HTTPClient) post(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return strings.TrimSpace(string(body)), nil
	}
	return extractText(obj), nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "output", "content", "message", "result"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	choices, _ := obj["choices"].([]any)
	if len(choices) > 0 {
		first, _ := choices[0].(map[string]any)
		if msg, ok := first["message"].(map[string]any); ok {
			if s, ok := msg["content"].(string); ok {
				return s
			}
		}
		if s, ok := first["text"].(string); ok {
			return s
		}
	}
	return ""
}

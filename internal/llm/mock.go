package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockClient provides deterministic local replies when no provider is
// configured. Tests can replace Handler to script responses.
type MockClient struct {
	Handler func(req ChatRequest) (*ChatResponse, error)

	mu       sync.Mutex
	requests []ChatRequest
}

func NewMockClient() *MockClient { return &MockClient{} }

func (m *MockClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	handler := m.Handler
	m.mu.Unlock()

	if handler != nil {
		return handler(req)
	}
	return &ChatResponse{Content: buildMockReply(req), StopReason: StopEndTurn}, nil
}

// Requests returns the requests seen so far.
func (m *MockClient) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func buildMockReply(req ChatRequest) string {
	base := strings.TrimSpace(lastUserText(req.Messages))
	if base == "" {
		base = "I am listening."
	}
	return fmt.Sprintf("I heard you: %s", base)
}

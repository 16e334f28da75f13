package llm

import (
	"context"
	"errors"
	"fmt"
)

// FallbackClient attempts a primary client first and falls back on error.
type FallbackClient struct {
	primary  Client
	fallback Client
}

func NewFallbackClient(primary, fallback Client) *FallbackClient {
	return &FallbackClient{primary: primary, fallback: fallback}
}

func (c *FallbackClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.primary == nil {
		if c.fallback != nil {
			return c.fallback.Chat(ctx, req)
		}
		return nil, fmt.Errorf("fallback client misconfigured")
	}
	resp, err := c.primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || c.fallback == nil {
		return nil, err
	}
	fallbackResp, fallbackErr := c.fallback.Chat(ctx, req)
	if fallbackErr != nil {
		return nil, fmt.Errorf("primary client error: %w; fallback client error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}

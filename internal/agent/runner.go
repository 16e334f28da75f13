package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stockripper/agentd/internal/llm"
)

const DefaultMaxToolIterations = 8

var ErrToolLoopExhausted = errors.New("agent: tool loop did not finish")

// ToolExecutor provides tool definitions and runs tool calls.
type ToolExecutor interface {
	Definitions(names ...string) []llm.ToolDefinition
	ExecuteAll(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult
}

// Runner drives the reason, act, observe loop for one profile and message.
type Runner struct {
	client    llm.Client
	tools     ToolExecutor
	maxTokens int
	logger    *slog.Logger
}

func NewRunner(client llm.Client, tools ToolExecutor, maxTokens int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{client: client, tools: tools, maxTokens: maxTokens, logger: logger}
}

// Run sends message to the model as the profile and executes requested tools
// until the model answers without tool calls. Tool failures are reported back
// to the model; only completion failures are returned.
func (r *Runner) Run(ctx context.Context, profile Profile, message string) (string, error) {
	maxIter := profile.MaxToolIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxToolIterations
	}

	var defs []llm.ToolDefinition
	if r.tools != nil && len(profile.Tools) > 0 {
		defs = r.tools.Definitions(profile.Tools...)
	}
	messages := []llm.Message{{Role: llm.RoleUser, Content: message}}

	for iter := 0; iter < maxIter; iter++ {
		resp, err := r.client.Chat(ctx, llm.ChatRequest{
			Model:     profile.Model,
			System:    profile.SystemPrompt,
			Messages:  messages,
			Tools:     defs,
			MaxTokens: r.maxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("agent %s: completion %d: %w", profile.Name, iter+1, err)
		}
		if len(resp.ToolCalls) == 0 || resp.StopReason != llm.StopToolUse || len(defs) == 0 {
			return strings.TrimSpace(resp.Content), nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		results := r.tools.ExecuteAll(ctx, resp.ToolCalls)
		for i := range results {
			result := results[i]
			r.logger.Debug("tool result",
				"agent", profile.Name,
				"tool", resp.ToolCalls[i].Name,
				"is_error", result.IsError,
			)
			messages = append(messages, llm.Message{Role: llm.RoleUser, ToolResult: &result})
		}
	}
	return "", fmt.Errorf("%w after %d iterations", ErrToolLoopExhausted, maxIter)
}

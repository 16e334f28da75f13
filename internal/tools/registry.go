// Package tools holds the tools agents may call and the registry that
// dispatches model tool calls to them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/stockripper/agentd/internal/llm"
	"github.com/stockripper/agentd/internal/observability"
	"github.com/stockripper/agentd/internal/policy"
)

var (
	ErrUnknownTool = errors.New("tools: unknown tool")
	ErrBlocked     = errors.New("tools: call blocked by policy")
)

// Executor runs one tool call and returns its result text.
type Executor interface {
	Execute(ctx context.Context, input map[string]any) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, input map[string]any) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, input map[string]any) (string, error) {
	return f(ctx, input)
}

// Registry maps tool names to definitions and executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	defs      map[string]llm.ToolDefinition
	logger    *slog.Logger
	metrics   *observability.Metrics
}

func NewRegistry(logger *slog.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		executors: make(map[string]Executor),
		defs:      make(map[string]llm.ToolDefinition),
		logger:    logger,
		metrics:   metrics,
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(def llm.ToolDefinition, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[def.Name] = exec
	r.defs[def.Name] = def
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[name]
	return ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the definitions of the named tools, or of every tool
// when names is empty. Unknown names are skipped.
func (r *Registry) Definitions(names ...string) []llm.ToolDefinition {
	if len(names) == 0 {
		names = r.Names()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		if def, ok := r.defs[name]; ok {
			defs = append(defs, def)
		}
	}
	return defs
}

// Execute runs a single call after the policy check.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	r.mu.RLock()
	exec, ok := r.executors[call.Name]
	r.mu.RUnlock()
	if !ok {
		r.count(call.Name, "unknown")
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}

	decision := policy.DecideToolCall(call.Name, call.Input)
	if decision.Blocked {
		r.count(call.Name, "blocked")
		r.logger.Warn("tool call blocked", "tool", call.Name, "reason", decision.Reason)
		return "", fmt.Errorf("%w: %s", ErrBlocked, decision.Reason)
	}

	out, err := exec.Execute(ctx, call.Input)
	if err != nil {
		r.count(call.Name, "error")
		r.logger.Info("tool call failed", "tool", call.Name, "risk", decision.Risk, "error", err)
		return "", err
	}
	r.count(call.Name, "ok")
	r.logger.Debug("tool call completed", "tool", call.Name, "risk", decision.Risk)
	return out, nil
}

// ExecuteAll runs calls concurrently. Failures become error results for the
// model rather than errors of the turn.
func (r *Registry) ExecuteAll(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc llm.ToolCall) {
			defer wg.Done()
			out, err := r.Execute(ctx, tc)
			if err != nil {
				results[idx] = llm.ToolResult{ToolUseID: tc.ID, Content: err.Error(), IsError: true}
				return
			}
			results[idx] = llm.ToolResult{ToolUseID: tc.ID, Content: out}
		}(i, call)
	}
	wg.Wait()
	return results
}

func (r *Registry) count(tool, outcome string) {
	if r.metrics != nil {
		r.metrics.ToolCalls.WithLabelValues(tool, outcome).Inc()
	}
}

package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockripper/agentd/internal/llm"
	"github.com/stockripper/agentd/internal/tools"
)

const profilesYAML = `
agents:
  - name: support
    description: Customer support
    system_prompt: You answer support questions.
    tools: [add, send_email]
    model: gpt-4o-mini
  - name: analyst
    tools: [calculate]
`

func TestParseProfiles(t *testing.T) {
	profiles, err := ParseProfiles([]byte(profilesYAML))
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "support", profiles[0].Name)
	assert.Equal(t, []string{"add", "send_email"}, profiles[0].Tools)
	assert.Equal(t, "gpt-4o-mini", profiles[0].Model)
	assert.Equal(t, defaultSystemPrompt, profiles[1].SystemPrompt)

	_, err = ParseProfiles([]byte("agents:\n  - name: Bad Name\n"))
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = ParseProfiles([]byte("agents:\n  - name: a\n  - name: a\n"))
	assert.Error(t, err)
}

func TestCatalogAlwaysServesDefault(t *testing.T) {
	c := NewCatalog(Profile{Name: "support"})
	_, err := c.Get(DefaultName)
	require.NoError(t, err)
	_, err = c.Get("support")
	require.NoError(t, err)
	_, err = c.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownAgent)

	names := []string{}
	for _, p := range c.List() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"default", "support"}, names)
}

func TestLoadCatalogWithoutFile(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Len(t, c.List(), 1)
}

func TestCatalogWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(profilesYAML), 0o644))
	c, err := LoadCatalog(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Watch(ctx, path, nil))

	require.NoError(t, os.WriteFile(path, []byte("agents:\n  - name: billing\n"), 0o644))
	assert.Eventually(t, func() bool {
		_, err := c.Get("billing")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)
	_, err = c.Get("support")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestRunnerExecutesToolsUntilAnswer(t *testing.T) {
	registry := tools.NewRegistry(nil, nil)
	tools.RegisterMath(registry)

	calls := 0
	client := &llm.MockClient{Handler: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		if calls == 1 {
			require.Len(t, req.Tools, 1)
			assert.Equal(t, "add", req.Tools[0].Name)
			return &llm.ChatResponse{
				StopReason: llm.StopToolUse,
				ToolCalls:  []llm.ToolCall{{ID: "t1", Name: "add", Input: map[string]any{"a": 2.0, "b": 2.0}}},
			}, nil
		}
		last := req.Messages[len(req.Messages)-1]
		require.NotNil(t, last.ToolResult)
		return &llm.ChatResponse{Content: " The answer is " + last.ToolResult.Content + ". ", StopReason: llm.StopEndTurn}, nil
	}}

	runner := NewRunner(client, registry, 256, nil)
	out, err := runner.Run(context.Background(), Profile{Name: "calc", SystemPrompt: "sys", Tools: []string{"add"}}, "what is 2+2")
	require.NoError(t, err)
	assert.Equal(t, "The answer is 4.", out)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "sys", client.Requests()[0].System)
}

func TestRunnerStopsAfterMaxIterations(t *testing.T) {
	registry := tools.NewRegistry(nil, nil)
	tools.RegisterMath(registry)
	client := &llm.MockClient{Handler: func(llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{
			StopReason: llm.StopToolUse,
			ToolCalls:  []llm.ToolCall{{ID: "t", Name: "add", Input: map[string]any{"a": 1.0, "b": 1.0}}},
		}, nil
	}}
	runner := NewRunner(client, registry, 0, nil)
	_, err := runner.Run(context.Background(), Profile{Name: "loop", Tools: []string{"add"}, MaxToolIterations: 3}, "go")
	assert.ErrorIs(t, err, ErrToolLoopExhausted)
	assert.Len(t, client.Requests(), 3)
}

func TestRunnerReturnsCompletionErrors(t *testing.T) {
	boom := errors.New("provider down")
	client := &llm.MockClient{Handler: func(llm.ChatRequest) (*llm.ChatResponse, error) { return nil, boom }}
	_, err := NewRunner(client, nil, 0, nil).Run(context.Background(), DefaultProfile(), "hi")
	assert.ErrorIs(t, err, boom)
}

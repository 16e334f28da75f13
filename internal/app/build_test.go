package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stockripper/agentd/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		MetricsNamespace:     fmt.Sprintf("test_app_%d", time.Now().UnixNano()),
		SessionSweepSchedule: "@every 1m",
		RecentTurnCapacity:   5,
		KeepLatestSummaries:  1,
		RAGTopK:              3,
		SessionMaxBuffers:    100,
		SessionIdleTimeout:   time.Minute,
		MemoryWriteMode:      "inline",
		MemoryAsyncWorkers:   1,
		CompletionTimeout:    5 * time.Second,
		StoreTimeout:         5 * time.Second,
		Tokenizer:            "estimate",
		SummaryMaxTokens:     500,
		RecentMaxTokens:      1000,
		KnowledgeMaxTokens:   1500,
		LLMProvider:          "mock",
		LLMMaxTokens:         256,
		DocumentStore:        "memory",
		EmbeddingProvider:    "hash",
		KnowledgeCollection:  "knowledge-documents",
		KnowledgeCacheTTL:    time.Minute,
	}
}

func TestBuildServesTurnsEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	built, err := Build(ctx, testConfig(), logger)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()
	if err := built.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if built.Provider != "mock" {
		t.Fatalf("Provider = %q, want mock", built.Provider)
	}

	ts := httptest.NewServer(built.API.Router())
	defer ts.Close()

	for _, input := range []string{"hello", "what did I say?"} {
		body, _ := json.Marshal(map[string]string{"session_id": "s1", "input": input})
		res, err := http.Post(ts.URL+"/v1/agents/default/turns", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST turn error = %v", err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("turn status = %d, want %d", res.StatusCode, http.StatusOK)
		}
	}

	res, err := http.Get(ts.URL + "/v1/agents/default/sessions/s1/memory")
	if err != nil {
		t.Fatalf("GET memory error = %v", err)
	}
	defer res.Body.Close()
	var payload struct {
		RecentTurns []json.RawMessage `json:"recent_turns"`
		Summaries   []json.RawMessage `json:"summaries"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode memory: %v", err)
	}
	if len(payload.RecentTurns) != 2 {
		t.Fatalf("recent turns = %d, want 2", len(payload.RecentTurns))
	}
	if len(payload.Summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(payload.Summaries))
	}
	if err := built.Orchestrator.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
}

func TestBuildRejectsUnknownAgentsFile(t *testing.T) {
	cfg := testConfig()
	cfg.AgentsFile = "/nonexistent/agents.yaml"
	if _, err := Build(context.Background(), cfg, nil); err == nil {
		t.Fatalf("Build() error = nil, want profile read error")
	}
}

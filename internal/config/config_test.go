package config

import (
	"testing"
	"time"
)

func TestLoadDefaultsMatchMemoryKnobs(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RecentTurnCapacity != 5 {
		t.Fatalf("RecentTurnCapacity = %d, want 5", cfg.RecentTurnCapacity)
	}
	if cfg.KeepLatestSummaries != 1 {
		t.Fatalf("KeepLatestSummaries = %d, want 1", cfg.KeepLatestSummaries)
	}
	if cfg.RAGTopK != 3 {
		t.Fatalf("RAGTopK = %d, want 3", cfg.RAGTopK)
	}
	if cfg.MemoryWriteMode != "inline" {
		t.Fatalf("MemoryWriteMode = %q, want inline", cfg.MemoryWriteMode)
	}
	if cfg.LLMHTTPURL != "" {
		t.Fatalf("LLMHTTPURL = %q, want empty default", cfg.LLMHTTPURL)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("RECENT_TURN_CAPACITY", "8")
	t.Setenv("KEEP_LATEST_SUMMARIES", "0")
	t.Setenv("COMPLETION_TIMEOUT", "5s")
	t.Setenv("MEMORY_WRITE_MODE", "ASYNC")
	t.Setenv("LLM_HTTP_URL", " http://localhost:7777/complete ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RecentTurnCapacity != 8 || cfg.KeepLatestSummaries != 0 {
		t.Fatalf("capacity/keep = %d/%d, want 8/0", cfg.RecentTurnCapacity, cfg.KeepLatestSummaries)
	}
	if cfg.CompletionTimeout != 5*time.Second {
		t.Fatalf("CompletionTimeout = %v, want 5s", cfg.CompletionTimeout)
	}
	if cfg.MemoryWriteMode != "async" {
		t.Fatalf("MemoryWriteMode = %q, want async", cfg.MemoryWriteMode)
	}
	if cfg.LLMHTTPURL != "http://localhost:7777/complete" {
		t.Fatalf("LLMHTTPURL = %q, want trimmed value", cfg.LLMHTTPURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"RECENT_TURN_CAPACITY": "0",
		"RAG_TOP_K":            "nope",
		"MEMORY_WRITE_MODE":    "later",
		"LLM_PROVIDER":         "parrot",
		"SESSION_IDLE_TIMEOUT": "1s",
		"APP_ALLOW_ANY_ORIGIN": "maybe",
		"CONTEXT_TOKENIZER":    "bpe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q error = nil, want error", key, value)
			}
		})
	}
}

func TestLoadPostgresRequiresDatabaseURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("DOCUMENT_STORE", "postgres")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want missing DATABASE_URL error")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_LOG_LEVEL",
		"APP_ALLOW_ANY_ORIGIN",
		"RECENT_TURN_CAPACITY",
		"KEEP_LATEST_SUMMARIES",
		"RAG_TOP_K",
		"SESSION_MAX_BUFFERS",
		"SESSION_IDLE_TIMEOUT",
		"SESSION_SWEEP_SCHEDULE",
		"MEMORY_WRITE_MODE",
		"MEMORY_ASYNC_WORKERS",
		"MEMORY_REDACT_PII",
		"COMPLETION_TIMEOUT",
		"STORE_TIMEOUT",
		"CONTEXT_TOKENIZER",
		"CONTEXT_SUMMARY_MAX_TOKENS",
		"CONTEXT_RECENT_MAX_TOKENS",
		"CONTEXT_KNOWLEDGE_MAX_TOKENS",
		"LLM_PROVIDER",
		"LLM_MODEL",
		"LLM_MAX_TOKENS",
		"LLM_MOCK_FALLBACK",
		"ANTHROPIC_API_KEY",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"LLM_HTTP_URL",
		"DOCUMENT_STORE",
		"DATABASE_URL",
		"CHROMEM_PERSIST_PATH",
		"EMBEDDING_PROVIDER",
		"KNOWLEDGE_COLLECTION",
		"KNOWLEDGE_CACHE_TTL",
		"AGENTS_FILE",
		"BLOB_BUCKET",
		"BLOB_REGION",
		"BLOB_ENDPOINT",
		"MAIL_SENDER",
		"MAIL_CLIENT_ID",
		"MAIL_CLIENT_SECRET",
		"MAIL_TENANT_ID",
		"MAIL_REFRESH_TOKEN",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

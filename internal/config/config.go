package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the agent service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	AllowAnyOrigin   bool

	RecentTurnCapacity  int
	KeepLatestSummaries int
	RAGTopK             int

	SessionMaxBuffers    int
	SessionIdleTimeout   time.Duration
	SessionSweepSchedule string

	MemoryWriteMode    string
	MemoryAsyncWorkers int
	MemoryRedactPII    bool

	CompletionTimeout time.Duration
	StoreTimeout      time.Duration

	Tokenizer          string
	SummaryMaxTokens   int
	RecentMaxTokens    int
	KnowledgeMaxTokens int

	LLMProvider     string
	LLMModel        string
	LLMMaxTokens    int
	LLMMockFallback bool
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	LLMHTTPURL      string

	DocumentStore       string
	DatabaseURL         string
	ChromemPersistPath  string
	EmbeddingProvider   string
	KnowledgeCollection string
	KnowledgeCacheTTL   time.Duration

	AgentsFile string

	BlobBucket   string
	BlobRegion   string
	BlobEndpoint string

	MailSender       string
	MailClientID     string
	MailClientSecret string
	MailTenantID     string
	MailRefreshToken string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "agentd"),
		LogLevel:             strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		SessionSweepSchedule: envOrDefault("SESSION_SWEEP_SCHEDULE", "@every 1m"),
		MemoryWriteMode:      strings.ToLower(envOrDefault("MEMORY_WRITE_MODE", "inline")),
		Tokenizer:            strings.ToLower(envOrDefault("CONTEXT_TOKENIZER", "tiktoken")),
		LLMProvider:          strings.ToLower(envOrDefault("LLM_PROVIDER", "auto")),
		LLMModel:             trimmedEnv("LLM_MODEL"),
		AnthropicAPIKey:      trimmedEnv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:         trimmedEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:        trimmedEnv("OPENAI_BASE_URL"),
		LLMHTTPURL:           trimmedEnv("LLM_HTTP_URL"),
		DocumentStore:        strings.ToLower(envOrDefault("DOCUMENT_STORE", "auto")),
		DatabaseURL:          trimmedEnv("DATABASE_URL"),
		ChromemPersistPath:   trimmedEnv("CHROMEM_PERSIST_PATH"),
		EmbeddingProvider:    strings.ToLower(envOrDefault("EMBEDDING_PROVIDER", "auto")),
		KnowledgeCollection:  envOrDefault("KNOWLEDGE_COLLECTION", "knowledge-documents"),
		AgentsFile:           trimmedEnv("AGENTS_FILE"),
		BlobBucket:           trimmedEnv("BLOB_BUCKET"),
		BlobRegion:           envOrDefault("BLOB_REGION", "us-east-1"),
		BlobEndpoint:         trimmedEnv("BLOB_ENDPOINT"),
		MailSender:           trimmedEnv("MAIL_SENDER"),
		MailClientID:         trimmedEnv("MAIL_CLIENT_ID"),
		MailClientSecret:     trimmedEnv("MAIL_CLIENT_SECRET"),
		MailTenantID:         envOrDefault("MAIL_TENANT_ID", "common"),
		MailRefreshToken:     trimmedEnv("MAIL_REFRESH_TOKEN"),

		ShutdownTimeout:     15 * time.Second,
		RecentTurnCapacity:  5,
		KeepLatestSummaries: 1,
		RAGTopK:             3,
		SessionMaxBuffers:   10000,
		SessionIdleTimeout:  30 * time.Minute,
		MemoryAsyncWorkers:  4,
		CompletionTimeout:   60 * time.Second,
		StoreTimeout:        10 * time.Second,
		SummaryMaxTokens:    500,
		RecentMaxTokens:     1000,
		KnowledgeMaxTokens:  1500,
		LLMMaxTokens:        1024,
		KnowledgeCacheTTL:   5 * time.Minute,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"SESSION_IDLE_TIMEOUT", &cfg.SessionIdleTimeout},
		{"COMPLETION_TIMEOUT", &cfg.CompletionTimeout},
		{"STORE_TIMEOUT", &cfg.StoreTimeout},
		{"KNOWLEDGE_CACHE_TTL", &cfg.KnowledgeCacheTTL},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"RECENT_TURN_CAPACITY", &cfg.RecentTurnCapacity},
		{"KEEP_LATEST_SUMMARIES", &cfg.KeepLatestSummaries},
		{"RAG_TOP_K", &cfg.RAGTopK},
		{"SESSION_MAX_BUFFERS", &cfg.SessionMaxBuffers},
		{"MEMORY_ASYNC_WORKERS", &cfg.MemoryAsyncWorkers},
		{"CONTEXT_SUMMARY_MAX_TOKENS", &cfg.SummaryMaxTokens},
		{"CONTEXT_RECENT_MAX_TOKENS", &cfg.RecentMaxTokens},
		{"CONTEXT_KNOWLEDGE_MAX_TOKENS", &cfg.KnowledgeMaxTokens},
		{"LLM_MAX_TOKENS", &cfg.LLMMaxTokens},
	}
	for _, n := range ints {
		if *n.dst, err = intFromEnv(n.key, *n.dst); err != nil {
			return Config{}, err
		}
	}

	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryRedactPII, err = boolFromEnv("MEMORY_REDACT_PII", false)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMockFallback, err = boolFromEnv("LLM_MOCK_FALLBACK", false)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.RecentTurnCapacity <= 0 {
		return fmt.Errorf("RECENT_TURN_CAPACITY must be positive")
	}
	if c.KeepLatestSummaries < 0 {
		return fmt.Errorf("KEEP_LATEST_SUMMARIES must be >= 0")
	}
	if c.RAGTopK < 0 {
		return fmt.Errorf("RAG_TOP_K must be >= 0")
	}
	if c.SessionMaxBuffers <= 0 {
		return fmt.Errorf("SESSION_MAX_BUFFERS must be positive")
	}
	if c.SessionIdleTimeout < 5*time.Second {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be at least 5s")
	}
	if c.CompletionTimeout <= 0 || c.StoreTimeout <= 0 {
		return fmt.Errorf("COMPLETION_TIMEOUT and STORE_TIMEOUT must be positive")
	}
	if c.MemoryAsyncWorkers <= 0 {
		return fmt.Errorf("MEMORY_ASYNC_WORKERS must be positive")
	}
	switch c.MemoryWriteMode {
	case "inline", "async":
	default:
		return fmt.Errorf("MEMORY_WRITE_MODE must be inline or async, got %q", c.MemoryWriteMode)
	}
	switch c.LLMProvider {
	case "auto", "anthropic", "openai", "http", "mock":
	default:
		return fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLMProvider)
	}
	switch c.DocumentStore {
	case "auto", "memory", "postgres", "chromem":
	default:
		return fmt.Errorf("DOCUMENT_STORE %q is not supported", c.DocumentStore)
	}
	if c.DocumentStore == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DOCUMENT_STORE=postgres requires DATABASE_URL")
	}
	switch c.Tokenizer {
	case "tiktoken", "estimate":
	default:
		return fmt.Errorf("CONTEXT_TOKENIZER must be tiktoken or estimate, got %q", c.Tokenizer)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("APP_LOG_LEVEL %q is not supported", c.LogLevel)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

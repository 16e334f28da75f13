package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/stockripper/agentd/internal/agent"
	"github.com/stockripper/agentd/internal/assemble"
	"github.com/stockripper/agentd/internal/config"
	"github.com/stockripper/agentd/internal/docstore"
	"github.com/stockripper/agentd/internal/httpapi"
	"github.com/stockripper/agentd/internal/knowledge"
	"github.com/stockripper/agentd/internal/llm"
	"github.com/stockripper/agentd/internal/memory"
	"github.com/stockripper/agentd/internal/observability"
	"github.com/stockripper/agentd/internal/policy"
	"github.com/stockripper/agentd/internal/session"
	"github.com/stockripper/agentd/internal/tools"
	"github.com/stockripper/agentd/internal/turn"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Buffers      *session.Buffers
	Agents       *agent.Catalog
	Orchestrator *turn.Orchestrator
	Metrics      *observability.Metrics
	Provider     string

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error

	logger *slog.Logger
}

// Stores holds the document store and the memory services over it, for
// callers such as the operator CLI that do not serve turns.
type Stores struct {
	Backend   docstore.Backend
	LongTerm  *memory.LongTerm
	Retention *memory.Retention
}

// OpenStores opens the configured document store.
func OpenStores(ctx context.Context, cfg config.Config) (*Stores, error) {
	backend, err := docstore.Open(ctx, docstore.Options{
		Backend:     cfg.DocumentStore,
		DatabaseURL: cfg.DatabaseURL,
		PersistPath: cfg.ChromemPersistPath,
		Embedding:   embeddingFunc(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("document store init failed: %w", err)
	}
	longTerm := memory.NewLongTerm(backend, memory.LongTermOptions{
		Timeout:   cfg.StoreTimeout,
		Sanitizer: policy.Sanitizer{RedactPII: cfg.MemoryRedactPII},
	})
	return &Stores{Backend: backend, LongTerm: longTerm, Retention: memory.NewRetention(longTerm)}, nil
}

func embeddingFunc(cfg config.Config) chromem.EmbeddingFunc {
	switch cfg.EmbeddingProvider {
	case "openai":
		return docstore.OpenAIEmbedding(cfg.OpenAIAPIKey)
	case "hash":
		return docstore.HashEmbedding(docstore.DefaultHashDimensions)
	default:
		if cfg.OpenAIAPIKey != "" {
			return docstore.OpenAIEmbedding(cfg.OpenAIAPIKey)
		}
		return docstore.HashEmbedding(docstore.DefaultHashDimensions)
	}
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, provider, err := llm.NewClient(llm.Config{
		Provider:        cfg.LLMProvider,
		Model:           cfg.LLMModel,
		MaxTokens:       cfg.LLMMaxTokens,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		HTTPURL:         cfg.LLMHTTPURL,
		MockFallback:    cfg.LLMMockFallback,
	})
	if err != nil {
		_ = stores.Backend.Close()
		return nil, fmt.Errorf("llm client init failed: %w", err)
	}

	kb, err := knowledge.NewBase(stores.Backend, knowledge.Options{
		Collection: cfg.KnowledgeCollection,
		TopK:       cfg.RAGTopK,
		CacheTTL:   cfg.KnowledgeCacheTTL,
		OnCache: func(hit bool) {
			result := "miss"
			if hit {
				result = "hit"
			}
			metrics.KnowledgeCache.WithLabelValues(result).Inc()
		},
	})
	if err != nil {
		_ = stores.Backend.Close()
		return nil, err
	}

	buffers := session.NewBuffers(session.Options{
		Capacity:    cfg.RecentTurnCapacity,
		MaxSessions: cfg.SessionMaxBuffers,
		IdleTimeout: cfg.SessionIdleTimeout,
	})
	buffers.SetEvictHook(func(_ session.Key, reason session.EvictReason) {
		metrics.BufferEvictions.WithLabelValues(string(reason)).Inc()
		metrics.ActiveBuffers.Set(float64(buffers.Len()))
	})

	registry, err := buildTools(ctx, cfg, logger, metrics)
	if err != nil {
		kb.Close()
		_ = stores.Backend.Close()
		return nil, err
	}

	agents, err := agent.LoadCatalog(cfg.AgentsFile)
	if err != nil {
		kb.Close()
		_ = stores.Backend.Close()
		return nil, err
	}

	var scheduler turn.Scheduler = turn.InlineScheduler{}
	if cfg.MemoryWriteMode == "async" {
		scheduler = turn.NewAsyncScheduler(cfg.MemoryAsyncWorkers)
	}

	orchestrator := turn.NewOrchestrator(turn.Deps{
		Profiles: agents,
		Assembler: assemble.New(buffers, stores.LongTerm, kb, assemble.Options{
			Budgets: assemble.Budgets{
				Summary:   cfg.SummaryMaxTokens,
				Recent:    cfg.RecentMaxTokens,
				Knowledge: cfg.KnowledgeMaxTokens,
			},
			Counter: tokenCounter(cfg.Tokenizer),
			Logger:  logger,
			Metrics: metrics,
		}),
		Invoker:    agent.NewRunner(client, registry, cfg.LLMMaxTokens, logger),
		Buffers:    buffers,
		Summarizer: memory.NewSummarizer(client, memory.SummarizerOptions{Timeout: cfg.CompletionTimeout, Logger: logger}),
		LongTerm:   stores.LongTerm,
		Retention:  stores.Retention,
	}, turn.Options{
		KeepLatest:        cfg.KeepLatestSummaries,
		CompletionTimeout: cfg.CompletionTimeout,
		Scheduler:         scheduler,
		Logger:            logger,
		Metrics:           metrics,
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Turns:     orchestrator,
		Agents:    agents,
		Buffers:   buffers,
		Summaries: stores.LongTerm,
	}, metrics, logger)

	cleanup := func() error {
		var errs []error
		kb.Close()
		if err := stores.Backend.Close(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Buffers:      buffers,
		Agents:       agents,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Provider:     provider,
		Cleanup:      cleanup,
		logger:       logger,
	}, nil
}

// Start launches the background jobs: the idle buffer sweep and the agent
// profile watcher. They stop when ctx is done.
func (b *BuildResult) Start(ctx context.Context) error {
	if err := b.Buffers.StartJanitor(ctx, b.Config.SessionSweepSchedule); err != nil {
		return err
	}
	if strings.TrimSpace(b.Config.AgentsFile) != "" {
		if err := b.Agents.Watch(ctx, b.Config.AgentsFile, b.logger); err != nil {
			return err
		}
	}
	return nil
}

func tokenCounter(name string) assemble.TokenCounter {
	if name == "estimate" {
		return assemble.EstimateCounter{}
	}
	return assemble.NewTokenCounter()
}

func buildTools(ctx context.Context, cfg config.Config, logger *slog.Logger, metrics *observability.Metrics) (*tools.Registry, error) {
	registry := tools.NewRegistry(logger, metrics)
	tools.RegisterMath(registry)

	if cfg.BlobBucket != "" || cfg.BlobEndpoint != "" {
		s3Client, err := tools.NewS3Client(ctx, cfg.BlobRegion, cfg.BlobEndpoint)
		if err != nil {
			return nil, fmt.Errorf("blob tools init failed: %w", err)
		}
		tools.RegisterBlob(registry, tools.NewBlobs(s3Client, cfg.BlobBucket))
	}

	if cfg.MailClientID != "" && cfg.MailRefreshToken != "" {
		mailer, err := tools.NewMailer(context.WithoutCancel(ctx), tools.MailConfig{
			ClientID:     cfg.MailClientID,
			ClientSecret: cfg.MailClientSecret,
			TenantID:     cfg.MailTenantID,
			RefreshToken: cfg.MailRefreshToken,
			Sender:       cfg.MailSender,
		})
		if err != nil {
			return nil, fmt.Errorf("mail tool init failed: %w", err)
		}
		tools.RegisterEmail(registry, mailer)
	}
	return registry, nil
}

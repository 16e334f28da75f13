package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stockripper/agentd/internal/llm"
)

// SummaryUnavailable is stored in place of a summary the model could not produce.
const SummaryUnavailable = "summary could not be generated"

const summaryPrompt = `You maintain the long-term memory of a conversation between a user and an agent.
Write a dense, non-repetitive summary of the conversation below so that the agent can continue it later.
Preserve exactly: every URL, every number and identifier (prices, quantities, dates, order or ticket ids),
named entities (people, companies, tickers, products) and every decision or commitment that was made.
Drop greetings, filler and anything already stated twice. Answer with the summary text only.

Recent conversation:
%s

Latest user message:
%s

Latest agent reply:
%s`

// Summarizer compresses the recent conversation into one summary text.
type Summarizer struct {
	client    llm.Client
	maxTokens int
	timeout   time.Duration
	logger    *slog.Logger
}

// SummarizerOptions configures a Summarizer.
type SummarizerOptions struct {
	MaxTokens int
	Timeout   time.Duration
	Logger    *slog.Logger
}

func NewSummarizer(client llm.Client, opts SummarizerOptions) *Summarizer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 500
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Summarizer{client: client, maxTokens: opts.MaxTokens, timeout: opts.Timeout, logger: opts.Logger}
}

// Prompt renders the summarization instruction.
func Prompt(recentHistory, userInput, agentOutput string) string {
	if strings.TrimSpace(recentHistory) == "" {
		recentHistory = "(none)"
	}
	return fmt.Sprintf(summaryPrompt, recentHistory, userInput, agentOutput)
}

// Summarize never fails: completion errors and empty replies yield
// SummaryUnavailable.
func (s *Summarizer) Summarize(ctx context.Context, recentHistory, userInput, agentOutput string) string {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	out, err := llm.Complete(ctx, s.client, Prompt(recentHistory, userInput, agentOutput), s.maxTokens)
	if err != nil {
		s.logger.Warn("summary completion failed", "error", err)
		return SummaryUnavailable
	}
	if out == "" {
		s.logger.Warn("summary completion returned empty text")
		return SummaryUnavailable
	}
	return out
}

// Package assemble gathers the three context sources an agent sees on each
// turn: recent turns, retrieved knowledge and long-term summaries.
package assemble

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/stockripper/agentd/internal/memory"
	"github.com/stockripper/agentd/internal/observability"
	"github.com/stockripper/agentd/internal/session"
)

// Context is the per-turn retrieval context.
type Context struct {
	RecentHistory    string `json:"recent_history"`
	KnowledgeContext string `json:"knowledge_context"`
	LongTermSummary  string `json:"long_term_summary"`
}

// Prompt renders the context and the user input as the agent's user message.
// Empty sections are omitted.
func (c Context) Prompt(userInput string) string {
	var b strings.Builder
	section := func(title, body string) {
		if strings.TrimSpace(body) == "" {
			return
		}
		b.WriteString("## ")
		b.WriteString(title)
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n\n")
	}
	section("Long-term memory", c.LongTermSummary)
	section("Recent conversation", c.RecentHistory)
	section("Relevant knowledge", c.KnowledgeContext)
	if b.Len() == 0 {
		return userInput
	}
	b.WriteString("## User\n")
	b.WriteString(userInput)
	return b.String()
}

type RecentReader interface {
	Read(key session.Key) []session.Turn
}

type SummaryReader interface {
	FetchOrdered(ctx context.Context, key session.Key) ([]memory.Summary, error)
}

type KnowledgeReader interface {
	Context(ctx context.Context, query string) (string, error)
}

// Budgets caps each section in tokens. Zero leaves a section uncapped.
type Budgets struct {
	Summary   int
	Recent    int
	Knowledge int
}

var DefaultBudgets = Budgets{Summary: 500, Recent: 1000, Knowledge: 1500}

type Options struct {
	Budgets Budgets
	Counter TokenCounter
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Assembler builds a Context for a turn.
type Assembler struct {
	recent    RecentReader
	summaries SummaryReader
	knowledge KnowledgeReader
	budgets   Budgets
	counter   TokenCounter
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates an Assembler. knowledge may be nil when no collection is served.
func New(recent RecentReader, summaries SummaryReader, knowledge KnowledgeReader, opts Options) *Assembler {
	if opts.Counter == nil {
		opts.Counter = EstimateCounter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Assembler{
		recent:    recent,
		summaries: summaries,
		knowledge: knowledge,
		budgets:   opts.Budgets,
		counter:   opts.Counter,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Assemble reads the recent buffer, searches knowledge and fetches summaries.
// The two store reads run concurrently, and a failure of either degrades its
// section to empty rather than failing the turn.
func (a *Assembler) Assemble(ctx context.Context, key session.Key, userInput string) (Context, error) {
	var out Context
	out.RecentHistory = a.truncateTail(session.Format(a.recent.Read(key)), a.budgets.Recent)

	g, gctx := errgroup.WithContext(ctx)
	if a.knowledge != nil {
		g.Go(func() error {
			text, err := a.knowledge.Context(gctx, userInput)
			if err != nil {
				a.degraded(key, "knowledge_search", err)
				return nil
			}
			out.KnowledgeContext = a.truncateHead(text, a.budgets.Knowledge)
			return nil
		})
	}
	g.Go(func() error {
		summaries, err := a.summaries.FetchOrdered(gctx, key)
		if err != nil {
			a.degraded(key, "summary_fetch", err)
			return nil
		}
		parts := make([]string, 0, len(summaries))
		for _, s := range summaries {
			parts = append(parts, s.Content)
		}
		out.LongTermSummary = a.truncateTail(strings.Join(parts, "\n"), a.budgets.Summary)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Context{}, err
	}
	if err := ctx.Err(); err != nil {
		return Context{}, err
	}
	return out, nil
}

func (a *Assembler) degraded(key session.Key, op string, err error) {
	a.logger.Warn("context read degraded",
		"op", op,
		"agent", key.Agent,
		"session_id", key.Session,
		"error", err,
	)
	if a.metrics != nil {
		a.metrics.MemoryErrors.WithLabelValues(op).Inc()
		a.metrics.ObserveIndicator("degraded_" + op)
	}
}

func (a *Assembler) truncateHead(text string, budget int) string {
	if budget <= 0 {
		return text
	}
	return a.counter.Head(text, budget)
}

// Recent history and summaries lose their oldest text first.
func (a *Assembler) truncateTail(text string, budget int) string {
	if budget <= 0 {
		return text
	}
	return a.counter.Tail(text, budget)
}

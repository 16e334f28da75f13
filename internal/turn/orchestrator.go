// Package turn runs one conversational turn: context assembly, agent
// invocation, buffer recording and the long-term memory update.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stockripper/agentd/internal/agent"
	"github.com/stockripper/agentd/internal/assemble"
	"github.com/stockripper/agentd/internal/memory"
	"github.com/stockripper/agentd/internal/observability"
	"github.com/stockripper/agentd/internal/session"
)

// Request is one user message addressed to an agent session.
type Request struct {
	Agent     string
	SessionID string
	Input     string
}

// Result is the agent's reply to a Request.
type Result struct {
	Output    string `json:"output"`
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`
	Agent     string `json:"agent"`
}

type Profiles interface {
	Get(name string) (agent.Profile, error)
}

type Assembler interface {
	Assemble(ctx context.Context, key session.Key, userInput string) (assemble.Context, error)
}

type Invoker interface {
	Run(ctx context.Context, profile agent.Profile, message string) (string, error)
}

type Buffers interface {
	Append(key session.Key, userInput, agentOutput string)
	Read(key session.Key) []session.Turn
	Len() int
}

type Summarizer interface {
	Summarize(ctx context.Context, recentHistory, userInput, agentOutput string) string
}

type SummaryWriter interface {
	Store(ctx context.Context, key session.Key, text string) (memory.Summary, error)
}

type Pruner interface {
	Prune(ctx context.Context, key session.Key, keepLatest int) (int, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Profiles   Profiles
	Assembler  Assembler
	Invoker    Invoker
	Buffers    Buffers
	Summarizer Summarizer
	LongTerm   SummaryWriter
	Retention  Pruner
}

type Options struct {
	KeepLatest        int
	CompletionTimeout time.Duration
	Scheduler         Scheduler
	Logger            *slog.Logger
	Metrics           *observability.Metrics
}

// Orchestrator handles turns for every agent.
type Orchestrator struct {
	deps              Deps
	keepLatest        int
	completionTimeout time.Duration
	scheduler         Scheduler
	logger            *slog.Logger
	metrics           *observability.Metrics
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if opts.Scheduler == nil {
		opts.Scheduler = InlineScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.KeepLatest < 0 {
		opts.KeepLatest = 0
	}
	return &Orchestrator{
		deps:              deps,
		keepLatest:        opts.KeepLatest,
		completionTimeout: opts.CompletionTimeout,
		scheduler:         opts.Scheduler,
		logger:            opts.Logger,
		metrics:           opts.Metrics,
	}
}

// HandleTurn answers req and updates the session memory. Only user input and
// upstream completion failures are returned; the memory update never fails
// the turn.
func (o *Orchestrator) HandleTurn(ctx context.Context, req Request) (Result, error) {
	started := time.Now()

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return Result{}, &Error{Kind: KindUserInput, Op: "validate", Err: ErrMissingSession}
	}
	if strings.TrimSpace(req.Input) == "" {
		return Result{}, &Error{Kind: KindUserInput, Op: "validate", Err: ErrMissingInput}
	}
	agentName := strings.TrimSpace(req.Agent)
	if agentName == "" {
		agentName = agent.DefaultName
	}
	profile, err := o.deps.Profiles.Get(agentName)
	if err != nil {
		o.countTurn(agentName, "unknown_agent")
		return Result{}, &Error{Kind: KindUserInput, Op: "resolve_agent", Err: err}
	}

	key := session.Key{Agent: profile.Name, Session: sessionID}
	turnID := uuid.NewString()
	logger := observability.RequestLogger(ctx, o.logger, key.Agent, key.Session).With("turn_id", turnID)

	stage := time.Now()
	turnCtx, err := o.deps.Assembler.Assemble(ctx, key, req.Input)
	o.observe(observability.StageAssemble, stage)
	if err != nil {
		if ctx.Err() != nil {
			o.countTurn(key.Agent, "canceled")
			return Result{}, &Error{Kind: KindCanceled, Op: "assemble", Err: err}
		}
		o.countTurn(key.Agent, "upstream_error")
		return Result{}, &Error{Kind: KindUpstreamCompletion, Op: "assemble", Err: err}
	}

	stage = time.Now()
	output, err := o.invoke(ctx, profile, turnCtx.Prompt(req.Input))
	o.observe(observability.StageInvoke, stage)
	if err != nil && ctx.Err() != nil {
		o.countTurn(key.Agent, "canceled")
		logger.Info("turn abandoned by caller", "error", err)
		return Result{}, &Error{Kind: KindCanceled, Op: "invoke", Err: err}
	}
	if err != nil {
		outcome := "upstream_error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "upstream_timeout"
		}
		o.countTurn(key.Agent, outcome)
		logger.Error("agent invocation failed", "error", err)
		return Result{}, &Error{Kind: KindUpstreamCompletion, Op: "invoke", Err: err}
	}

	prior := session.Format(o.deps.Buffers.Read(key))
	o.deps.Buffers.Append(key, req.Input, output)
	if o.metrics != nil {
		o.metrics.ActiveBuffers.Set(float64(o.deps.Buffers.Len()))
	}

	o.scheduler.Schedule(ctx, func(ctx context.Context) {
		o.updateMemory(ctx, logger, key, prior, req.Input, output)
	})

	o.countTurn(key.Agent, "ok")
	o.observe(observability.StageTotal, started)
	logger.Info("turn handled", "duration_ms", time.Since(started).Milliseconds())
	return Result{Output: output, TurnID: turnID, SessionID: key.Session, Agent: key.Agent}, nil
}

func (o *Orchestrator) invoke(ctx context.Context, profile agent.Profile, message string) (string, error) {
	if o.completionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.completionTimeout)
		defer cancel()
	}
	return o.deps.Invoker.Run(ctx, profile, message)
}

// updateMemory summarizes the turn, persists the summary and prunes older
// ones. A failed write skips the prune so the previous summary survives.
func (o *Orchestrator) updateMemory(ctx context.Context, logger *slog.Logger, key session.Key, prior, input, output string) {
	stage := time.Now()
	summary := o.deps.Summarizer.Summarize(ctx, prior, input, output)
	o.observe(observability.StageSummarize, stage)
	if summary == memory.SummaryUnavailable {
		o.memoryError(logger, "summarize", errors.New(memory.SummaryUnavailable))
	}

	stage = time.Now()
	stored, err := o.deps.LongTerm.Store(ctx, key, summary)
	o.observe(observability.StagePersist, stage)
	if err != nil {
		o.memoryError(logger, "persist", &Error{Kind: KindMemoryWrite, Op: "persist", Err: err})
		return
	}

	stage = time.Now()
	deleted, err := o.deps.Retention.Prune(ctx, key, o.keepLatest)
	o.observe(observability.StageRetain, stage)
	if err != nil {
		o.memoryError(logger, "retain", &Error{Kind: KindMemoryWrite, Op: "retain", Err: err})
		return
	}
	if o.metrics != nil && deleted > 0 {
		o.metrics.SummariesPruned.Add(float64(deleted))
	}
	logger.Debug("memory updated", "summary_id", stored.ID, "pruned", deleted)
}

func (o *Orchestrator) memoryError(logger *slog.Logger, op string, err error) {
	logger.Warn("memory update failed", "op", op, "error", err)
	if o.metrics != nil {
		o.metrics.MemoryErrors.WithLabelValues(op).Inc()
	}
}

func (o *Orchestrator) observe(stage string, since time.Time) {
	o.metrics.ObserveStage(stage, time.Since(since))
}

func (o *Orchestrator) countTurn(agentName, outcome string) {
	if o.metrics != nil {
		o.metrics.Turns.WithLabelValues(agentName, outcome).Inc()
	}
}

// Drain waits for scheduled memory work.
func (o *Orchestrator) Drain(ctx context.Context) error {
	if err := o.scheduler.Drain(ctx); err != nil {
		return fmt.Errorf("drain memory tasks: %w", err)
	}
	return nil
}

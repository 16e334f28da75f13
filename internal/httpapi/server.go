package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/stockripper/agentd/internal/agent"
	"github.com/stockripper/agentd/internal/config"
	"github.com/stockripper/agentd/internal/memory"
	"github.com/stockripper/agentd/internal/observability"
	"github.com/stockripper/agentd/internal/session"
	"github.com/stockripper/agentd/internal/turn"
)

type TurnHandler interface {
	HandleTurn(ctx context.Context, req turn.Request) (turn.Result, error)
}

type Agents interface {
	Get(name string) (agent.Profile, error)
	List() []agent.Profile
}

type Buffers interface {
	Read(key session.Key) []session.Turn
	Forget(key session.Key) bool
	Len() int
}

type Summaries interface {
	FetchOrdered(ctx context.Context, key session.Key) ([]memory.Summary, error)
}

// Deps are the services behind the HTTP surface.
type Deps struct {
	Turns     TurnHandler
	Agents    Agents
	Buffers   Buffers
	Summaries Summaries
}

type Server struct {
	cfg      config.Config
	deps     Deps
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		deps:    deps,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless configured otherwise.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(correlate)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handlePerfLatencyReset)

	r.Get("/v1/agents", s.handleListAgents)
	r.Post("/v1/agents/{agent}/turns", s.handleTurn)
	r.Get("/v1/agents/{agent}/sessions/{id}/memory", s.handleSessionMemory)
	r.Delete("/v1/agents/{agent}/sessions/{id}/buffer", s.handleForgetBuffer)
	r.Get("/v1/agents/{agent}/ws", s.handleAgentWS)

	// Original single-route contract.
	r.Post("/agents/{agent}", s.handleLegacyTurn)

	return r
}

// correlate carries the request id into the context for request loggers.
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := middleware.GetReqID(r.Context())
		w.Header().Set(middleware.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(observability.WithCorrelationID(r.Context(), id)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"agents":         len(s.deps.Agents.List()),
		"active_buffers": s.deps.Buffers.Len(),
		"memory_mode":    s.cfg.MemoryWriteMode,
		"document_store": s.cfg.DocumentStore,
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"agents": s.deps.Agents.List()})
}

type turnRequest struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
}

type turnResponse struct {
	Output    string `json:"output"`
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.deps.Turns.HandleTurn(r.Context(), turn.Request{
		Agent:     chi.URLParam(r, "agent"),
		SessionID: req.SessionID,
		Input:     req.Input,
	})
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, turnResponse{Output: res.Output, TurnID: res.TurnID, SessionID: res.SessionID})
}

func (s *Server) handleLegacyTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.deps.Turns.HandleTurn(r.Context(), turn.Request{
		Agent:     chi.URLParam(r, "agent"),
		SessionID: req.SessionID,
		Input:     req.Input,
	})
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"result": res.Output})
}

type memoryResponse struct {
	Agent       string           `json:"agent"`
	SessionID   string           `json:"session_id"`
	RecentTurns []session.Turn   `json:"recent_turns"`
	Summaries   []memory.Summary `json:"summaries"`
}

func (s *Server) handleSessionMemory(w http.ResponseWriter, r *http.Request) {
	key, ok := s.sessionKey(w, r)
	if !ok {
		return
	}
	summaries, err := s.deps.Summaries.FetchOrdered(r.Context(), key)
	if err != nil {
		s.logger.Warn("memory read failed", "agent", key.Agent, "session_id", key.Session, "error", err)
		respondError(w, http.StatusBadGateway, "memory_unavailable", "long-term memory could not be read")
		return
	}
	turns := s.deps.Buffers.Read(key)
	if turns == nil {
		turns = []session.Turn{}
	}
	if summaries == nil {
		summaries = []memory.Summary{}
	}
	respondJSON(w, http.StatusOK, memoryResponse{
		Agent:       key.Agent,
		SessionID:   key.Session,
		RecentTurns: turns,
		Summaries:   summaries,
	})
}

func (s *Server) handleForgetBuffer(w http.ResponseWriter, r *http.Request) {
	key, ok := s.sessionKey(w, r)
	if !ok {
		return
	}
	removed := s.deps.Buffers.Forget(key)
	respondJSON(w, http.StatusOK, map[string]any{"session_id": key.Session, "removed": removed})
}

// sessionKey resolves the agent and session path parameters, writing the
// error response when they are invalid.
func (s *Server) sessionKey(w http.ResponseWriter, r *http.Request) (session.Key, bool) {
	name := chi.URLParam(r, "agent")
	if _, err := s.deps.Agents.Get(name); err != nil {
		respondError(w, http.StatusNotFound, "unknown_agent", err.Error())
		return session.Key{}, false
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing_session", turn.ErrMissingSession.Error())
		return session.Key{}, false
	}
	return session.Key{Agent: name, Session: id}, true
}

// turnErrorStatus maps a turn failure to an HTTP status and error code.
// statusClientClosedRequest is the nginx status for a request whose client
// went away.
const statusClientClosedRequest = 499

func turnErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, turn.ErrMissingSession):
		return http.StatusBadRequest, "missing_session"
	case errors.Is(err, turn.ErrMissingInput):
		return http.StatusBadRequest, "missing_input"
	case errors.Is(err, agent.ErrUnknownAgent):
		return http.StatusNotFound, "unknown_agent"
	case turn.KindOf(err) == turn.KindCanceled:
		return statusClientClosedRequest, "canceled"
	case turn.KindOf(err) == turn.KindUpstreamCompletion:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, "upstream_timeout"
		}
		return http.StatusBadGateway, "upstream_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) respondTurnError(w http.ResponseWriter, err error) {
	status, code := turnErrorStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("turn failed", "code", code, "error", err)
		message = "the agent could not produce a reply"
	}
	respondError(w, status, code, message)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

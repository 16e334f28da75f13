package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/stockripper/agentd/internal/protocol"
	"github.com/stockripper/agentd/internal/session"
	"github.com/stockripper/agentd/internal/turn"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsIdleTimeout  = 120 * time.Second
)

// handleAgentWS runs a chat session over a websocket. Turns on one
// connection are handled in arrival order.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	agentName := chi.URLParam(r, "agent")
	if _, err := s.deps.Agents.Get(agentName); err != nil {
		respondError(w, http.StatusNotFound, "unknown_agent", err.Error())
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session", "query parameter session_id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 16)
	send := func(msg any) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		for msg := range inbound {
			s.handleClientMessage(ctx, agentName, sessionID, msg, send)
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				s.countWS("outbound", msg)
			}
		}
	}()

	send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "session_ready"})

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}
		s.countWS("inbound", parsed)
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	close(inbound)
	<-runDone
	cancel()
	<-writerDone
}

func (s *Server) handleClientMessage(ctx context.Context, agentName, sessionID string, msg any, send func(any)) {
	switch m := msg.(type) {
	case protocol.UserMessage:
		res, err := s.deps.Turns.HandleTurn(ctx, turn.Request{Agent: agentName, SessionID: sessionID, Input: m.Input})
		if err != nil {
			_, code := turnErrorStatus(err)
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      code,
				Source:    "turn",
				Retryable: turn.KindOf(err) == turn.KindUpstreamCompletion,
				Detail:    err.Error(),
			})
			return
		}
		send(protocol.AssistantMessage{
			Type:      protocol.TypeAssistantMessage,
			SessionID: res.SessionID,
			TurnID:    res.TurnID,
			Output:    res.Output,
		})
	case protocol.ClientControl:
		switch m.Action {
		case protocol.ActionResetBuffer:
			s.deps.Buffers.Forget(session.Key{Agent: agentName, Session: sessionID})
			send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "buffer_cleared"})
		case protocol.ActionPing:
			send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "pong"})
		}
	}
}

func (s *Server) countWS(direction string, msg any) {
	if s.metrics == nil {
		return
	}
	if t, ok := protocol.TypeOf(msg); ok {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stockripper/agentd/internal/agent"
	"github.com/stockripper/agentd/internal/config"
	"github.com/stockripper/agentd/internal/memory"
	"github.com/stockripper/agentd/internal/observability"
	"github.com/stockripper/agentd/internal/protocol"
	"github.com/stockripper/agentd/internal/session"
	"github.com/stockripper/agentd/internal/turn"
)

type fakeTurns struct {
	buffers *session.Buffers
	err     error
	last    turn.Request
}

func (f *fakeTurns) HandleTurn(_ context.Context, req turn.Request) (turn.Result, error) {
	f.last = req
	if f.err != nil {
		return turn.Result{}, f.err
	}
	if req.SessionID == "" {
		return turn.Result{}, &turn.Error{Kind: turn.KindUserInput, Err: turn.ErrMissingSession}
	}
	if req.Input == "" {
		return turn.Result{}, &turn.Error{Kind: turn.KindUserInput, Err: turn.ErrMissingInput}
	}
	out := "echo: " + req.Input
	f.buffers.Append(session.Key{Agent: req.Agent, Session: req.SessionID}, req.Input, out)
	return turn.Result{Output: out, TurnID: "turn-1", SessionID: req.SessionID, Agent: req.Agent}, nil
}

type fakeSummaries struct {
	summaries []memory.Summary
	err       error
}

func (f fakeSummaries) FetchOrdered(context.Context, session.Key) ([]memory.Summary, error) {
	return f.summaries, f.err
}

func newTestServer(t *testing.T, turns *fakeTurns, summaries Summaries) (*httptest.Server, *session.Buffers) {
	t.Helper()
	buffers := session.NewBuffers(session.Options{})
	if turns.buffers == nil {
		turns.buffers = buffers
	}
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	srv := New(config.Config{MemoryWriteMode: "inline"}, Deps{
		Turns:     turns,
		Agents:    agent.NewCatalog(agent.Profile{Name: "support"}),
		Buffers:   buffers,
		Summaries: summaries,
	}, metrics, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, buffers
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(body)
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	defer res.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res, payload
}

func TestTurnEndpoint(t *testing.T) {
	turns := &fakeTurns{}
	ts, _ := newTestServer(t, turns, fakeSummaries{})

	res, payload := postJSON(t, ts.URL+"/v1/agents/support/turns", map[string]string{"session_id": "s1", "input": "hello"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if payload["output"] != "echo: hello" || payload["turn_id"] != "turn-1" || payload["session_id"] != "s1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if turns.last.Agent != "support" {
		t.Fatalf("agent = %q, want %q", turns.last.Agent, "support")
	}
	if res.Header.Get("X-Request-Id") == "" {
		t.Fatalf("missing X-Request-Id header")
	}
}

func TestLegacyTurnEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &fakeTurns{}, fakeSummaries{})
	res, payload := postJSON(t, ts.URL+"/agents/support", map[string]string{"input": "hi", "session_id": "s9"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if payload["result"] != "echo: hi" {
		t.Fatalf("result = %v, want %q", payload["result"], "echo: hi")
	}
}

func TestTurnEndpointErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		body   string
		status int
		code   string
	}{
		{"missing session", nil, `{"input":"hi"}`, http.StatusBadRequest, "missing_session"},
		{"missing input", nil, `{"session_id":"s1"}`, http.StatusBadRequest, "missing_input"},
		{"bad json", nil, `{"session_id":`, http.StatusBadRequest, "invalid_request"},
		{"unknown agent", &turn.Error{Kind: turn.KindUserInput, Err: fmt.Errorf("%w: %q", agent.ErrUnknownAgent, "x")}, `{"session_id":"s1","input":"hi"}`, http.StatusNotFound, "unknown_agent"},
		{"upstream failure", &turn.Error{Kind: turn.KindUpstreamCompletion, Err: errors.New("502 from provider")}, `{"session_id":"s1","input":"hi"}`, http.StatusBadGateway, "upstream_failure"},
		{"upstream timeout", &turn.Error{Kind: turn.KindUpstreamCompletion, Err: context.DeadlineExceeded}, `{"session_id":"s1","input":"hi"}`, http.StatusGatewayTimeout, "upstream_timeout"},
		{"caller canceled", &turn.Error{Kind: turn.KindCanceled, Op: "assemble", Err: context.Canceled}, `{"session_id":"s1","input":"hi"}`, 499, "canceled"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts, _ := newTestServer(t, &fakeTurns{err: tc.err}, fakeSummaries{})
			res, err := http.Post(ts.URL+"/v1/agents/support/turns", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST error = %v", err)
			}
			defer res.Body.Close()
			if res.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", res.StatusCode, tc.status)
			}
			var payload errorResponse
			if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if payload.Code != tc.code {
				t.Fatalf("code = %q, want %q", payload.Code, tc.code)
			}
		})
	}
}

func TestSessionMemoryAndForget(t *testing.T) {
	summaries := fakeSummaries{summaries: []memory.Summary{{ID: "01H", Content: "user likes tea", SessionID: "s1", SummaryVersion: memory.SummaryVersionLatest}}}
	ts, buffers := newTestServer(t, &fakeTurns{}, summaries)
	buffers.Append(session.Key{Agent: "support", Session: "s1"}, "hi", "hello")

	res, err := http.Get(ts.URL + "/v1/agents/support/sessions/s1/memory")
	if err != nil {
		t.Fatalf("GET memory error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var payload memoryResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.RecentTurns) != 1 || payload.RecentTurns[0].AgentOutput != "hello" {
		t.Fatalf("recent turns = %+v", payload.RecentTurns)
	}
	if len(payload.Summaries) != 1 || payload.Summaries[0].Content != "user likes tea" {
		t.Fatalf("summaries = %+v", payload.Summaries)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/agents/support/sessions/s1/buffer", nil)
	delRes, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE buffer error = %v", err)
	}
	delRes.Body.Close()
	if delRes.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want %d", delRes.StatusCode, http.StatusOK)
	}
	if got := buffers.Read(session.Key{Agent: "support", Session: "s1"}); len(got) != 0 {
		t.Fatalf("buffer after forget = %+v, want empty", got)
	}

	missing, err := http.Get(ts.URL + "/v1/agents/ghost/sessions/s1/memory")
	if err != nil {
		t.Fatalf("GET memory error = %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown agent status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}
}

func TestSessionMemoryReadFailure(t *testing.T) {
	ts, _ := newTestServer(t, &fakeTurns{}, fakeSummaries{err: errors.New("store down")})
	res, err := http.Get(ts.URL + "/v1/agents/support/sessions/s1/memory")
	if err != nil {
		t.Fatalf("GET memory error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadGateway)
	}
}

func TestListAgentsAndProbes(t *testing.T) {
	ts, _ := newTestServer(t, &fakeTurns{}, fakeSummaries{})
	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/v1/perf/latency", "/v1/agents"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}

	res, err := http.Get(ts.URL + "/v1/agents")
	if err != nil {
		t.Fatalf("GET /v1/agents error = %v", err)
	}
	defer res.Body.Close()
	var payload struct {
		Agents []agent.Profile `json:"agents"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Agents) != 2 || payload.Agents[0].Name != "default" || payload.Agents[1].Name != "support" {
		t.Fatalf("agents = %+v", payload.Agents)
	}
}

func TestAgentWebSocket(t *testing.T) {
	ts, _ := newTestServer(t, &fakeTurns{}, fakeSummaries{})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/agents/support/ws?session_id=s1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ready protocol.SystemEvent
	if err := conn.ReadJSON(&ready); err != nil || ready.Code != "session_ready" {
		t.Fatalf("ready event = %+v, err = %v", ready, err)
	}

	if err := conn.WriteJSON(protocol.UserMessage{Type: protocol.TypeUserMessage, Input: "hello"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var reply protocol.AssistantMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if reply.Type != protocol.TypeAssistantMessage || reply.Output != "echo: hello" {
		t.Fatalf("reply = %+v", reply)
	}

	if err := conn.WriteJSON(protocol.UserMessage{Type: protocol.TypeUserMessage}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var errEvent protocol.ErrorEvent
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if errEvent.Type != protocol.TypeErrorEvent || errEvent.Code != "missing_input" {
		t.Fatalf("error event = %+v", errEvent)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"nope"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	errEvent = protocol.ErrorEvent{}
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if errEvent.Code != "invalid_client_message" {
		t.Fatalf("error event = %+v", errEvent)
	}

	if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionResetBuffer}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var cleared protocol.SystemEvent
	if err := conn.ReadJSON(&cleared); err != nil || cleared.Code != "buffer_cleared" {
		t.Fatalf("cleared event = %+v, err = %v", cleared, err)
	}
}

func TestAgentWebSocketRequiresSession(t *testing.T) {
	ts, _ := newTestServer(t, &fakeTurns{}, fakeSummaries{})
	res, err := http.Get(ts.URL + "/v1/agents/support/ws")
	if err != nil {
		t.Fatalf("GET ws error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

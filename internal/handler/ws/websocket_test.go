package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/evacsim/backend/internal/service/turn"
)

type fakeTurns struct {
	mu       sync.Mutex
	requests []turn.Request
	closed   string
	err      error
}

func (f *fakeTurns) Interactive(_ context.Context, req turn.Request) (*turn.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &turn.Result{Response: "Who's this?", Category: "greetings", DecisionResponse: "Do not evacuate"}, nil
}

func (f *fakeTurns) AutoAgent(_ context.Context, req turn.Request) (*turn.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return &turn.Result{AgentResponse: "Please leave.", Response: "Fine."}, nil
}

func (f *fakeTurns) Close(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = sessionID
	return nil
}

func (f *fakeTurns) snapshot() ([]turn.Request, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]turn.Request(nil), f.requests...), f.closed
}

type received struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Data      map[string]any `json:"data"`
}

func dial(t *testing.T, turns TurnRunner, person string) *websocket.Conn {
	t.Helper()
	r := chi.NewRouter()
	New(turns, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + person
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	c.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello received
	require.NoError(t, c.ReadJSON(&hello))
	require.Equal(t, "connected", hello.Data["kind"])
	require.Equal(t, person+"_session", hello.SessionID)
	return c
}

func TestWebSocketInteractiveTurn(t *testing.T) {
	turns := &fakeTurns{}
	c := dial(t, turns, "bob")

	require.NoError(t, c.WriteJSON(map[string]any{"type": "text", "data": map[string]string{"text": "Hello", "speaker": "Operator"}}))

	var msg received
	require.NoError(t, c.ReadJSON(&msg))
	assert.Equal(t, "result", msg.Type)
	assert.Equal(t, "interactive", msg.Data["kind"])
	assert.Equal(t, "Who's this?", msg.Data["response"])
	assert.Equal(t, "Do not evacuate", msg.Data["decision_response"])

	requests, _ := turns.snapshot()
	require.Len(t, requests, 1)
	assert.Equal(t, "Hello", requests[0].UserInput)
	assert.Equal(t, "Operator", requests[0].Speaker)
}

func TestWebSocketAutoJulieAndClose(t *testing.T) {
	turns := &fakeTurns{}
	c := dial(t, turns, "ross")

	require.NoError(t, c.WriteJSON(map[string]any{"type": "auto_julie"}))
	var msg received
	require.NoError(t, c.ReadJSON(&msg))
	assert.Equal(t, "Please leave.", msg.Data["julieResponse"])
	assert.Equal(t, "Fine.", msg.Data["response"])

	require.NoError(t, c.WriteJSON(map[string]any{"type": "close"}))
	require.NoError(t, c.ReadJSON(&msg))
	assert.Equal(t, "closed", msg.Data["kind"])
	_, closed := turns.snapshot()
	assert.Equal(t, "ross_session", closed)
}

func TestWebSocketErrors(t *testing.T) {
	turns := &fakeTurns{err: errors.New("generation failed")}
	c := dial(t, turns, "bob")

	require.NoError(t, c.WriteJSON(map[string]any{"type": "dance"}))
	var msg received
	require.NoError(t, c.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "unsupported message type: dance", msg.Data["message"])

	require.NoError(t, c.WriteJSON(map[string]any{"type": "text", "data": map[string]string{"text": "  "}}))
	require.NoError(t, c.ReadJSON(&msg))
	assert.Equal(t, "text is required", msg.Data["message"])

	require.NoError(t, c.WriteJSON(map[string]any{"type": "text", "data": map[string]string{"text": "Hi"}}))
	require.NoError(t, c.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "generation failed", msg.Data["message"])
}

func TestWebSocketUnknownCharacter(t *testing.T) {
	r := chi.NewRouter()
	New(&fakeTurns{}, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/zoe"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}

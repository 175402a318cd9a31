// Package ws 通过 WebSocket 承载交互模式的对话轮次。
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/evacsim/backend/internal/model/chat"
	"github.com/zhouzirui/evacsim/backend/internal/service/planner"
	"github.com/zhouzirui/evacsim/backend/internal/service/turn"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// TurnRunner 执行交互轮次。*turn.Service 实现了它。
type TurnRunner interface {
	Interactive(ctx context.Context, req turn.Request) (*turn.Result, error)
	AutoAgent(ctx context.Context, req turn.Request) (*turn.Result, error)
	Close(ctx context.Context, sessionID string) error
}

// Handler WebSocket对话处理器
type Handler struct {
	turns    TurnRunner
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(turns TurnRunner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		turns:  turns,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{townPerson}", h.handleWebSocket)
}

// 入站消息类型。
const (
	TypeText      = "text"
	TypeAutoJulie = "auto_julie"
	TypeClose     = "close"
)

type inboundMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage 是操作员的一句话。
type TextMessage struct {
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// TurnPayload 是一轮结束后推送给客户端的数据。
type TurnPayload struct {
	Kind               string              `json:"kind"`
	Response           string              `json:"response,omitempty"`
	RetrievedInfo      *chat.RetrievedInfo `json:"retrieved_info,omitempty"`
	Category           string              `json:"category,omitempty"`
	DecisionResponse   string              `json:"decision_response,omitempty"`
	JulieResponse      string              `json:"julieResponse,omitempty"`
	JulieRetrievedInfo *chat.RetrievedInfo `json:"julieRetrievedInfo,omitempty"`
	ConversationEnded  bool                `json:"conversation_ended,omitempty"`
	Error              string              `json:"error,omitempty"`
}

// conn 串行化写入，gorilla 的连接只允许一个并发写者。
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	character, err := planner.ParseTownPerson(chi.URLParam(r, "townPerson"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if h.turns == nil {
		http.Error(w, "turn service unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	sessionID := chat.InteractiveSessionID(string(character))
	log := h.logger.With("session_id", sessionID, "town_person", character)
	log.Info("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{ws: ws}
	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go pingLoop(ctx, ws)

	h.send(c, log, "result", sessionID, map[string]any{"kind": "connected", "townPerson": character})

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read error", "error", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(readTimeout))

		if done := h.handleMessage(ctx, c, log, character, sessionID, &msg); done {
			return
		}
	}
}

// handleMessage 处理一条入站消息，返回 true 表示连接应当关闭。
func (h *Handler) handleMessage(ctx context.Context, c *conn, log *slog.Logger, character planner.Character, sessionID string, msg *inboundMessage) bool {
	switch msg.Type {
	case TypeText:
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			h.sendError(c, log, "invalid text payload")
			return false
		}
		if strings.TrimSpace(text.Text) == "" {
			h.sendError(c, log, "text is required")
			return false
		}
		res, err := h.turns.Interactive(ctx, turn.Request{Character: character, UserInput: text.Text, Speaker: text.Speaker})
		h.sendTurn(c, log, sessionID, "interactive", res, err)
	case TypeAutoJulie:
		res, err := h.turns.AutoAgent(ctx, turn.Request{Character: character})
		h.sendTurn(c, log, sessionID, "auto_julie", res, err)
	case TypeClose:
		if err := h.turns.Close(ctx, sessionID); err != nil {
			h.sendError(c, log, "failed to close session")
			return false
		}
		h.send(c, log, "result", sessionID, map[string]any{"kind": "closed"})
		return true
	default:
		h.sendError(c, log, "unsupported message type: "+msg.Type)
	}
	return false
}

func (h *Handler) sendTurn(c *conn, log *slog.Logger, sessionID, kind string, res *turn.Result, err error) {
	payload := TurnPayload{Kind: kind}
	if res != nil {
		payload.Response = res.Response
		payload.RetrievedInfo = res.RetrievedInfo
		payload.Category = res.Category
		payload.DecisionResponse = res.DecisionResponse
		payload.JulieResponse = res.AgentResponse
		payload.JulieRetrievedInfo = res.AgentRetrievedInfo
		payload.ConversationEnded = res.ConversationEnded
	}
	if err != nil {
		var partial *turn.PartialError
		if res == nil && !errors.As(err, &partial) {
			log.Error("turn failed", "kind", kind, "error", err)
			h.sendError(c, log, err.Error())
			return
		}
		log.Warn("turn partially committed", "kind", kind, "error", err)
		payload.Error = err.Error()
	}
	h.send(c, log, "result", sessionID, payload)
}

func (h *Handler) send(c *conn, log *slog.Logger, typ, sessionID string, data any) {
	msg := outgoingMessage{
		Type:      typ,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := c.writeJSON(msg); err != nil {
		log.Warn("websocket write failed", "error", err)
	}
}

func (h *Handler) sendError(c *conn, log *slog.Logger, message string) {
	h.send(c, log, "error", "", map[string]string{"message": message})
}

// pingLoop 定期发送ping消息。WriteControl 可与其他写操作并发调用。
func pingLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/evacsim/backend/internal/model/chat"
	"github.com/zhouzirui/evacsim/backend/internal/service/ai"
	"github.com/zhouzirui/evacsim/backend/internal/service/planner"
	"github.com/zhouzirui/evacsim/backend/internal/service/simulate"
	"github.com/zhouzirui/evacsim/backend/internal/service/turn"
	"github.com/zhouzirui/evacsim/backend/pkg/utils"
)

// TurnRunner 执行交互轮次。*turn.Service 实现了它。
type TurnRunner interface {
	Interactive(ctx context.Context, req turn.Request) (*turn.Result, error)
	AutoAgent(ctx context.Context, req turn.Request) (*turn.Result, error)
	Close(ctx context.Context, sessionID string) error
}

// AutoRunner 生成一整段脚本化对话。*simulate.Simulator 实现了它。
type AutoRunner interface {
	Run(ctx context.Context, c planner.Character, onLine simulate.LineFunc) (*simulate.Transcript, error)
}

// Handler 对话接口的HTTP处理器
type Handler struct {
	turns  TurnRunner
	auto   AutoRunner
	logger *slog.Logger
}

// New 创建对话处理器
func New(turns TurnRunner, auto AutoRunner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{turns: turns, auto: auto, logger: logger}
}

// RegisterRoutes 注册对话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Delete("/sessions/{sessionID}", h.handleCloseSession)
}

// Request 是 POST /chat 的请求体。
type Request struct {
	TownPerson string `json:"townPerson"`
	UserInput  string `json:"userInput"`
	Mode       string `json:"mode"`
	Speaker    string `json:"speaker"`
	AutoJulie  bool   `json:"autoJulie"`
}

// Response 覆盖三种模式的响应字段，未使用的字段省略。
type Response struct {
	Response           string              `json:"response,omitempty"`
	RetrievedInfo      any                 `json:"retrieved_info,omitempty"`
	Category           string              `json:"category,omitempty"`
	DecisionResponse   *string             `json:"decision_response,omitempty"`
	JulieResponse      string              `json:"julieResponse,omitempty"`
	JulieRetrievedInfo *chat.RetrievedInfo `json:"julieRetrievedInfo,omitempty"`
	ConversationEnded  *bool               `json:"conversation_ended,omitempty"`
	Message            string              `json:"message,omitempty"`
	Transcript         string              `json:"transcript,omitempty"`
	IsComplete         bool                `json:"is_complete,omitempty"`
	Decision           string              `json:"decision,omitempty"`
	Error              string              `json:"error,omitempty"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.TownPerson) == "" {
		utils.RespondError(w, http.StatusBadRequest, "townPerson is required")
		return
	}
	character, err := planner.ParseTownPerson(req.TownPerson)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	if req.Mode == "" {
		req.Mode = chat.ModeInteractive
	}

	ctx := r.Context()
	log := h.logger.With("town_person", character, "mode", req.Mode, "auto_julie", req.AutoJulie)
	log.DebugContext(ctx, "chat request", "speaker", req.Speaker)

	switch req.Mode {
	case chat.ModeInteractive:
		h.interactive(w, r, log, character, req)
	case chat.ModeAuto:
		h.runAuto(w, r, log, character)
	default:
		utils.RespondError(w, http.StatusBadRequest, "unsupported mode: "+req.Mode)
	}
}

func (h *Handler) interactive(w http.ResponseWriter, r *http.Request, log *slog.Logger, c planner.Character, req Request) {
	turnReq := turn.Request{Character: c, UserInput: req.UserInput, Speaker: req.Speaker}

	if req.AutoJulie {
		res, err := h.turns.AutoAgent(r.Context(), turnReq)
		if res != nil && res.ConversationEnded {
			ended := true
			utils.RespondJSON(w, http.StatusOK, Response{
				JulieResponse:     res.AgentResponse,
				Response:          res.Response,
				ConversationEnded: &ended,
				Message:           "Conversation has ended.",
			})
			return
		}
		if err != nil {
			if h.turnFailure(w, err) {
				return
			}
			log.ErrorContext(r.Context(), "auto julie turn failed", "error", err)
			h.respondTurn(w, res, "Error processing Julie's persuasion: "+err.Error(), true)
			return
		}
		h.respondTurn(w, res, "", true)
		return
	}

	res, err := h.turns.Interactive(r.Context(), turnReq)
	if err != nil {
		if h.turnFailure(w, err) {
			return
		}
		log.ErrorContext(r.Context(), "interactive turn failed", "error", err)
		h.respondTurn(w, res, "Error generating response: "+err.Error(), false)
		return
	}
	h.respondTurn(w, res, "", false)
}

// turnFailure 把请求级别的错误映射为HTTP状态码并写出响应。返回 false 时
// 尚未写入任何内容，由调用方以 200 + {error} 响应（生成失败或部分提交）。
func (h *Handler) turnFailure(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, turn.ErrPersonaNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, turn.ErrGeneratorUnavailable), errors.Is(err, ai.ErrUnavailable):
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled):
		utils.RespondError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		return false
	}
	return true
}

func (h *Handler) respondTurn(w http.ResponseWriter, res *turn.Result, errMsg string, autoJulie bool) {
	out := Response{Error: errMsg}
	if res != nil {
		out.Response = res.Response
		if res.RetrievedInfo != nil {
			out.RetrievedInfo = res.RetrievedInfo
		}
		out.Category = res.Category
		if errMsg == "" || res.DecisionResponse != "" {
			decision := res.DecisionResponse
			out.DecisionResponse = &decision
		}
		if autoJulie {
			out.JulieResponse = res.AgentResponse
			out.JulieRetrievedInfo = res.AgentRetrievedInfo
			ended := res.ConversationEnded
			out.ConversationEnded = &ended
		}
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) runAuto(w http.ResponseWriter, r *http.Request, log *slog.Logger, c planner.Character) {
	if h.auto == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, turn.ErrGeneratorUnavailable.Error())
		return
	}
	t, err := h.auto.Run(r.Context(), c, nil)
	if err != nil {
		if h.turnFailure(w, err) {
			return
		}
		log.ErrorContext(r.Context(), "auto conversation failed", "error", err)
		utils.RespondJSON(w, http.StatusOK, Response{Error: "Error generating conversation: " + err.Error()})
		return
	}
	utils.RespondJSON(w, http.StatusOK, Response{
		Transcript:    t.Text,
		RetrievedInfo: t.RetrievedInfo,
		IsComplete:    true,
		Decision:      t.Decision,
	})
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if strings.TrimSpace(sessionID) == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionID is required")
		return
	}
	if err := h.turns.Close(r.Context(), sessionID); err != nil {
		h.logger.ErrorContext(r.Context(), "close session failed", "session_id", sessionID, "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to close session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

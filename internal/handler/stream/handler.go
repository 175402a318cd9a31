// Package stream 以 Server-Sent Events 逐行推送自动生成的对话。
package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/evacsim/backend/internal/model/chat"
	"github.com/zhouzirui/evacsim/backend/internal/service/planner"
	"github.com/zhouzirui/evacsim/backend/internal/service/simulate"
	"github.com/zhouzirui/evacsim/backend/internal/service/turn"
	"github.com/zhouzirui/evacsim/backend/pkg/utils"
)

// AutoRunner 生成一整段脚本化对话。*simulate.Simulator 实现了它。
type AutoRunner interface {
	Run(ctx context.Context, c planner.Character, onLine simulate.LineFunc) (*simulate.Transcript, error)
}

// Handler manages auto conversations streamed over SSE.
type Handler struct {
	auto   AutoRunner
	logger *slog.Logger
}

// New creates a new stream handler
func New(auto AutoRunner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{auto: auto, logger: logger}
}

// RegisterRoutes 注册流式接口
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/auto/{townPerson}", h.handleAutoStream)
}

// LineEvent 是每条 "line" 事件的数据。
type LineEvent struct {
	Index int                 `json:"index"`
	Line  chat.TranscriptLine `json:"line"`
}

// DoneEvent 是结束时的 "done" 事件。
type DoneEvent struct {
	SessionID  string `json:"session_id"`
	Transcript string `json:"transcript"`
	Decision   string `json:"decision"`
	IsComplete bool   `json:"is_complete"`
}

func (h *Handler) handleAutoStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "townPerson")
	character, err := planner.ParseTownPerson(name)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	if h.auto == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, turn.ErrGeneratorUnavailable.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	log := h.logger.With("town_person", character)

	started := false
	index := 0
	t, err := h.auto.Run(ctx, character, func(line chat.TranscriptLine) error {
		if !started {
			utils.SetupSSEHeaders(w)
			w.WriteHeader(http.StatusOK)
			started = true
		}
		index++
		return utils.SendSSEEvent(w, flusher, "line", LineEvent{Index: index, Line: line})
	})

	if err != nil {
		// 还没有推送任何行时按普通 HTTP 错误返回。
		if !started {
			status := http.StatusOK
			switch {
			case errors.Is(err, turn.ErrPersonaNotFound):
				status = http.StatusNotFound
			case errors.Is(err, turn.ErrGeneratorUnavailable):
				status = http.StatusServiceUnavailable
			}
			if status != http.StatusOK {
				utils.RespondError(w, status, err.Error())
				return
			}
			utils.SetupSSEHeaders(w)
			w.WriteHeader(http.StatusOK)
		}
		if ctx.Err() != nil {
			log.InfoContext(ctx, "auto stream closed by client")
			return
		}
		log.ErrorContext(ctx, "auto stream failed", "error", err)
		if sendErr := utils.SendSSEEvent(w, flusher, "error", map[string]string{"error": err.Error()}); sendErr != nil {
			log.WarnContext(ctx, "failed to send sse error", "error", sendErr)
		}
		return
	}

	if !started {
		utils.SetupSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
	}
	if err := utils.SendSSEEvent(w, flusher, "done", DoneEvent{
		SessionID:  t.SessionID,
		Transcript: t.Text,
		Decision:   t.Decision,
		IsComplete: true,
	}); err != nil {
		log.WarnContext(ctx, "failed to send sse done", "error", err)
		return
	}
	log.InfoContext(ctx, "auto stream completed", "session_id", t.SessionID, "lines", len(t.Lines))
}

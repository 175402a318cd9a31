package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/evacsim/backend/internal/handler/chat"
	"github.com/zhouzirui/evacsim/backend/internal/handler/persona"
	"github.com/zhouzirui/evacsim/backend/internal/handler/stream"
	"github.com/zhouzirui/evacsim/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/evacsim/backend/internal/middleware"
	personaModel "github.com/zhouzirui/evacsim/backend/internal/model/persona"
	"github.com/zhouzirui/evacsim/backend/internal/service/simulate"
	"github.com/zhouzirui/evacsim/backend/internal/service/turn"
	"github.com/zhouzirui/evacsim/backend/pkg/utils"
)

// Deps 是路由需要的服务。Simulator 为 nil 时 auto 模式返回 503。
type Deps struct {
	Personas  personaModel.Store
	Turns     *turn.Service
	Simulator *simulate.Simulator
	Logger    *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	// *simulate.Simulator 为 nil 时不能直接放进接口，否则接口非 nil。
	var auto chat.AutoRunner
	var autoStream stream.AutoRunner
	if deps.Simulator != nil {
		auto = deps.Simulator
		autoStream = deps.Simulator
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"message": "Emergency Response Chatbot Backend is running",
		})
	})

	persona.New(deps.Personas).RegisterRoutes(r)
	chat.New(deps.Turns, auto, logger).RegisterRoutes(r)
	stream.New(autoStream, logger).RegisterRoutes(r)
	ws.New(deps.Turns, logger).RegisterRoutes(r)

	return r
}

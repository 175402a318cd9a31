package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/evacsim/backend/internal/model/persona"
	"github.com/zhouzirui/evacsim/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	personas persona.Store
}

// New 创建persona处理器
func New(personas persona.Store) *Handler {
	return &Handler{
		personas: personas,
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Get("/persona/{townPerson}", h.handleGetPersona)
}

// handleListPersonas 列出所有persona
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.personas.List())
}

// handleGetPersona 按名字查询persona，大小写不敏感
func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "townPerson")
	p, ok := h.personas.FindByID(name)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "Persona not found for "+name)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"persona": p.Description})
}

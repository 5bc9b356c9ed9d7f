// internal/penalty/handler.go
package penalty

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"libraryapi/internal/httpapi/render"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the penalty endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/member/{id}", h.HandlePenaltiesByMember)
	r.Get("/{id}", h.HandleGetPenalty)
}

func (h *Handler) HandlePenaltiesByMember(w http.ResponseWriter, r *http.Request) {
	memberID, err := render.UUIDParam(chi.URLParam(r, "id"), "member ID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	penalties, err := h.service.PenaltiesByMember(r.Context(), memberID)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, http.StatusOK, penalties)
}

func (h *Handler) HandleGetPenalty(w http.ResponseWriter, r *http.Request) {
	id, err := render.Int64Param(chi.URLParam(r, "id"), "penalty ID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	penalty, err := h.service.GetPenalty(r.Context(), id)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, http.StatusOK, penalty)
}

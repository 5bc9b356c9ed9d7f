// internal/membership/handler.go
package membership

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libraryapi/internal/httpapi/render"
	"libraryapi/internal/library"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// MemberRoutes mounts the /members endpoints. {id} is either the member's
// UUID or its ID number.
func (h *Handler) MemberRoutes(r chi.Router) {
	r.Post("/", h.HandleRegisterMember)
	r.Get("/{id}", h.HandleGetMember)
	r.Patch("/{id}/blocked", h.HandleBlockMember)
}

// EmployeeRoutes mounts the /employees endpoints.
func (h *Handler) EmployeeRoutes(r chi.Router) {
	r.Post("/", h.HandleRegisterEmployee)
	r.Get("/{id}", h.HandleGetEmployee)
	r.Patch("/{id}/status/{status}", h.HandleSetEmployeeStatus)
}

// UserRoutes mounts the /users endpoints shared by members and employees.
func (h *Handler) UserRoutes(r chi.Router) {
	r.Put("/{id}/password", h.HandleUpdatePassword)
}

func (h *Handler) HandleRegisterMember(w http.ResponseWriter, r *http.Request) {
	var req RegisterMemberRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}

	member, err := h.service.RegisterMember(r.Context(), req)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, http.StatusCreated, member)
}

func (h *Handler) HandleGetMember(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")

	var (
		member *library.Member
		err    error
	)
	if id, parseErr := uuid.Parse(raw); parseErr == nil {
		member, err = h.service.GetMember(r.Context(), id)
	} else {
		member, err = h.service.GetMemberByIDNumber(r.Context(), raw)
	}
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, http.StatusOK, member)
}

func (h *Handler) HandleBlockMember(w http.ResponseWriter, r *http.Request) {
	member, err := h.service.SetMemberBlocked(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.OK(w, "Member blocked successfully.", member)
}

func (h *Handler) HandleRegisterEmployee(w http.ResponseWriter, r *http.Request) {
	var req RegisterEmployeeRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}

	employee, err := h.service.RegisterEmployee(r.Context(), req)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, http.StatusCreated, employee)
}

func (h *Handler) HandleGetEmployee(w http.ResponseWriter, r *http.Request) {
	id, err := render.UUIDParam(chi.URLParam(r, "id"), "employee ID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	employee, err := h.service.GetEmployee(r.Context(), id)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, http.StatusOK, employee)
}

func (h *Handler) HandleSetEmployeeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := render.UUIDParam(chi.URLParam(r, "id"), "employee ID")
	if err != nil {
		render.Error(w, r, err)
		return
	}
	status, err := library.ParseEmployeeStatus(chi.URLParam(r, "status"))
	if err != nil {
		render.Error(w, r, err)
		return
	}

	employee, err := h.service.SetEmployeeStatus(r.Context(), id, status)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.OK(w, "Employee status updated successfully.", employee)
}

func (h *Handler) HandleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	id, err := render.UUIDParam(chi.URLParam(r, "id"), "user ID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	var req UpdatePasswordRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}

	if err := h.service.UpdatePassword(r.Context(), id, req); err != nil {
		render.Error(w, r, err)
		return
	}

	render.OK(w, "Password updated successfully.", nil)
}

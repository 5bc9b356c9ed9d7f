// internal/catalog/handler.go
package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"libraryapi/internal/httpapi/render"
	"libraryapi/internal/library"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// BookRoutes mounts the /books endpoints.
func (h *Handler) BookRoutes(r chi.Router) {
	r.Post("/", h.HandleAddBook)
	r.Get("/{id}", h.HandleGetBook)
	r.Patch("/{id}/copies", h.HandleUpdateBookCopies)
}

// CopyRoutes mounts the /book-copies endpoints.
func (h *Handler) CopyRoutes(r chi.Router) {
	r.Get("/", h.HandleListBookCopies)
	r.Put("/locations", h.HandleAssignLocations)
}

func (h *Handler) HandleAddBook(w http.ResponseWriter, r *http.Request) {
	var req AddBookRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}

	details, err := h.service.AddBook(r.Context(), req)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, http.StatusCreated, details)
}

func (h *Handler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := render.Int64Param(chi.URLParam(r, "id"), "book ID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	details, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, http.StatusOK, details)
}

func (h *Handler) HandleUpdateBookCopies(w http.ResponseWriter, r *http.Request) {
	id, err := render.Int64Param(chi.URLParam(r, "id"), "book ID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	var req struct {
		Change int `json:"change"`
	}
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, r, err)
		return
	}

	details, err := h.service.UpdateBookCopies(r.Context(), id, req.Change)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.OK(w, "Book copies updated successfully.", details)
}

func (h *Handler) HandleListBookCopies(w http.ResponseWriter, r *http.Request) {
	var status library.BookCopyStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := library.ParseBookCopyStatus(raw)
		if err != nil {
			render.Error(w, r, err)
			return
		}
		status = parsed
	}

	copies, err := h.service.ListBookCopies(r.Context(), status)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, http.StatusOK, copies)
}

func (h *Handler) HandleAssignLocations(w http.ResponseWriter, r *http.Request) {
	var assignments []LocationAssignment
	if err := render.Decode(r, &assignments); err != nil {
		render.Error(w, r, err)
		return
	}

	placed, err := h.service.AssignLocations(r.Context(), assignments)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.OK(w, "All the book copies were placed on the specified locations successfully.", placed)
}

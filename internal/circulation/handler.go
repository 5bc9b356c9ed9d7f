// internal/circulation/handler.go
package circulation

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libraryapi/internal/apperror"
	"libraryapi/internal/httpapi/render"
	"libraryapi/internal/library"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the loan endpoints. The first segment is a loan ID for every
// method except POST, where it names the lending employee; chi requires one
// parameter name per position, hence the shared {id}.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/employee/{id}", h.HandleLoansByEmployee)
	r.Get("/member/{id}", h.HandleLoansByMember)
	r.Post("/{id}", h.HandleCreateLoan)
	r.Get("/{id}", h.HandleGetLoan)
	r.Put("/{id}", h.HandleUpdateLoanStatus)
	r.Patch("/{id}/return", h.HandleReturnBook)
	r.Get("/{id}/transactions", h.HandleLoanTransactions)
}

type createLoanBody struct {
	BookCopyID     int64  `json:"bookCopyId"`
	MemberIDNumber string `json:"memberIdNumber"`
	HowManyDays    int    `json:"howManyDays"`
}

type updateLoanStatusBody struct {
	EmployeeID string `json:"employeeId"`
	LoanStatus string `json:"loanStatus"`
}

func (h *Handler) HandleCreateLoan(w http.ResponseWriter, r *http.Request) {
	employeeID, err := render.UUIDParam(chi.URLParam(r, "id"), "employee ID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	var body createLoanBody
	if err := render.Decode(r, &body); err != nil {
		render.Error(w, r, err)
		return
	}

	loan, err := h.service.CreateLoan(r.Context(), CreateLoanRequest{
		MemberIDNumber: body.MemberIDNumber,
		EmployeeID:     employeeID,
		BookCopyID:     body.BookCopyID,
		HowManyDays:    body.HowManyDays,
	})
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.OK(w, "Loan created successfully.", loan)
}

func (h *Handler) HandleUpdateLoanStatus(w http.ResponseWriter, r *http.Request) {
	loanID, err := render.Int64Param(chi.URLParam(r, "id"), "loan ID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	var body updateLoanStatusBody
	if err := render.Decode(r, &body); err != nil {
		render.Error(w, r, err)
		return
	}

	fields := make(map[string]string)
	employeeID, err := uuid.Parse(body.EmployeeID)
	if err != nil {
		fields["employeeId"] = "must be a valid employee ID"
	}
	status, err := library.ParseLoanStatus(body.LoanStatus)
	if err != nil {
		fields["loanStatus"] = "must be Borrowed or Returned"
	}
	if len(fields) > 0 {
		render.Error(w, r, apperror.ValidationFields(fields))
		return
	}

	result, err := h.service.UpdateLoanStatus(r.Context(), loanID, employeeID, status)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.OK(w, "Loan status updated successfully.", result)
}

func (h *Handler) HandleReturnBook(w http.ResponseWriter, r *http.Request) {
	loanID, err := render.Int64Param(chi.URLParam(r, "id"), "loan ID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	result, err := h.service.ReturnBook(r.Context(), loanID)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.OK(w, "Book returned successfully.", result)
}

func (h *Handler) HandleGetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := render.Int64Param(chi.URLParam(r, "id"), "loan ID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	loan, err := h.service.GetLoan(r.Context(), loanID)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleLoansByEmployee(w http.ResponseWriter, r *http.Request) {
	employeeID, err := render.UUIDParam(chi.URLParam(r, "id"), "employee ID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	loans, err := h.service.LoansByEmployee(r.Context(), employeeID)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, http.StatusOK, loans)
}

func (h *Handler) HandleLoansByMember(w http.ResponseWriter, r *http.Request) {
	memberID, err := render.UUIDParam(chi.URLParam(r, "id"), "member ID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	loans, err := h.service.LoansByMember(r.Context(), memberID)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, http.StatusOK, loans)
}

func (h *Handler) HandleLoanTransactions(w http.ResponseWriter, r *http.Request) {
	loanID, err := render.Int64Param(chi.URLParam(r, "id"), "loan ID")
	if err != nil {
		render.Error(w, r, err)
		return
	}

	txs, err := h.service.LoanTransactions(r.Context(), loanID)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, http.StatusOK, txs)
}

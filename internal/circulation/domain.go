// internal/circulation/domain.go
package circulation

import (
	"github.com/google/uuid"

	"libraryapi/internal/library"
)

// CreateLoanRequest asks to lend a copy to a member on behalf of an employee.
type CreateLoanRequest struct {
	MemberIDNumber string
	EmployeeID     uuid.UUID
	BookCopyID     int64
	HowManyDays    int
}

// LoanView is a loan with the names of the entities it references.
type LoanView struct {
	*library.Loan
	MemberName   string `json:"member_name"`
	EmployeeName string `json:"employee_name"`
	BookID       int64  `json:"book_id"`
	BookTitle    string `json:"book_title"`
	ISBN         string `json:"isbn"`
}

// TransactionView is a loan transaction with the acting employee's name.
type TransactionView struct {
	*library.LoanTransaction
	EmployeeName string `json:"employee_name"`
}

// ReturnResult is the outcome of closing a loan. Penalty is nil when the
// copy came back on time.
type ReturnResult struct {
	Loan    *library.Loan    `json:"loan"`
	Penalty *library.Penalty `json:"penalty,omitempty"`
}

// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"libraryapi/internal/library"
)

// Service defines the loan workflow.
type Service interface {
	CreateLoan(ctx context.Context, req CreateLoanRequest) (*library.Loan, error)
	UpdateLoanStatus(ctx context.Context, loanID int64, employeeID uuid.UUID, newStatus library.LoanStatus) (*ReturnResult, error)
	ReturnBook(ctx context.Context, loanID int64) (*ReturnResult, error)

	GetLoan(ctx context.Context, loanID int64) (*LoanView, error)
	LoansByMember(ctx context.Context, memberID uuid.UUID) ([]*LoanView, error)
	LoansByEmployee(ctx context.Context, employeeID uuid.UUID) ([]*LoanView, error)
	LoanTransactions(ctx context.Context, loanID int64) ([]*TransactionView, error)
}

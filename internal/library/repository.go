// internal/library/repository.go
package library

import (
	"context"

	"github.com/google/uuid"
)

// BookCopyFilter narrows ListBookCopies. Zero fields are ignored.
type BookCopyFilter struct {
	Status     BookCopyStatus
	BookID     int64
	LocationID int64
	IDs        []int64
}

// LoanFilter narrows ListLoans. Zero fields are ignored.
type LoanFilter struct {
	MemberID   uuid.UUID
	EmployeeID uuid.UUID
	BookCopyID int64
	Status     LoanStatus
}

// Store is the data-access contract of the catalog store. Lookups of a
// single record return an apperror NotFound when nothing matches. Updates
// of versioned records return an apperror Conflict when the stored version
// no longer matches and bump Version on success.
type Store interface {
	CreateBook(ctx context.Context, book *Book) error
	FindBook(ctx context.Context, id int64) (*Book, error)

	CreateBookCopy(ctx context.Context, bookCopy *BookCopy) error
	FindBookCopy(ctx context.Context, id int64) (*BookCopy, error)
	ListBookCopies(ctx context.Context, filter BookCopyFilter) ([]*BookCopy, error)
	UpdateBookCopy(ctx context.Context, bookCopy *BookCopy) error

	CreateMember(ctx context.Context, member *Member) error
	FindMember(ctx context.Context, id uuid.UUID) (*Member, error)
	FindMemberByIDNumber(ctx context.Context, idNumber string) (*Member, error)
	UpdateMember(ctx context.Context, member *Member) error

	CreateEmployee(ctx context.Context, employee *Employee) error
	FindEmployee(ctx context.Context, id uuid.UUID) (*Employee, error)
	UpdateEmployee(ctx context.Context, employee *Employee) error

	SaveCredential(ctx context.Context, credential *Credential) error
	FindCredential(ctx context.Context, userID uuid.UUID) (*Credential, error)

	CreateLoan(ctx context.Context, loan *Loan) error
	FindLoan(ctx context.Context, id int64) (*Loan, error)
	ListLoans(ctx context.Context, filter LoanFilter) ([]*Loan, error)
	UpdateLoan(ctx context.Context, loan *Loan) error

	CreateLoanTransaction(ctx context.Context, tx *LoanTransaction) error
	ListLoanTransactions(ctx context.Context, loanID int64) ([]*LoanTransaction, error)

	CreatePenalty(ctx context.Context, penalty *Penalty) error
	FindPenalty(ctx context.Context, id int64) (*Penalty, error)
	// ListPenalties lists a member's penalties, or every penalty when
	// memberID is uuid.Nil.
	ListPenalties(ctx context.Context, memberID uuid.UUID) ([]*Penalty, error)
}

// UnitOfWork runs fn against a transactional Store. Every write made
// through that Store commits together when fn returns nil and is discarded
// otherwise.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// internal/circulation/views.go
package circulation

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"libraryapi/internal/library"
)

// viewer resolves display names for loans, caching lookups within one
// transaction so a list of loans by the same member reads it once.
type viewer struct {
	store     library.Store
	members   map[uuid.UUID]*library.Member
	employees map[uuid.UUID]*library.Employee
	books     map[int64]*library.Book
}

func newViewer(store library.Store) *viewer {
	return &viewer{
		store:     store,
		members:   make(map[uuid.UUID]*library.Member),
		employees: make(map[uuid.UUID]*library.Employee),
		books:     make(map[int64]*library.Book),
	}
}

func (v *viewer) loan(ctx context.Context, loan *library.Loan) (*LoanView, error) {
	member, err := v.member(ctx, loan.MemberID)
	if err != nil {
		return nil, err
	}
	employee, err := v.employee(ctx, loan.EmployeeID)
	if err != nil {
		return nil, err
	}
	bookCopy, err := v.store.FindBookCopy(ctx, loan.BookCopyID)
	if err != nil {
		return nil, err
	}
	book, err := v.book(ctx, bookCopy.BookID)
	if err != nil {
		return nil, err
	}

	return &LoanView{
		Loan:         loan,
		MemberName:   fullName(member.Name, member.LastName),
		EmployeeName: fullName(employee.Name, employee.LastName),
		BookID:       book.ID,
		BookTitle:    book.Title,
		ISBN:         book.ISBN,
	}, nil
}

func (v *viewer) member(ctx context.Context, id uuid.UUID) (*library.Member, error) {
	if m, ok := v.members[id]; ok {
		return m, nil
	}
	m, err := v.store.FindMember(ctx, id)
	if err != nil {
		return nil, err
	}
	v.members[id] = m
	return m, nil
}

func (v *viewer) employee(ctx context.Context, id uuid.UUID) (*library.Employee, error) {
	if e, ok := v.employees[id]; ok {
		return e, nil
	}
	e, err := v.store.FindEmployee(ctx, id)
	if err != nil {
		return nil, err
	}
	v.employees[id] = e
	return e, nil
}

func (v *viewer) book(ctx context.Context, id int64) (*library.Book, error) {
	if b, ok := v.books[id]; ok {
		return b, nil
	}
	b, err := v.store.FindBook(ctx, id)
	if err != nil {
		return nil, err
	}
	v.books[id] = b
	return b, nil
}

func fullName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}

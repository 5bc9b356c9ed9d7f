// internal/store/memory/memory.go
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"libraryapi/internal/apperror"
	"libraryapi/internal/library"
)

// Store is an in-process implementation of library.UnitOfWork. Transactions
// are serialized and run against a private copy of the state that replaces
// the shared state only when the transaction function succeeds.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created-at defaults.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(options ...Option) *Store {
	s := &Store{
		state: newState(),
		now:   time.Now,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

type state struct {
	books       map[int64]library.Book
	copies      map[int64]library.BookCopy
	members     map[uuid.UUID]library.Member
	employees   map[uuid.UUID]library.Employee
	credentials map[uuid.UUID]library.Credential
	loans       map[int64]library.Loan
	loanTxs     []library.LoanTransaction
	penalties   map[int64]library.Penalty

	nextBookID    int64
	nextCopyID    int64
	nextLoanID    int64
	nextLoanTxID  int64
	nextPenaltyID int64
}

func newState() *state {
	return &state{
		books:       make(map[int64]library.Book),
		copies:      make(map[int64]library.BookCopy),
		members:     make(map[uuid.UUID]library.Member),
		employees:   make(map[uuid.UUID]library.Employee),
		credentials: make(map[uuid.UUID]library.Credential),
		loans:       make(map[int64]library.Loan),
		penalties:   make(map[int64]library.Penalty),
	}
}

func (st *state) clone() *state {
	c := *st
	c.books = maps.Clone(st.books)
	c.copies = maps.Clone(st.copies)
	c.members = maps.Clone(st.members)
	c.employees = maps.Clone(st.employees)
	c.credentials = maps.Clone(st.credentials)
	c.loans = maps.Clone(st.loans)
	c.loanTxs = append([]library.LoanTransaction(nil), st.loanTxs...)
	c.penalties = maps.Clone(st.penalties)
	return &c
}

// WithinTx implements library.UnitOfWork.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, store library.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txStore{st: s.state.clone(), now: s.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.state = tx.st
	return nil
}

type txStore struct {
	st  *state
	now func() time.Time
}

var _ library.Store = (*txStore)(nil)

func (t *txStore) CreateBook(_ context.Context, book *library.Book) error {
	t.st.nextBookID++
	book.ID = t.st.nextBookID
	if book.CreatedAt.IsZero() {
		book.CreatedAt = t.now().UTC()
	}
	t.st.books[book.ID] = *book
	return nil
}

func (t *txStore) FindBook(_ context.Context, id int64) (*library.Book, error) {
	book, ok := t.st.books[id]
	if !ok {
		return nil, apperror.NotFound("book with ID %d not found", id)
	}
	return &book, nil
}

func (t *txStore) CreateBookCopy(_ context.Context, bookCopy *library.BookCopy) error {
	if _, ok := t.st.books[bookCopy.BookID]; !ok {
		return apperror.NotFound("book with ID %d not found", bookCopy.BookID)
	}
	t.st.nextCopyID++
	bookCopy.ID = t.st.nextCopyID
	bookCopy.Version = 1
	t.st.copies[bookCopy.ID] = *bookCopy
	return nil
}

func (t *txStore) FindBookCopy(_ context.Context, id int64) (*library.BookCopy, error) {
	bookCopy, ok := t.st.copies[id]
	if !ok {
		return nil, apperror.NotFound("book copy with ID %d not found", id)
	}
	return &bookCopy, nil
}

func (t *txStore) ListBookCopies(_ context.Context, filter library.BookCopyFilter) ([]*library.BookCopy, error) {
	var ids map[int64]bool
	if len(filter.IDs) > 0 {
		ids = make(map[int64]bool, len(filter.IDs))
		for _, id := range filter.IDs {
			ids[id] = true
		}
	}

	copies := make([]*library.BookCopy, 0)
	for _, c := range t.st.copies {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.BookID != 0 && c.BookID != filter.BookID {
			continue
		}
		if filter.LocationID != 0 && (c.LocationID == nil || *c.LocationID != filter.LocationID) {
			continue
		}
		if ids != nil && !ids[c.ID] {
			continue
		}
		c := c
		copies = append(copies, &c)
	}
	sort.Slice(copies, func(i, j int) bool { return copies[i].ID < copies[j].ID })
	return copies, nil
}

func (t *txStore) UpdateBookCopy(_ context.Context, bookCopy *library.BookCopy) error {
	current, ok := t.st.copies[bookCopy.ID]
	if !ok {
		return apperror.NotFound("book copy with ID %d not found", bookCopy.ID)
	}
	if current.Version != bookCopy.Version {
		return apperror.Conflict(nil, "book copy %d was modified concurrently", bookCopy.ID)
	}
	bookCopy.Version++
	t.st.copies[bookCopy.ID] = *bookCopy
	return nil
}

func (t *txStore) CreateMember(_ context.Context, member *library.Member) error {
	for _, m := range t.st.members {
		if m.IDNumber == member.IDNumber {
			return apperror.Conflict(nil, "member with ID number %s already exists", member.IDNumber)
		}
	}
	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}
	if member.RegisteredAt.IsZero() {
		member.RegisteredAt = t.now().UTC()
	}
	t.st.members[member.ID] = *member
	return nil
}

func (t *txStore) FindMember(_ context.Context, id uuid.UUID) (*library.Member, error) {
	member, ok := t.st.members[id]
	if !ok {
		return nil, apperror.NotFound("member with ID %s not found", id)
	}
	return &member, nil
}

func (t *txStore) FindMemberByIDNumber(_ context.Context, idNumber string) (*library.Member, error) {
	for _, m := range t.st.members {
		if m.IDNumber == idNumber {
			m := m
			return &m, nil
		}
	}
	return nil, apperror.NotFound("member with the given ID number does not exist")
}

func (t *txStore) UpdateMember(_ context.Context, member *library.Member) error {
	if _, ok := t.st.members[member.ID]; !ok {
		return apperror.NotFound("member with ID %s not found", member.ID)
	}
	t.st.members[member.ID] = *member
	return nil
}

func (t *txStore) CreateEmployee(_ context.Context, employee *library.Employee) error {
	for _, e := range t.st.employees {
		if e.IDNumber == employee.IDNumber {
			return apperror.Conflict(nil, "employee with ID number %s already exists", employee.IDNumber)
		}
	}
	if employee.ID == uuid.Nil {
		employee.ID = uuid.New()
	}
	if employee.HiredAt.IsZero() {
		employee.HiredAt = t.now().UTC()
	}
	t.st.employees[employee.ID] = *employee
	return nil
}

func (t *txStore) FindEmployee(_ context.Context, id uuid.UUID) (*library.Employee, error) {
	employee, ok := t.st.employees[id]
	if !ok {
		return nil, apperror.NotFound("employee with ID %s not found", id)
	}
	return &employee, nil
}

func (t *txStore) UpdateEmployee(_ context.Context, employee *library.Employee) error {
	if _, ok := t.st.employees[employee.ID]; !ok {
		return apperror.NotFound("employee with ID %s not found", employee.ID)
	}
	t.st.employees[employee.ID] = *employee
	return nil
}

func (t *txStore) SaveCredential(_ context.Context, credential *library.Credential) error {
	credential.UpdatedAt = t.now().UTC()
	t.st.credentials[credential.UserID] = *credential
	return nil
}

func (t *txStore) FindCredential(_ context.Context, userID uuid.UUID) (*library.Credential, error) {
	credential, ok := t.st.credentials[userID]
	if !ok {
		return nil, apperror.NotFound("credentials for user %s not found", userID)
	}
	return &credential, nil
}

func (t *txStore) CreateLoan(_ context.Context, loan *library.Loan) error {
	if loan.Status == library.LoanBorrowed {
		for _, l := range t.st.loans {
			if l.BookCopyID == loan.BookCopyID && l.Status == library.LoanBorrowed {
				return apperror.Conflict(nil, "book copy %d already has an open loan", loan.BookCopyID)
			}
		}
	}
	t.st.nextLoanID++
	loan.ID = t.st.nextLoanID
	loan.Version = 1
	t.st.loans[loan.ID] = *loan
	return nil
}

func (t *txStore) FindLoan(_ context.Context, id int64) (*library.Loan, error) {
	loan, ok := t.st.loans[id]
	if !ok {
		return nil, apperror.NotFound("loan with ID %d not found", id)
	}
	return &loan, nil
}

func (t *txStore) ListLoans(_ context.Context, filter library.LoanFilter) ([]*library.Loan, error) {
	loans := make([]*library.Loan, 0)
	for _, l := range t.st.loans {
		if filter.MemberID != uuid.Nil && l.MemberID != filter.MemberID {
			continue
		}
		if filter.EmployeeID != uuid.Nil && l.EmployeeID != filter.EmployeeID {
			continue
		}
		if filter.BookCopyID != 0 && l.BookCopyID != filter.BookCopyID {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		l := l
		loans = append(loans, &l)
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].ID < loans[j].ID })
	return loans, nil
}

func (t *txStore) UpdateLoan(_ context.Context, loan *library.Loan) error {
	current, ok := t.st.loans[loan.ID]
	if !ok {
		return apperror.NotFound("loan with ID %d not found", loan.ID)
	}
	if current.Version != loan.Version {
		return apperror.Conflict(nil, "loan %d was modified concurrently", loan.ID)
	}
	loan.Version++
	t.st.loans[loan.ID] = *loan
	return nil
}

func (t *txStore) CreateLoanTransaction(_ context.Context, loanTx *library.LoanTransaction) error {
	if _, ok := t.st.loans[loanTx.LoanID]; !ok {
		return apperror.NotFound("loan with ID %d not found", loanTx.LoanID)
	}
	t.st.nextLoanTxID++
	loanTx.ID = t.st.nextLoanTxID
	if loanTx.CreatedAt.IsZero() {
		loanTx.CreatedAt = t.now().UTC()
	}
	t.st.loanTxs = append(t.st.loanTxs, *loanTx)
	return nil
}

func (t *txStore) ListLoanTransactions(_ context.Context, loanID int64) ([]*library.LoanTransaction, error) {
	txs := make([]*library.LoanTransaction, 0)
	for _, lt := range t.st.loanTxs {
		if lt.LoanID != loanID {
			continue
		}
		lt := lt
		txs = append(txs, &lt)
	}
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID < txs[j].ID
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})
	return txs, nil
}

func (t *txStore) CreatePenalty(_ context.Context, penalty *library.Penalty) error {
	t.st.nextPenaltyID++
	penalty.ID = t.st.nextPenaltyID
	if penalty.CreatedAt.IsZero() {
		penalty.CreatedAt = t.now().UTC()
	}
	t.st.penalties[penalty.ID] = *penalty
	return nil
}

func (t *txStore) FindPenalty(_ context.Context, id int64) (*library.Penalty, error) {
	penalty, ok := t.st.penalties[id]
	if !ok {
		return nil, apperror.NotFound("penalty with ID %d not found", id)
	}
	return &penalty, nil
}

func (t *txStore) ListPenalties(_ context.Context, memberID uuid.UUID) ([]*library.Penalty, error) {
	penalties := make([]*library.Penalty, 0)
	for _, p := range t.st.penalties {
		if memberID != uuid.Nil && p.MemberID != memberID {
			continue
		}
		p := p
		penalties = append(penalties, &p)
	}
	sort.Slice(penalties, func(i, j int) bool { return penalties[i].ID < penalties[j].ID })
	return penalties, nil
}

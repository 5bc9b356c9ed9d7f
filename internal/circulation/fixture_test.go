package circulation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchr/testify/require"

	"libraryapi/internal/library"
	"libraryapi/internal/penalty"
	"libraryapi/internal/store/memory"
)

// testingT is satisfied by both *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) AdvanceDays(days int) {
	c.Advance(time.Duration(days) * 24 * time.Hour)
}

type fixture struct {
	store    *memory.Store
	clock    *testClock
	service  Service
	member   *library.Member
	employee *library.Employee
	book     *library.Book
	copies   []*library.BookCopy
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCalculator(t testingT) *penalty.Calculator {
	classifier, err := penalty.NewThresholdClassifier(penalty.DefaultTiers())
	require.NoError(t, err)
	return penalty.NewCalculator(penalty.DefaultDailyFee, classifier, discardLogger())
}

// newFixture seeds one book with the given number of Active copies, an
// Active member and a working employee.
func newFixture(t testingT, copies int) *fixture {
	t.Helper()

	clock := newTestClock(time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC))
	store := memory.New(memory.WithClock(clock.Now))
	f := &fixture{store: store, clock: clock}

	err := store.WithinTx(context.Background(), func(ctx context.Context, s library.Store) error {
		f.book = &library.Book{ISBN: "978-0131103627", Title: "The C Programming Language"}
		if err := s.CreateBook(ctx, f.book); err != nil {
			return err
		}
		for i := 0; i < copies; i++ {
			c := &library.BookCopy{BookID: f.book.ID, Status: library.CopyActive}
			if err := s.CreateBookCopy(ctx, c); err != nil {
				return err
			}
			f.copies = append(f.copies, c)
		}
		f.member = &library.Member{IDNumber: "M-1001", Name: "Ada", LastName: "Lovelace", Status: library.MemberActive}
		if err := s.CreateMember(ctx, f.member); err != nil {
			return err
		}
		f.employee = &library.Employee{IDNumber: "E-2001", Name: "Grace", LastName: "Hopper", Title: "Librarian", Shift: library.ShiftMorning, Status: library.EmployeeWorking}
		return s.CreateEmployee(ctx, f.employee)
	})
	require.NoError(t, err)

	f.service = NewService(store, newCalculator(t), discardLogger(), WithClock(clock.Now))
	return f
}

func (f *fixture) request(copyID int64, days int) CreateLoanRequest {
	return CreateLoanRequest{
		MemberIDNumber: f.member.IDNumber,
		EmployeeID:     f.employee.ID,
		BookCopyID:     copyID,
		HowManyDays:    days,
	}
}

func (f *fixture) addEmployee(t testingT, idNumber string) *library.Employee {
	t.Helper()
	employee := &library.Employee{IDNumber: idNumber, Name: "Katherine", LastName: "Johnson", Shift: library.ShiftEvening, Status: library.EmployeeWorking}
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, s library.Store) error {
		return s.CreateEmployee(ctx, employee)
	}))
	return employee
}

// snapshot is everything a loan operation can write.
type snapshot struct {
	Copies       []*library.BookCopy
	Loans        []*library.Loan
	Transactions map[int64][]*library.LoanTransaction
	Penalties    []*library.Penalty
}

func (f *fixture) snapshot(t testingT) snapshot {
	t.Helper()
	var snap snapshot
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, s library.Store) error {
		var err error
		if snap.Copies, err = s.ListBookCopies(ctx, library.BookCopyFilter{}); err != nil {
			return err
		}
		if snap.Loans, err = s.ListLoans(ctx, library.LoanFilter{}); err != nil {
			return err
		}
		snap.Transactions = make(map[int64][]*library.LoanTransaction)
		for _, loan := range snap.Loans {
			if snap.Transactions[loan.ID], err = s.ListLoanTransactions(ctx, loan.ID); err != nil {
				return err
			}
		}
		snap.Penalties, err = s.ListPenalties(ctx, f.member.ID)
		return err
	})
	require.NoError(t, err)
	return snap
}

func (f *fixture) copyStatus(t testingT, id int64) library.BookCopyStatus {
	t.Helper()
	var status library.BookCopyStatus
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, s library.Store) error {
		c, err := s.FindBookCopy(ctx, id)
		if err != nil {
			return err
		}
		status = c.Status
		return nil
	}))
	return status
}

var errPenaltyStore = errors.New("penalty table unavailable")

// failingPenalties is a UnitOfWork whose transactions cannot write penalties.
type failingPenalties struct {
	inner library.UnitOfWork
}

func (u failingPenalties) WithinTx(ctx context.Context, fn func(ctx context.Context, store library.Store) error) error {
	return u.inner.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		return fn(ctx, failingPenaltyStore{Store: store})
	})
}

type failingPenaltyStore struct {
	library.Store
}

func (failingPenaltyStore) CreatePenalty(context.Context, *library.Penalty) error {
	return errPenaltyStore
}


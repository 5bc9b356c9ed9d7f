package circulation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"libraryapi/internal/apperror"
	"libraryapi/internal/library"
)

func TestCreateLoanBorrowsActiveCopy(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	loan, err := f.service.CreateLoan(ctx, f.request(f.copies[0].ID, 14))
	require.NoError(t, err)

	assert.NotZero(t, loan.ID)
	assert.Equal(t, library.LoanBorrowed, loan.Status)
	assert.Equal(t, f.clock.Now(), loan.LoanDate)
	assert.Equal(t, f.clock.Now().AddDate(0, 0, 14), loan.DueDate)
	assert.Equal(t, 14, loan.CountDays)
	assert.Equal(t, f.member.ID, loan.MemberID)
	assert.Equal(t, f.employee.ID, loan.EmployeeID)
	assert.Nil(t, loan.ReturnDate)
	assert.Equal(t, library.CopyBorrowed, f.copyStatus(t, f.copies[0].ID))

	// Creating a loan is not a status change, so there is no history yet.
	_, err = f.service.LoanTransactions(ctx, loan.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCreateLoanRejectsBorrowedCopy(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.service.CreateLoan(ctx, f.request(f.copies[0].ID, 7))
	require.NoError(t, err)
	before := f.snapshot(t)

	_, err = f.service.CreateLoan(ctx, f.request(f.copies[0].ID, 7))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrInvalidOperation)
	assert.Equal(t, before, f.snapshot(t))
}

func TestCreateLoanRejectsRetiredCopy(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, s library.Store) error {
		c, err := s.FindBookCopy(ctx, f.copies[0].ID)
		if err != nil {
			return err
		}
		c.Status = library.CopyInActive
		return s.UpdateBookCopy(ctx, c)
	}))

	_, err := f.service.CreateLoan(ctx, f.request(f.copies[0].ID, 7))
	assert.ErrorIs(t, err, apperror.ErrInvalidOperation)
}

func TestCreateLoanMissingEntities(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture, req *CreateLoanRequest)
	}{
		{
			name:   "unknown copy",
			mutate: func(_ *fixture, req *CreateLoanRequest) { req.BookCopyID = 999 },
		},
		{
			name:   "unknown member",
			mutate: func(_ *fixture, req *CreateLoanRequest) { req.MemberIDNumber = "M-0000" },
		},
		{
			name:   "unknown employee",
			mutate: func(_ *fixture, req *CreateLoanRequest) { req.EmployeeID = uuid.New() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1)
			before := f.snapshot(t)

			req := f.request(f.copies[0].ID, 7)
			tt.mutate(f, &req)

			_, err := f.service.CreateLoan(context.Background(), req)
			assert.ErrorIs(t, err, apperror.ErrNotFound)
			assert.Equal(t, before, f.snapshot(t))
		})
	}
}

func TestCreateLoanValidation(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.service.CreateLoan(context.Background(), CreateLoanRequest{HowManyDays: 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Fields, "bookCopyId")
	assert.Contains(t, appErr.Fields, "memberIdNumber")
	assert.Contains(t, appErr.Fields, "employeeId")
	assert.Contains(t, appErr.Fields, "howManyDays")

	_, err = f.service.CreateLoan(context.Background(), f.request(f.copies[0].ID, 61))
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestCreateLoanMaxDaysOption(t *testing.T) {
	f := newFixture(t, 1)
	svc := NewService(f.store, newCalculator(t), discardLogger(), WithClock(f.clock.Now), WithMaxLoanDays(90))

	loan, err := svc.CreateLoan(context.Background(), f.request(f.copies[0].ID, 90))
	require.NoError(t, err)
	assert.Equal(t, 90, loan.CountDays)
}

func TestCreateLoanBlockedMember(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, s library.Store) error {
		m, err := s.FindMember(ctx, f.member.ID)
		if err != nil {
			return err
		}
		m.Status = library.MemberBlocked
		return s.UpdateMember(ctx, m)
	}))

	_, err := f.service.CreateLoan(ctx, f.request(f.copies[0].ID, 7))
	assert.ErrorIs(t, err, apperror.ErrInvalidOperation)
	assert.Equal(t, library.CopyActive, f.copyStatus(t, f.copies[0].ID))
}

func TestReturnBookLateCreatesPenalty(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	loan, err := f.service.CreateLoan(ctx, f.request(f.copies[0].ID, 7))
	require.NoError(t, err)

	f.clock.AdvanceDays(10)
	result, err := f.service.ReturnBook(ctx, loan.ID)
	require.NoError(t, err)

	assert.Equal(t, library.LoanReturned, result.Loan.Status)
	require.NotNil(t, result.Loan.ReturnDate)
	assert.Equal(t, f.clock.Now(), *result.Loan.ReturnDate)
	assert.Equal(t, library.CopyActive, f.copyStatus(t, f.copies[0].ID))

	require.NotNil(t, result.Penalty)
	assert.Equal(t, 3, result.Penalty.OverdueDays)
	assert.True(t, result.Penalty.TotalFee.Equal(decimal.RequireFromString("1.5")), result.Penalty.TotalFee.String())
	assert.Equal(t, f.member.ID, result.Penalty.MemberID)

	snap := f.snapshot(t)
	require.Len(t, snap.Penalties, 1)
	assert.Equal(t, result.Penalty.ID, snap.Penalties[0].ID)

	txs, err := f.service.LoanTransactions(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, library.LoanReturned, txs[0].Status)
	assert.Equal(t, f.employee.ID, txs[0].EmployeeID)
	assert.Equal(t, "Grace Hopper", txs[0].EmployeeName)
}

func TestReturnBookOnDueDateCreatesNoPenalty(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	loan, err := f.service.CreateLoan(ctx, f.request(f.copies[0].ID, 7))
	require.NoError(t, err)

	f.clock.AdvanceDays(7)
	f.clock.Advance(5 * time.Hour)
	result, err := f.service.ReturnBook(ctx, loan.ID)
	require.NoError(t, err)

	assert.Nil(t, result.Penalty)
	assert.Empty(t, f.snapshot(t).Penalties)
}

func TestReturnBookTwiceIsRejected(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	loan, err := f.service.CreateLoan(ctx, f.request(f.copies[0].ID, 7))
	require.NoError(t, err)
	f.clock.AdvanceDays(9)
	_, err = f.service.ReturnBook(ctx, loan.ID)
	require.NoError(t, err)
	before := f.snapshot(t)

	f.clock.AdvanceDays(3)
	_, err = f.service.ReturnBook(ctx, loan.ID)
	assert.ErrorIs(t, err, apperror.ErrInvalidOperation)
	assert.Equal(t, before, f.snapshot(t))
}

func TestReturnBookUnknownLoan(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.service.ReturnBook(context.Background(), 42)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestReturnBookRollsBackWhenPenaltyWriteFails(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	loan, err := f.service.CreateLoan(ctx, f.request(f.copies[0].ID, 7))
	require.NoError(t, err)
	before := f.snapshot(t)

	failing := NewService(failingPenalties{inner: f.store}, newCalculator(t), discardLogger(), WithClock(f.clock.Now))
	f.clock.AdvanceDays(12)
	_, err = failing.ReturnBook(ctx, loan.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errPenaltyStore)

	assert.Equal(t, before, f.snapshot(t))
	assert.Equal(t, library.CopyBorrowed, f.copyStatus(t, f.copies[0].ID))
}

func TestUpdateLoanStatusToReturned(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	other := f.addEmployee(t, "E-2002")

	loan, err := f.service.CreateLoan(ctx, f.request(f.copies[0].ID, 5))
	require.NoError(t, err)

	f.clock.AdvanceDays(6)
	result, err := f.service.UpdateLoanStatus(ctx, loan.ID, other.ID, library.LoanReturned)
	require.NoError(t, err)

	assert.Equal(t, library.LoanReturned, result.Loan.Status)
	assert.NotNil(t, result.Loan.ReturnDate)
	assert.Equal(t, library.CopyActive, f.copyStatus(t, f.copies[0].ID))
	require.NotNil(t, result.Penalty)
	assert.Equal(t, 1, result.Penalty.OverdueDays)

	txs, err := f.service.LoanTransactions(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, other.ID, txs[0].EmployeeID)
}

func TestUpdateLoanStatusSameStatusIsNoop(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	loan, err := f.service.CreateLoan(ctx, f.request(f.copies[0].ID, 5))
	require.NoError(t, err)
	before := f.snapshot(t)

	result, err := f.service.UpdateLoanStatus(ctx, loan.ID, f.employee.ID, library.LoanBorrowed)
	require.NoError(t, err)
	assert.Equal(t, loan.ID, result.Loan.ID)
	assert.Equal(t, library.LoanBorrowed, result.Loan.Status)
	assert.Nil(t, result.Penalty)
	assert.Equal(t, before, f.snapshot(t))
}

func TestUpdateLoanStatusReturnedRequiresBorrowed(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	loan, err := f.service.CreateLoan(ctx, f.request(f.copies[0].ID, 5))
	require.NoError(t, err)
	_, err = f.service.ReturnBook(ctx, loan.ID)
	require.NoError(t, err)
	before := f.snapshot(t)

	_, err = f.service.UpdateLoanStatus(ctx, loan.ID, f.employee.ID, library.LoanReturned)
	assert.ErrorIs(t, err, apperror.ErrInvalidOperation)

	_, err = f.service.UpdateLoanStatus(ctx, loan.ID, f.employee.ID, library.LoanBorrowed)
	assert.ErrorIs(t, err, apperror.ErrInvalidOperation)

	assert.Equal(t, before, f.snapshot(t))
}

func TestUpdateLoanStatusErrors(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	loan, err := f.service.CreateLoan(ctx, f.request(f.copies[0].ID, 5))
	require.NoError(t, err)

	_, err = f.service.UpdateLoanStatus(ctx, 999, f.employee.ID, library.LoanReturned)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = f.service.UpdateLoanStatus(ctx, loan.ID, uuid.New(), library.LoanReturned)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = f.service.UpdateLoanStatus(ctx, loan.ID, f.employee.ID, library.LoanStatus("Lost"))
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.service.UpdateLoanStatus(ctx, loan.ID, uuid.Nil, library.LoanReturned)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	assert.Equal(t, library.CopyBorrowed, f.copyStatus(t, f.copies[0].ID))
}

func TestLoanViews(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	first, err := f.service.CreateLoan(ctx, f.request(f.copies[0].ID, 5))
	require.NoError(t, err)
	second, err := f.service.CreateLoan(ctx, f.request(f.copies[1].ID, 10))
	require.NoError(t, err)

	view, err := f.service.GetLoan(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", view.MemberName)
	assert.Equal(t, "Grace Hopper", view.EmployeeName)
	assert.Equal(t, f.book.Title, view.BookTitle)
	assert.Equal(t, f.book.ISBN, view.ISBN)
	assert.Equal(t, f.book.ID, view.BookID)

	byMember, err := f.service.LoansByMember(ctx, f.member.ID)
	require.NoError(t, err)
	require.Len(t, byMember, 2)
	assert.Equal(t, first.ID, byMember[0].ID)
	assert.Equal(t, second.ID, byMember[1].ID)

	byEmployee, err := f.service.LoansByEmployee(ctx, f.employee.ID)
	require.NoError(t, err)
	assert.Len(t, byEmployee, 2)

	other := f.addEmployee(t, "E-3003")
	none, err := f.service.LoansByEmployee(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.service.GetLoan(ctx, 404)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = f.service.LoansByMember(ctx, uuid.New())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = f.service.LoansByEmployee(ctx, uuid.New())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = f.service.LoanTransactions(ctx, 404)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

// TestLoanWorkflowInvariants drives random loan operations and checks after
// every step that no copy has two open loans and that loan and copy
// statuses agree.
func TestLoanWorkflowInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt, 3)
		ctx := context.Background()
		var loanIDs []int64

		rt.Repeat(map[string]func(*rapid.T){
			"borrow": func(rt *rapid.T) {
				c := rapid.SampledFrom(f.copies).Draw(rt, "copy")
				days := rapid.IntRange(1, 30).Draw(rt, "days")
				before := f.snapshot(rt)
				loan, err := f.service.CreateLoan(ctx, f.request(c.ID, days))
				if err != nil {
					require.ErrorIs(rt, err, apperror.ErrInvalidOperation)
					require.Equal(rt, before, f.snapshot(rt))
					return
				}
				loanIDs = append(loanIDs, loan.ID)
			},
			"return": func(rt *rapid.T) {
				if len(loanIDs) == 0 {
					rt.Skip("no loans yet")
				}
				id := rapid.SampledFrom(loanIDs).Draw(rt, "loan")
				before := f.snapshot(rt)
				if _, err := f.service.ReturnBook(ctx, id); err != nil {
					require.ErrorIs(rt, err, apperror.ErrInvalidOperation)
					require.Equal(rt, before, f.snapshot(rt))
				}
			},
			"reassert": func(rt *rapid.T) {
				if len(loanIDs) == 0 {
					rt.Skip("no loans yet")
				}
				id := rapid.SampledFrom(loanIDs).Draw(rt, "loan")
				before := f.snapshot(rt)
				current := loanByID(before.Loans, id)
				if current.Status != library.LoanBorrowed {
					rt.Skip("loan already returned")
				}
				_, err := f.service.UpdateLoanStatus(ctx, id, f.employee.ID, library.LoanBorrowed)
				require.NoError(rt, err)
				require.Equal(rt, before, f.snapshot(rt))
			},
			"wait": func(rt *rapid.T) {
				f.clock.AdvanceDays(rapid.IntRange(0, 20).Draw(rt, "days"))
			},
			"": func(rt *rapid.T) {
				checkLoanInvariants(rt, f.snapshot(rt))
			},
		})
	})
}

func loanByID(loans []*library.Loan, id int64) *library.Loan {
	for _, l := range loans {
		if l.ID == id {
			return l
		}
	}
	return nil
}

func checkLoanInvariants(t require.TestingT, snap snapshot) {
	open := make(map[int64]int)
	latest := make(map[int64]*library.Loan)
	for _, loan := range snap.Loans {
		if loan.Status == library.LoanBorrowed {
			open[loan.BookCopyID]++
		}
		if prev, ok := latest[loan.BookCopyID]; !ok || loan.ID > prev.ID {
			latest[loan.BookCopyID] = loan
		}
	}

	for _, c := range snap.Copies {
		require.LessOrEqual(t, open[c.ID], 1, "copy %d has several open loans", c.ID)
		loan, ok := latest[c.ID]
		if !ok {
			require.Equal(t, library.CopyActive, c.Status)
			continue
		}
		switch loan.Status {
		case library.LoanBorrowed:
			require.Equal(t, library.CopyBorrowed, c.Status, "copy %d of open loan %d", c.ID, loan.ID)
		case library.LoanReturned:
			require.Equal(t, library.CopyActive, c.Status, "copy %d of returned loan %d", c.ID, loan.ID)
		}
	}

	for _, loan := range snap.Loans {
		txs := snap.Transactions[loan.ID]
		if loan.Status == library.LoanReturned {
			require.Len(t, txs, 1)
			require.NotNil(t, loan.ReturnDate)
		} else {
			require.Empty(t, txs)
		}
	}
}

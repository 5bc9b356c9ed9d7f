// internal/circulation/implementation.go
package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"libraryapi/internal/apperror"
	"libraryapi/internal/library"
	"libraryapi/internal/penalty"
	"libraryapi/internal/telemetry"
)

const defaultMaxLoanDays = 60

// PenaltyCalculator assesses late fees inside the return transaction.
type PenaltyCalculator interface {
	Calculate(ctx context.Context, w penalty.Writer, memberID uuid.UUID, dueDate, returnDate time.Time) (*library.Penalty, error)
}

// service implements the Service interface.
type service struct {
	uow         library.UnitOfWork
	penalties   PenaltyCalculator
	now         func() time.Time
	maxLoanDays int
	logger      *slog.Logger
	tracer      trace.Tracer
	created     metric.Int64Counter
	returned    metric.Int64Counter
}

// Option configures the circulation service.
type Option func(*service)

// WithClock overrides the time source used for loan and return dates.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithMaxLoanDays caps the loan duration a request may ask for.
func WithMaxLoanDays(days int) Option {
	return func(s *service) {
		if days > 0 {
			s.maxLoanDays = days
		}
	}
}

// NewService creates a new circulation service instance.
func NewService(uow library.UnitOfWork, penalties PenaltyCalculator, logger *slog.Logger, options ...Option) Service {
	s := &service{
		uow:         uow,
		penalties:   penalties,
		now:         time.Now,
		maxLoanDays: defaultMaxLoanDays,
		logger:      logger.With("component", "circulation"),
		tracer:      telemetry.Tracer("circulation"),
		created:     telemetry.Counter("circulation", "library.loans.created", "Loans created"),
		returned:    telemetry.Counter("circulation", "library.loans.returned", "Loans closed as returned"),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// CreateLoan lends an Active copy. The copy status flip and the loan row
// commit in one transaction; the copy is re-read inside it.
func (s *service) CreateLoan(ctx context.Context, req CreateLoanRequest) (*library.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.create_loan",
		trace.WithAttributes(
			attribute.Int64("book_copy.id", req.BookCopyID),
			attribute.String("employee.id", req.EmployeeID.String()),
			attribute.Int("loan.days", req.HowManyDays),
		),
	)
	defer span.End()

	if err := s.validateCreate(req); err != nil {
		return nil, s.fail(ctx, span, err)
	}

	var loan *library.Loan
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		bookCopy, err := store.FindBookCopy(ctx, req.BookCopyID)
		if err != nil {
			return err
		}
		if bookCopy.Status != library.CopyActive {
			return apperror.InvalidOperation("book copy %d is not available for loan (status %s)", bookCopy.ID, bookCopy.Status)
		}

		member, err := store.FindMemberByIDNumber(ctx, req.MemberIDNumber)
		if err != nil {
			return err
		}
		if !member.CanBorrow() {
			return apperror.InvalidOperation("member %s is %s and cannot borrow books", member.IDNumber, member.Status)
		}

		employee, err := store.FindEmployee(ctx, req.EmployeeID)
		if err != nil {
			return err
		}

		now := s.now()
		loan = &library.Loan{
			MemberID:   member.ID,
			EmployeeID: employee.ID,
			BookCopyID: bookCopy.ID,
			CountDays:  req.HowManyDays,
			LoanDate:   now,
			DueDate:    now.AddDate(0, 0, req.HowManyDays),
			Status:     library.LoanBorrowed,
		}
		if err := store.CreateLoan(ctx, loan); err != nil {
			return fmt.Errorf("insert loan: %w", err)
		}

		bookCopy.Status = library.CopyBorrowed
		if err := store.UpdateBookCopy(ctx, bookCopy); err != nil {
			return fmt.Errorf("mark copy borrowed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, span, fmt.Errorf("create loan: %w", err))
	}

	s.created.Add(ctx, 1)
	span.SetAttributes(attribute.Int64("loan.id", loan.ID))
	s.logger.InfoContext(ctx, "loan created",
		"loan_id", loan.ID,
		"book_copy_id", loan.BookCopyID,
		"member_id", loan.MemberID,
		"due_date", loan.DueDate,
	)
	return loan, nil
}

func (s *service) validateCreate(req CreateLoanRequest) error {
	fields := make(map[string]string)
	if req.BookCopyID <= 0 {
		fields["bookCopyId"] = "must be a positive identifier"
	}
	if req.MemberIDNumber == "" {
		fields["memberIdNumber"] = "is required"
	}
	if req.EmployeeID == uuid.Nil {
		fields["employeeId"] = "is required"
	}
	if req.HowManyDays < 1 || req.HowManyDays > s.maxLoanDays {
		fields["howManyDays"] = fmt.Sprintf("must be between 1 and %d", s.maxLoanDays)
	}
	if len(fields) > 0 {
		return apperror.ValidationFields(fields)
	}
	return nil
}

// UpdateLoanStatus applies an employee's status change. Setting the current
// status is a no-op. Returned is only reachable from Borrowed and runs the
// same closure as ReturnBook; nothing leaves Returned.
func (s *service) UpdateLoanStatus(ctx context.Context, loanID int64, employeeID uuid.UUID, newStatus library.LoanStatus) (*ReturnResult, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.update_loan_status",
		trace.WithAttributes(
			attribute.Int64("loan.id", loanID),
			attribute.String("loan.new_status", newStatus.String()),
		),
	)
	defer span.End()

	if _, err := library.ParseLoanStatus(newStatus.String()); err != nil {
		return nil, s.fail(ctx, span, err)
	}
	if employeeID == uuid.Nil {
		return nil, s.fail(ctx, span, apperror.ValidationFields(map[string]string{"employeeId": "is required"}))
	}

	var result *ReturnResult
	changed := false
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		loan, err := store.FindLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if _, err := store.FindEmployee(ctx, employeeID); err != nil {
			return err
		}

		if newStatus == library.LoanReturned {
			if loan.Status != library.LoanBorrowed {
				return apperror.InvalidOperation("loan %d cannot be marked as returned because it is not currently borrowed", loan.ID)
			}
			result, err = s.closeLoan(ctx, store, loan, employeeID)
			changed = err == nil
			return err
		}

		if loan.Status == newStatus {
			result = &ReturnResult{Loan: loan}
			return nil
		}
		return apperror.InvalidOperation("loan %d cannot move from %s to %s", loan.ID, loan.Status, newStatus)
	})
	if err != nil {
		return nil, s.fail(ctx, span, fmt.Errorf("update loan status: %w", err))
	}

	span.SetAttributes(attribute.Bool("loan.changed", changed))
	if changed {
		s.recordReturn(ctx, result, employeeID)
	}
	return result, nil
}

// ReturnBook closes a borrowed loan, releases its copy and assesses any
// late fee, all in one transaction.
func (s *service) ReturnBook(ctx context.Context, loanID int64) (*ReturnResult, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return_book",
		trace.WithAttributes(attribute.Int64("loan.id", loanID)),
	)
	defer span.End()

	var result *ReturnResult
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		loan, err := store.FindLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != library.LoanBorrowed {
			return apperror.InvalidOperation("loan %d is not borrowed", loan.ID)
		}
		result, err = s.closeLoan(ctx, store, loan, loan.EmployeeID)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, span, fmt.Errorf("return book: %w", err))
	}

	s.recordReturn(ctx, result, result.Loan.EmployeeID)
	return result, nil
}

// closeLoan must run inside the caller's transaction.
func (s *service) closeLoan(ctx context.Context, store library.Store, loan *library.Loan, employeeID uuid.UUID) (*ReturnResult, error) {
	now := s.now()

	loan.Status = library.LoanReturned
	loan.ReturnDate = &now
	if err := store.UpdateLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("close loan: %w", err)
	}

	if err := store.CreateLoanTransaction(ctx, &library.LoanTransaction{
		LoanID:     loan.ID,
		EmployeeID: employeeID,
		Status:     library.LoanReturned,
		CreatedAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("record loan transaction: %w", err)
	}

	bookCopy, err := store.FindBookCopy(ctx, loan.BookCopyID)
	if err != nil {
		return nil, fmt.Errorf("load returned copy: %w", err)
	}
	bookCopy.Status = library.CopyActive
	if err := store.UpdateBookCopy(ctx, bookCopy); err != nil {
		return nil, fmt.Errorf("release copy: %w", err)
	}

	assessed, err := s.penalties.Calculate(ctx, store, loan.MemberID, loan.DueDate, now)
	if err != nil {
		return nil, fmt.Errorf("calculate penalty: %w", err)
	}

	return &ReturnResult{Loan: loan, Penalty: assessed}, nil
}

func (s *service) recordReturn(ctx context.Context, result *ReturnResult, employeeID uuid.UUID) {
	s.returned.Add(ctx, 1, metric.WithAttributes(attribute.Bool("penalty.assessed", result.Penalty != nil)))
	s.logger.InfoContext(ctx, "loan returned",
		"loan_id", result.Loan.ID,
		"book_copy_id", result.Loan.BookCopyID,
		"employee_id", employeeID,
		"penalty", result.Penalty != nil,
	)
}

func (s *service) GetLoan(ctx context.Context, loanID int64) (*LoanView, error) {
	var view *LoanView
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		loan, err := store.FindLoan(ctx, loanID)
		if err != nil {
			return err
		}
		view, err = newViewer(store).loan(ctx, loan)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return view, nil
}

func (s *service) LoansByMember(ctx context.Context, memberID uuid.UUID) ([]*LoanView, error) {
	views, err := s.listLoans(ctx, library.LoanFilter{MemberID: memberID}, func(ctx context.Context, store library.Store) error {
		_, err := store.FindMember(ctx, memberID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list loans by member: %w", err)
	}
	return views, nil
}

func (s *service) LoansByEmployee(ctx context.Context, employeeID uuid.UUID) ([]*LoanView, error) {
	views, err := s.listLoans(ctx, library.LoanFilter{EmployeeID: employeeID}, func(ctx context.Context, store library.Store) error {
		_, err := store.FindEmployee(ctx, employeeID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list loans by employee: %w", err)
	}
	return views, nil
}

func (s *service) listLoans(ctx context.Context, filter library.LoanFilter, exists func(context.Context, library.Store) error) ([]*LoanView, error) {
	var views []*LoanView
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		if err := exists(ctx, store); err != nil {
			return err
		}
		loans, err := store.ListLoans(ctx, filter)
		if err != nil {
			return err
		}
		v := newViewer(store)
		views = make([]*LoanView, 0, len(loans))
		for _, loan := range loans {
			view, err := v.loan(ctx, loan)
			if err != nil {
				return err
			}
			views = append(views, view)
		}
		return nil
	})
	return views, err
}

// LoanTransactions returns a loan's status history in write order.
func (s *service) LoanTransactions(ctx context.Context, loanID int64) ([]*TransactionView, error) {
	var views []*TransactionView
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		if _, err := store.FindLoan(ctx, loanID); err != nil {
			return err
		}
		txs, err := store.ListLoanTransactions(ctx, loanID)
		if err != nil {
			return err
		}
		if len(txs) == 0 {
			return apperror.NotFound("no loan transactions found for loan %d", loanID)
		}
		v := newViewer(store)
		views = make([]*TransactionView, 0, len(txs))
		for _, tx := range txs {
			employee, err := v.employee(ctx, tx.EmployeeID)
			if err != nil {
				return err
			}
			views = append(views, &TransactionView{LoanTransaction: tx, EmployeeName: fullName(employee.Name, employee.LastName)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list loan transactions: %w", err)
	}
	return views, nil
}

func (s *service) fail(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, apperror.KindOf(err).String())
	if apperror.KindOf(err) == apperror.KindConflict {
		s.logger.WarnContext(ctx, "loan operation rolled back after concurrent modification", "error", err)
	}
	return err
}

// internal/consistency/experiments.go
package consistency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"libraryapi/internal/apperror"
	"libraryapi/internal/catalog"
	"libraryapi/internal/circulation"
	"libraryapi/internal/library"
	"libraryapi/internal/membership"
)

// Loans is the part of the loan API the experiments drive. Both
// circulation.Service and clients.LibraryClient satisfy it.
type Loans interface {
	CreateLoan(ctx context.Context, req circulation.CreateLoanRequest) (*library.Loan, error)
	ReturnBook(ctx context.Context, loanID int64) (*circulation.ReturnResult, error)
}

// Target is the copy, member and employee an experiment contends over.
type Target struct {
	BookID         int64
	BookCopyID     int64
	MemberIDNumber string
	EmployeeID     uuid.UUID
}

// SeedTarget creates a fresh book with one Active copy, a member and an
// employee for the experiments to use.
func SeedTarget(ctx context.Context, books catalog.Service, people membership.Service) (Target, error) {
	suffix := uuid.NewString()[:8]

	book, err := books.AddBook(ctx, catalog.AddBookRequest{
		ISBN:   "probe-" + suffix,
		Title:  "Consistency probe " + suffix,
		Copies: 1,
	})
	if err != nil {
		return Target{}, fmt.Errorf("seed book: %w", err)
	}
	member, err := people.RegisterMember(ctx, membership.RegisterMemberRequest{
		IDNumber: "probe-member-" + suffix,
		Name:     "Probe",
		LastName: "Member",
		Password: uuid.NewString(),
	})
	if err != nil {
		return Target{}, fmt.Errorf("seed member: %w", err)
	}
	employee, err := people.RegisterEmployee(ctx, membership.RegisterEmployeeRequest{
		IDNumber: "probe-employee-" + suffix,
		Name:     "Probe",
		LastName: "Employee",
		Password: uuid.NewString(),
	})
	if err != nil {
		return Target{}, fmt.Errorf("seed employee: %w", err)
	}

	return Target{
		BookID:         book.ID,
		BookCopyID:     book.Copies[0].ID,
		MemberIDNumber: member.IDNumber,
		EmployeeID:     employee.ID,
	}, nil
}

// tally counts concurrent outcomes. InvalidOperation and Conflict are the
// expected ways to lose a race; anything else is unexpected.
type tally struct {
	mu         sync.Mutex
	wins       []int64
	lost       int
	unexpected []error
}

func (t *tally) record(id int64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case err == nil:
		t.wins = append(t.wins, id)
	case errors.Is(err, apperror.ErrInvalidOperation), errors.Is(err, apperror.ErrConflict):
		t.lost++
	default:
		t.unexpected = append(t.unexpected, err)
	}
}

func (t *tally) metrics(prefix string) []Metric {
	return []Metric{
		{
			Name: prefix + "_successes",
			Query: func(context.Context) (float64, error) {
				t.mu.Lock()
				defer t.mu.Unlock()
				return float64(len(t.wins)), nil
			},
		},
		{
			Name: prefix + "_unexpected_failures",
			Query: func(context.Context) (float64, error) {
				t.mu.Lock()
				defer t.mu.Unlock()
				return float64(len(t.unexpected)), nil
			},
		},
	}
}

func (t *tally) err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return errors.Join(t.unexpected...)
}

// fanOut runs fn concurrently n times, releasing all callers at once.
func fanOut(ctx context.Context, n int, fn func(ctx context.Context)) {
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			fn(ctx)
		}()
	}
	close(start)
	wg.Wait()
}

func exactlyOne(metric, message string) Assertion {
	return Assertion{Metric: metric, Condition: func(v float64) bool { return v == 1 }, Message: message}
}

func none(metric, message string) Assertion {
	return Assertion{Metric: metric, Condition: func(v float64) bool { return v == 0 }, Message: message}
}

// ConcurrentLoanExperiment fires concurrency CreateLoan calls for the same
// Active copy. Exactly one may win; the rest must lose cleanly.
func ConcurrentLoanExperiment(uow library.UnitOfWork, loans Loans, target Target, concurrency int, duration time.Duration) Experiment {
	outcomes := &tally{}

	return Experiment{
		Name:        "concurrent-loan-same-copy",
		Hypothesis:  "Only one of many simultaneous loans for the same copy succeeds",
		SteadyState: InvariantMetrics(uow),
		Probes:      outcomes.metrics("loan"),
		Method: []Action{{
			Name:   "concurrent-create-loan",
			Target: "circulation",
			Execute: func(ctx context.Context) error {
				fanOut(ctx, concurrency, func(ctx context.Context) {
					loan, err := loans.CreateLoan(ctx, circulation.CreateLoanRequest{
						MemberIDNumber: target.MemberIDNumber,
						EmployeeID:     target.EmployeeID,
						BookCopyID:     target.BookCopyID,
						HowManyDays:    7,
					})
					var id int64
					if loan != nil {
						id = loan.ID
					}
					outcomes.record(id, err)
				})
				return outcomes.err()
			},
		}},
		Rollback: []Action{{
			Name:   "return-winning-loan",
			Target: "circulation",
			Execute: func(ctx context.Context) error {
				outcomes.mu.Lock()
				wins := append([]int64(nil), outcomes.wins...)
				outcomes.mu.Unlock()

				var errs []error
				for _, id := range wins {
					if _, err := loans.ReturnBook(ctx, id); err != nil {
						errs = append(errs, fmt.Errorf("return loan %d: %w", id, err))
					}
				}
				return errors.Join(errs...)
			},
		}},
		Validation: []Assertion{
			exactlyOne("loan_successes", "exactly one concurrent loan should succeed"),
			none("loan_unexpected_failures", "losing loans should fail with InvalidOperation or Conflict"),
			none("double_lent_copies", "no copy may be lent twice"),
			none("uncoupled_open_loans", "every open loan should hold a Borrowed copy"),
		},
		Duration: duration,
	}
}

// ConcurrentReturnExperiment lends the target copy once and then fires
// concurrency ReturnBook calls for that loan. Exactly one may close it and
// the loan must carry exactly one transaction.
func ConcurrentReturnExperiment(uow library.UnitOfWork, loans Loans, target Target, concurrency int, duration time.Duration) Experiment {
	outcomes := &tally{}
	var loanID int64

	transactions := Metric{
		Name: "return_transactions",
		Query: func(ctx context.Context) (float64, error) {
			if loanID == 0 {
				return 0, nil
			}
			var n int
			err := uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
				txs, err := store.ListLoanTransactions(ctx, loanID)
				n = len(txs)
				return err
			})
			return float64(n), err
		},
	}

	return Experiment{
		Name:        "concurrent-return-same-loan",
		Hypothesis:  "A loan returned many times at once is closed exactly once",
		SteadyState: InvariantMetrics(uow),
		Probes:      append(outcomes.metrics("return"), transactions),
		Method: []Action{
			{
				Name:   "create-loan",
				Target: "circulation",
				Execute: func(ctx context.Context) error {
					loan, err := loans.CreateLoan(ctx, circulation.CreateLoanRequest{
						MemberIDNumber: target.MemberIDNumber,
						EmployeeID:     target.EmployeeID,
						BookCopyID:     target.BookCopyID,
						HowManyDays:    7,
					})
					if err != nil {
						return fmt.Errorf("create loan: %w", err)
					}
					loanID = loan.ID
					return nil
				},
			},
			{
				Name:   "concurrent-return-book",
				Target: "circulation",
				Execute: func(ctx context.Context) error {
					if loanID == 0 {
						return errors.New("no loan to return")
					}
					fanOut(ctx, concurrency, func(ctx context.Context) {
						_, err := loans.ReturnBook(ctx, loanID)
						outcomes.record(loanID, err)
					})
					return outcomes.err()
				},
			},
		},
		Validation: []Assertion{
			exactlyOne("return_successes", "exactly one concurrent return should succeed"),
			none("return_unexpected_failures", "losing returns should fail with InvalidOperation or Conflict"),
			exactlyOne("return_transactions", "the loan should carry exactly one transaction"),
			none("stranded_copies", "a returned copy must not stay Borrowed"),
		},
		Duration: duration,
	}
}

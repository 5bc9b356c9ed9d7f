// internal/consistency/invariants.go
package consistency

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"libraryapi/internal/library"
)

// Report counts invariant violations found in one consistent read of the
// store. A healthy store reports all zeros.
type Report struct {
	// DoubleLentCopies are copies with more than one open loan.
	DoubleLentCopies int `json:"double_lent_copies"`
	// UncoupledOpenLoans are open loans whose copy is not Borrowed.
	UncoupledOpenLoans int `json:"uncoupled_open_loans"`
	// StrandedCopies are Borrowed copies with no open loan.
	StrandedCopies int `json:"stranded_copies"`
	// InvalidPenalties have no overdue days, no severity or a total that
	// is not daily fee times overdue days.
	InvalidPenalties int `json:"invalid_penalties"`
}

func (r *Report) Total() int {
	return r.DoubleLentCopies + r.UncoupledOpenLoans + r.StrandedCopies + r.InvalidPenalties
}

// Inspect reads every loan, copy and penalty in one transaction and counts
// violations.
func Inspect(ctx context.Context, uow library.UnitOfWork) (*Report, error) {
	var (
		loans     []*library.Loan
		copies    []*library.BookCopy
		penalties []*library.Penalty
	)
	err := uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		var err error
		if loans, err = store.ListLoans(ctx, library.LoanFilter{}); err != nil {
			return err
		}
		if copies, err = store.ListBookCopies(ctx, library.BookCopyFilter{}); err != nil {
			return err
		}
		penalties, err = store.ListPenalties(ctx, uuid.Nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inspect store: %w", err)
	}

	report := &Report{}

	openByCopy := make(map[int64]int)
	for _, loan := range loans {
		if loan.IsOpen() {
			openByCopy[loan.BookCopyID]++
		}
	}
	for _, n := range openByCopy {
		if n > 1 {
			report.DoubleLentCopies++
		}
	}

	copyStatus := make(map[int64]library.BookCopyStatus, len(copies))
	for _, c := range copies {
		copyStatus[c.ID] = c.Status
		if c.Status == library.CopyBorrowed && openByCopy[c.ID] == 0 {
			report.StrandedCopies++
		}
	}
	for _, loan := range loans {
		if loan.IsOpen() && copyStatus[loan.BookCopyID] != library.CopyBorrowed {
			report.UncoupledOpenLoans++
		}
	}

	for _, p := range penalties {
		expected := p.DailyFee.Mul(decimal.NewFromInt(int64(p.OverdueDays)))
		if p.OverdueDays <= 0 || p.Type == library.PenaltyNone || !p.TotalFee.Equal(expected) {
			report.InvalidPenalties++
		}
	}

	return report, nil
}

// InvariantMetrics exposes each Report counter as a steady-state metric
// that must stay at zero.
func InvariantMetrics(uow library.UnitOfWork) []Metric {
	counter := func(name string, pick func(*Report) int) Metric {
		return Metric{
			Name: name,
			Query: func(ctx context.Context) (float64, error) {
				report, err := Inspect(ctx, uow)
				if err != nil {
					return 0, err
				}
				return float64(pick(report)), nil
			},
			Threshold: Threshold{Operator: "==", Value: 0},
		}
	}
	return []Metric{
		counter("double_lent_copies", func(r *Report) int { return r.DoubleLentCopies }),
		counter("uncoupled_open_loans", func(r *Report) int { return r.UncoupledOpenLoans }),
		counter("stranded_copies", func(r *Report) int { return r.StrandedCopies }),
		counter("invalid_penalties", func(r *Report) int { return r.InvalidPenalties }),
	}
}

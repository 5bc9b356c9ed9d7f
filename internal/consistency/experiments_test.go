package consistency

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"libraryapi/internal/catalog"
	"libraryapi/internal/circulation"
	"libraryapi/internal/clients"
	"libraryapi/internal/config"
	"libraryapi/internal/httpapi"
	"libraryapi/internal/library"
	"libraryapi/internal/membership"
	"libraryapi/internal/penalty"
	"libraryapi/internal/store/memory"
)

type probeFixture struct {
	store  *memory.Store
	loans  circulation.Service
	target Target
}

func newProbeFixture(t *testing.T) *probeFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()

	classifier, err := penalty.NewThresholdClassifier(penalty.DefaultTiers())
	require.NoError(t, err)

	target, err := SeedTarget(context.Background(),
		catalog.NewService(store, 0, logger),
		membership.NewService(store, logger, membership.WithRegistrationLimit(rate.Inf, 1)),
	)
	require.NoError(t, err)

	return &probeFixture{
		store:  store,
		loans:  circulation.NewService(store, penalty.NewCalculator(penalty.DefaultDailyFee, classifier, logger), logger),
		target: target,
	}
}

func TestInspectHealthyStore(t *testing.T) {
	f := newProbeFixture(t)
	ctx := context.Background()

	_, err := f.loans.CreateLoan(ctx, circulation.CreateLoanRequest{
		MemberIDNumber: f.target.MemberIDNumber,
		EmployeeID:     f.target.EmployeeID,
		BookCopyID:     f.target.BookCopyID,
		HowManyDays:    3,
	})
	require.NoError(t, err)

	report, err := Inspect(ctx, f.store)
	require.NoError(t, err)
	assert.Zero(t, report.Total())
}

func TestInspectCountsViolations(t *testing.T) {
	f := newProbeFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		member, err := store.FindMemberByIDNumber(ctx, f.target.MemberIDNumber)
		require.NoError(t, err)

		// An open loan on a copy that is still Active.
		require.NoError(t, store.CreateLoan(ctx, &library.Loan{
			MemberID:   member.ID,
			EmployeeID: f.target.EmployeeID,
			BookCopyID: f.target.BookCopyID,
			CountDays:  3,
			LoanDate:   time.Now(),
			DueDate:    time.Now().AddDate(0, 0, 3),
			Status:     library.LoanBorrowed,
		}))

		// A Borrowed copy nobody holds.
		stranded := &library.BookCopy{BookID: f.target.BookID, Status: library.CopyBorrowed}
		require.NoError(t, store.CreateBookCopy(ctx, stranded))

		// A penalty whose total does not match its days.
		return store.CreatePenalty(ctx, &library.Penalty{
			MemberID:    member.ID,
			DailyFee:    decimal.RequireFromString("0.5"),
			OverdueDays: 2,
			Type:        library.PenaltyMinor,
			TotalFee:    decimal.RequireFromString("3"),
		})
	}))

	report, err := Inspect(ctx, f.store)
	require.NoError(t, err)
	assert.Equal(t, 0, report.DoubleLentCopies)
	assert.Equal(t, 1, report.UncoupledOpenLoans)
	assert.Equal(t, 1, report.StrandedCopies)
	assert.Equal(t, 1, report.InvalidPenalties)
	assert.Equal(t, 3, report.Total())
}

func TestConcurrentLoanExperimentHolds(t *testing.T) {
	f := newProbeFixture(t)
	engine := newTestEngine()

	result, err := engine.Run(context.Background(),
		ConcurrentLoanExperiment(f.store, f.loans, f.target, 16, 10*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, result.HypothesisHeld, "violations=%v failed=%v errors=%v",
		result.Violations, result.FailedAssertions, result.ErrorEvents)

	// The rollback returned the winning loan.
	report, err := Inspect(context.Background(), f.store)
	require.NoError(t, err)
	assert.Zero(t, report.Total())

	var status library.BookCopyStatus
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, store library.Store) error {
		c, err := store.FindBookCopy(ctx, f.target.BookCopyID)
		if err != nil {
			return err
		}
		status = c.Status
		return nil
	}))
	assert.Equal(t, library.CopyActive, status)
}

func TestConcurrentReturnExperimentHolds(t *testing.T) {
	f := newProbeFixture(t)
	engine := newTestEngine()

	result, err := engine.Run(context.Background(),
		ConcurrentReturnExperiment(f.store, f.loans, f.target, 16, 10*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, result.HypothesisHeld, "violations=%v failed=%v errors=%v",
		result.Violations, result.FailedAssertions, result.ErrorEvents)
}

// throttleCounter counts the 429 responses written by the wrapped handler.
type throttleCounter struct {
	next      http.Handler
	throttled atomic.Int32
}

func (c *throttleCounter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.next.ServeHTTP(&statusWriter{ResponseWriter: w, counter: c}, r)
}

type statusWriter struct {
	http.ResponseWriter
	counter *throttleCounter
}

func (w *statusWriter) WriteHeader(status int) {
	if status == http.StatusTooManyRequests {
		w.counter.throttled.Add(1)
	}
	w.ResponseWriter.WriteHeader(status)
}

func TestConcurrentLoanExperimentHoldsThroughThrottledAPI(t *testing.T) {
	f := newProbeFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg, err := config.Load()
	require.NoError(t, err)
	concurrency := cfg.RateLimitBurst + 30

	router := httpapi.NewRouter(httpapi.Services{
		Circulation: f.loans,
		Penalty:     penalty.NewService(f.store),
		Catalog:     catalog.NewService(f.store, cfg.ShelfCapacity, logger),
		Membership:  membership.NewService(f.store, logger),
	}, httpapi.Options{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, logger)
	counter := &throttleCounter{next: router}
	srv := httptest.NewServer(counter)
	t.Cleanup(srv.Close)

	client := clients.NewLibraryClient(srv.URL, srv.Client())
	result, err := newTestEngine().Run(context.Background(),
		ConcurrentLoanExperiment(f.store, client, f.target, concurrency, 10*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, result.HypothesisHeld, "violations=%v failed=%v errors=%v",
		result.Violations, result.FailedAssertions, result.ErrorEvents)
	assert.Empty(t, result.ErrorEvents)
	assert.Positive(t, counter.throttled.Load(), "the API should have throttled some of the loans")

	report, err := Inspect(context.Background(), f.store)
	require.NoError(t, err)
	assert.Zero(t, report.Total())
}

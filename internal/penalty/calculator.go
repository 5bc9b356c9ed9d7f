// internal/penalty/calculator.go
package penalty

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"libraryapi/internal/library"
	"libraryapi/internal/telemetry"
)

// DefaultDailyFee is charged per overdue day unless configured otherwise.
var DefaultDailyFee = decimal.RequireFromString("0.5")

// Writer persists penalties. A transactional library.Store satisfies it, so
// the penalty commits with the return that caused it.
type Writer interface {
	CreatePenalty(ctx context.Context, penalty *library.Penalty) error
}

// Calculator computes overdue fees for returned loans.
type Calculator struct {
	dailyFee   decimal.Decimal
	classifier Classifier
	logger     *slog.Logger
	tracer     trace.Tracer
	assessed   metric.Int64Counter
}

func NewCalculator(dailyFee decimal.Decimal, classifier Classifier, logger *slog.Logger) *Calculator {
	return &Calculator{
		dailyFee:   dailyFee,
		classifier: classifier,
		logger:     logger.With("component", "penalty"),
		tracer:     telemetry.Tracer("penalty"),
		assessed:   telemetry.Counter("penalty", "library.penalties.assessed", "Penalties created for overdue returns"),
	}
}

// DailyFee returns the configured per-day rate.
func (c *Calculator) DailyFee() decimal.Decimal {
	return c.dailyFee
}

// Calculate creates a penalty when returnDate falls on a later calendar day
// than dueDate. Time of day is ignored. It returns nil when nothing is owed.
func (c *Calculator) Calculate(ctx context.Context, w Writer, memberID uuid.UUID, dueDate, returnDate time.Time) (*library.Penalty, error) {
	ctx, span := c.tracer.Start(ctx, "penalty.calculate",
		trace.WithAttributes(
			attribute.String("member.id", memberID.String()),
		),
	)
	defer span.End()

	start := dateOf(dueDate)
	end := dateOf(returnDate)
	overdueDays := OverdueDays(dueDate, returnDate)
	if overdueDays <= 0 {
		span.SetAttributes(attribute.Bool("penalty.created", false))
		return nil, nil
	}

	penaltyType := c.classifier.Classify(overdueDays)
	if penaltyType == library.PenaltyNone {
		span.SetAttributes(attribute.Bool("penalty.created", false))
		return nil, nil
	}

	penalty := &library.Penalty{
		MemberID:    memberID,
		DailyFee:    c.dailyFee,
		StartDate:   start,
		EndDate:     end,
		OverdueDays: overdueDays,
		Type:        penaltyType,
		TotalFee:    c.dailyFee.Mul(decimal.NewFromInt(int64(overdueDays))),
	}
	if err := w.CreatePenalty(ctx, penalty); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create penalty: %w", err)
	}

	c.assessed.Add(ctx, 1, metric.WithAttributes(attribute.String("penalty.type", penaltyType.String())))
	span.SetAttributes(
		attribute.Bool("penalty.created", true),
		attribute.Int("penalty.overdue_days", overdueDays),
		attribute.String("penalty.total_fee", penalty.TotalFee.String()),
	)
	c.logger.InfoContext(ctx, "penalty assessed",
		"member_id", memberID,
		"overdue_days", overdueDays,
		"type", penaltyType,
		"total_fee", penalty.TotalFee.String(),
	)
	return penalty, nil
}

// OverdueDays is the whole-day difference between the calendar dates of
// returnDate and dueDate, or zero when the return was on time.
func OverdueDays(dueDate, returnDate time.Time) int {
	start := dateOf(dueDate)
	end := dateOf(returnDate)
	if !end.After(start) {
		return 0
	}
	return int(end.Sub(start).Hours() / 24)
}

// dateOf truncates t to midnight of its UTC calendar day.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

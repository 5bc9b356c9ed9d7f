// internal/consistency/engine.go
package consistency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libraryapi/internal/telemetry"
)

// ErrSteadyStateInvalid aborts an experiment whose steady state does not
// hold before any action runs.
var ErrSteadyStateInvalid = errors.New("steady state invalid, aborting experiment")

// Experiment states a hypothesis about the system and how to test it.
type Experiment struct {
	Name       string
	Hypothesis string
	// SteadyState must hold before Method runs and is sampled throughout.
	SteadyState []Metric
	// Probes are sampled only while observing.
	Probes     []Metric
	Method     []Action
	Rollback   []Action
	Validation []Assertion
	Duration   time.Duration
}

// Metric is a measurable property of the system.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Holds reports whether value satisfies the threshold. Unknown operators
// never hold.
func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

// Action is a step that stresses the system or undoes that stress.
type Action struct {
	Name    string
	Target  string
	Execute func(context.Context) error
}

// Assertion checks the last observation of a metric.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

// Result captures one experiment run.
type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []MetricViolation      `json:"violations"`
	FailedAssertions []string               `json:"failed_assertions,omitempty"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
}

type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine runs experiments and keeps their results.
type Engine struct {
	tracer         trace.Tracer
	logger         *slog.Logger
	sampleInterval time.Duration
	experiments    []Experiment
	results        []Result
	mu             sync.Mutex
}

type Option func(*Engine)

// WithSampleInterval sets how often metrics are sampled while observing.
func WithSampleInterval(interval time.Duration) Option {
	return func(e *Engine) {
		if interval > 0 {
			e.sampleInterval = interval
		}
	}
}

func NewEngine(logger *slog.Logger, options ...Option) *Engine {
	e := &Engine{
		tracer:         telemetry.Tracer("consistency"),
		logger:         logger.With("component", "consistency"),
		sampleInterval: time.Second,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes one experiment: steady state check, method, observation,
// rollback and validation. It returns ErrSteadyStateInvalid without running
// the method when the steady state does not hold.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "consistency.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
		ErrorEvents:    make([]ErrorEvent, 0),
	}

	span.AddEvent("validating_steady_state")
	if violations := e.checkSteadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		e.logger.WarnContext(ctx, "steady state does not hold", "experiment", exp.Name, "violations", len(violations))
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	span.AddEvent("running_method")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.recordError(action.Target, err)
			span.RecordError(err)
		}
	}

	span.AddEvent("observing")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			result.recordError(action.Target, err)
			span.RecordError(err)
		}
	}

	span.AddEvent("validating_assertions")
	result.FailedAssertions = validate(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0 && len(result.Violations) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

// RunAll runs every registered experiment in order, pausing between them.
// An experiment that cannot start is logged and skipped.
func (e *Engine) RunAll(ctx context.Context, pause time.Duration) []Result {
	experiments := e.Experiments()
	results := make([]Result, 0, len(experiments))

	for i, exp := range experiments {
		e.logger.InfoContext(ctx, "starting experiment",
			"index", i+1,
			"total", len(experiments),
			"experiment", exp.Name,
			"hypothesis", exp.Hypothesis,
		)

		result, err := e.Run(ctx, exp)
		if err != nil {
			e.logger.ErrorContext(ctx, "experiment failed", "experiment", exp.Name, "error", err)
			continue
		}
		e.report(ctx, result)
		results = append(results, *result)

		if i < len(experiments)-1 && pause > 0 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(pause):
			}
		}
	}
	return results
}

// observe samples steady state and probe metrics once immediately and then
// every sample interval until the experiment duration elapses.
func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	ticker := time.NewTicker(e.sampleInterval)
	defer ticker.Stop()

	for {
		e.sample(ctx, exp.SteadyState, result, true)
		e.sample(ctx, exp.Probes, result, false)

		select {
		case <-observationCtx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) sample(ctx context.Context, metrics []Metric, result *Result, enforce bool) {
	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			result.recordError(metric.Name, err)
			continue
		}
		now := time.Now()
		result.Observations[metric.Name] = append(result.Observations[metric.Name], DataPoint{Timestamp: now, Value: value})

		if enforce && !metric.Threshold.Holds(value) {
			result.Violations = append(result.Violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     value,
				Timestamp:  now,
			})
		}
	}
}

func (e *Engine) checkSteadyState(ctx context.Context, metrics []Metric) []MetricViolation {
	var violations []MetricViolation
	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			value = -1
		}
		if err != nil || !metric.Threshold.Holds(value) {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     value,
				Timestamp:  time.Now(),
			})
		}
	}
	return violations
}

func (e *Engine) report(ctx context.Context, result *Result) {
	level := slog.LevelInfo
	if !result.HypothesisHeld {
		level = slog.LevelError
	}
	e.logger.Log(ctx, level, "experiment finished",
		"experiment", result.ExperimentName,
		"hypothesis_held", result.HypothesisHeld,
		"violations", len(result.Violations),
		"failed_assertions", result.FailedAssertions,
		"errors", len(result.ErrorEvents),
		"duration", result.Duration,
	)
	for _, v := range result.Violations {
		e.logger.WarnContext(ctx, "metric violation", "metric", v.MetricName, "expected", v.Expected, "actual", v.Actual)
	}
}

// validate returns the message of every assertion whose metric's final
// observation fails its condition or was never observed.
func validate(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, assertion := range assertions {
		observations := result.Observations[assertion.Metric]
		if len(observations) == 0 {
			failed = append(failed, fmt.Sprintf("%s (no observations of %s)", assertion.Message, assertion.Metric))
			continue
		}
		if !assertion.Condition(observations[len(observations)-1].Value) {
			failed = append(failed, assertion.Message)
		}
	}
	return failed
}

func (r *Result) recordError(component string, err error) {
	r.ErrorEvents = append(r.ErrorEvents, ErrorEvent{
		Timestamp: time.Now(),
		Error:     err.Error(),
		Component: component,
	})
}

// internal/store/postgres/postgres.go
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // driver registration
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"libraryapi/internal/apperror"
	"libraryapi/internal/library"
	"libraryapi/internal/telemetry"
)

const dialectPostgres = "postgres"

//go:embed schema.sql
var schema string

// Store implements library.UnitOfWork on PostgreSQL. Every transaction runs
// at SERIALIZABLE isolation and is retried with exponential backoff when
// Postgres aborts it for a concurrent write.
type Store struct {
	db      *sqlx.DB
	builder goqu.DialectWrapper
	retry   retryConfig
	now     func() time.Time
	logger  *slog.Logger
	tracer  trace.Tracer
	retries metric.Int64Counter
}

// Option configures a Store.
type Option func(*Store) error

// WithMaxAttempts bounds how often a conflicting transaction is re-run.
func WithMaxAttempts(attempts int) Option {
	return func(s *Store) error {
		if attempts <= 0 {
			return fmt.Errorf("max attempts must be positive, got %d", attempts)
		}
		s.retry.maxAttempts = attempts
		return nil
	}
}

// WithBaseDelay sets the first backoff delay; later delays double it.
func WithBaseDelay(delay time.Duration) Option {
	return func(s *Store) error {
		if delay < 0 {
			return fmt.Errorf("base delay must not be negative, got %s", delay)
		}
		s.retry.baseDelay = delay
		return nil
	}
}

// WithLogger sets the logger used for retry and migration messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// WithClock overrides the clock used for created-at defaults.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		s.now = now
		return nil
	}
}

// Open connects to the database at dsn and verifies the connection.
func Open(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s, err := New(db, options...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB, options ...Option) (*Store, error) {
	s := &Store{
		db:      db,
		builder: goqu.Dialect(dialectPostgres),
		retry: retryConfig{
			maxAttempts:  defaultMaxAttempts,
			baseDelay:    defaultBaseDelay,
			jitterFactor: defaultJitterFactor,
		},
		now:     time.Now,
		logger:  slog.Default(),
		tracer:  telemetry.Tracer("store"),
		retries: telemetry.Counter("store", "library.tx.retries", "Transactions re-run after a concurrent write"),
	}
	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "postgres")
	return s, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.InfoContext(ctx, "schema applied")
	return nil
}

// Ping checks the connection, for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithinTx implements library.UnitOfWork. fn may run more than once and must
// not keep state from an aborted attempt.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, store library.Store) error) error {
	ctx, span := s.tracer.Start(ctx, "store.tx")
	defer span.End()

	attempts := 1
	onRetry := func(attempt int, err error) {
		attempts = attempt + 1
		s.retries.Add(ctx, 1)
		s.logger.DebugContext(ctx, "retrying transaction after conflict", "attempt", attempt, "error", err)
	}

	err := retryWithBackoff(ctx, s.retry, onRetry, func(ctx context.Context) error {
		return s.runTx(ctx, fn)
	})
	span.SetAttributes(attribute.Int("tx.attempts", attempts))
	if err == nil {
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "transaction failed")
	if isSerializationFailure(err) {
		s.logger.WarnContext(ctx, "transaction conflict persisted after retries", "attempts", attempts, "error", err)
		return apperror.Conflict(err, "the request conflicted with a concurrent update, please retry")
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, store library.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &txStore{tx: tx, builder: s.builder, now: s.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return translate(err, "commit")
	}
	return nil
}

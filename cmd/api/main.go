// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"libraryapi/internal/catalog"
	"libraryapi/internal/circulation"
	"libraryapi/internal/config"
	"libraryapi/internal/httpapi"
	"libraryapi/internal/library"
	"libraryapi/internal/membership"
	"libraryapi/internal/penalty"
	"libraryapi/internal/store/memory"
	"libraryapi/internal/store/postgres"
	"libraryapi/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("library api stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Insecure:     cfg.OTLPInsecure,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	uow, ping, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	classifier, err := penalty.NewThresholdClassifier(cfg.PenaltyTiers)
	if err != nil {
		return fmt.Errorf("penalty tiers: %w", err)
	}
	calculator := penalty.NewCalculator(cfg.PenaltyDailyFee, classifier, logger)

	router := httpapi.NewRouter(httpapi.Services{
		Circulation: circulation.NewService(uow, calculator, logger, circulation.WithMaxLoanDays(cfg.MaxLoanDays)),
		Penalty:     penalty.NewService(uow),
		Catalog:     catalog.NewService(uow, cfg.ShelfCapacity, logger),
		Membership:  membership.NewService(uow, logger),
	}, httpapi.Options{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Ping:           ping,
	}, logger)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("library api listening", "port", cfg.Port, "store", cfg.StoreDriver)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openStore builds the configured store. The postgres store is migrated
// before use; the memory store has no health check.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (library.UnitOfWork, func(context.Context) error, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("using the in-memory store, data is lost on restart")
		return memory.New(), nil, func() {}, nil
	}

	store, err := postgres.Open(ctx, cfg.DatabaseURL,
		postgres.WithMaxAttempts(cfg.TxMaxAttempts),
		postgres.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open postgres store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}

	closeStore := func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}
	return store, store.Ping, closeStore, nil
}

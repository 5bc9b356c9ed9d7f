// cmd/consistency/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"libraryapi/internal/catalog"
	"libraryapi/internal/circulation"
	"libraryapi/internal/clients"
	"libraryapi/internal/config"
	"libraryapi/internal/consistency"
	"libraryapi/internal/library"
	"libraryapi/internal/membership"
	"libraryapi/internal/penalty"
	"libraryapi/internal/store/memory"
	"libraryapi/internal/store/postgres"
)

func main() {
	apiURL := flag.String("api-url", "", "drive loans through a running API at this URL instead of in process")
	concurrency := flag.Int("concurrency", 50, "simultaneous callers per experiment")
	duration := flag.Duration("duration", 5*time.Second, "observation window per experiment")
	pause := flag.Duration("pause", 2*time.Second, "pause between experiments")
	flag.Parse()

	if err := run(*apiURL, *concurrency, *duration, *pause); err != nil {
		slog.Error("consistency probe failed", "error", err)
		os.Exit(1)
	}
}

func run(apiURL string, concurrency int, duration, pause time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var uow library.UnitOfWork
	if cfg.StoreDriver == config.DriverMemory {
		if apiURL != "" {
			return fmt.Errorf("-api-url needs the postgres store shared with the API")
		}
		uow = memory.New()
	} else {
		store, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.WithMaxAttempts(cfg.TxMaxAttempts), postgres.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		uow = store
	}

	var loans consistency.Loans
	if apiURL != "" {
		loans = clients.NewLibraryClient(apiURL, nil)
	} else {
		classifier, err := penalty.NewThresholdClassifier(cfg.PenaltyTiers)
		if err != nil {
			return err
		}
		loans = circulation.NewService(uow, penalty.NewCalculator(cfg.PenaltyDailyFee, classifier, logger), logger,
			circulation.WithMaxLoanDays(cfg.MaxLoanDays))
	}

	books := catalog.NewService(uow, cfg.ShelfCapacity, logger)
	people := membership.NewService(uow, logger)

	engine := consistency.NewEngine(logger)
	for _, build := range []func(library.UnitOfWork, consistency.Loans, consistency.Target, int, time.Duration) consistency.Experiment{
		consistency.ConcurrentLoanExperiment,
		consistency.ConcurrentReturnExperiment,
	} {
		target, err := consistency.SeedTarget(ctx, books, people)
		if err != nil {
			return err
		}
		engine.Register(build(uow, loans, target, concurrency, duration))
	}

	results := engine.RunAll(ctx, pause)
	failed := len(engine.Experiments()) - len(results)
	for _, result := range results {
		if !result.HypothesisHeld {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d experiments did not hold", failed, len(engine.Experiments()))
	}

	logger.Info("all experiments held", "experiments", len(results))
	return nil
}

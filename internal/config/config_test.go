package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryapi/internal/library"
	"libraryapi/internal/penalty"
)

var keys = []string{
	"PORT", "SHUTDOWN_TIMEOUT", "STORE_DRIVER", "DATABASE_URL", "TX_MAX_ATTEMPTS",
	"PENALTY_DAILY_FEE", "PENALTY_TIERS", "MAX_LOAN_DAYS", "SHELF_CAPACITY",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "OTEL_EXPORTER_OTLP_ENDPOINT",
	"OTEL_EXPORTER_OTLP_INSECURE", "OTEL_SERVICE_NAME", "LOG_LEVEL",
}

// clearEnv unsets every configuration variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			t.Setenv(key, value)
			require.NoError(t, os.Unsetenv(key))
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 6, cfg.TxMaxAttempts)
	assert.Equal(t, 60, cfg.MaxLoanDays)
	assert.Equal(t, 50, cfg.ShelfCapacity)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.True(t, penalty.DefaultDailyFee.Equal(cfg.PenaltyDailyFee))
	assert.Equal(t, penalty.DefaultTiers(), cfg.PenaltyTiers)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Empty(t, cfg.OTLPEndpoint)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("PENALTY_DAILY_FEE", "1.25")
	t.Setenv("PENALTY_TIERS", "1:Minor,15:Severe")
	t.Setenv("MAX_LOAN_DAYS", "30")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.True(t, decimal.RequireFromString("1.25").Equal(cfg.PenaltyDailyFee))
	assert.Equal(t, []penalty.Tier{{MinDays: 1, Type: library.PenaltyMinor}, {MinDays: 15, Type: library.PenaltySevere}}, cfg.PenaltyTiers)
	assert.Equal(t, 30, cfg.MaxLoanDays)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 1e-9)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestLoadReportsEveryInvalidVariable(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("MAX_LOAN_DAYS", "zero")
	t.Setenv("PENALTY_DAILY_FEE", "-1")
	t.Setenv("PENALTY_TIERS", "1:Minor,oops")
	t.Setenv("LOG_LEVEL", "loud")

	_, err := Load()
	require.Error(t, err)
	for _, key := range []string{"STORE_DRIVER", "MAX_LOAN_DAYS", "PENALTY_DAILY_FEE", "PENALTY_TIERS", "LOG_LEVEL"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoadPenaltyDailyFeeScale(t *testing.T) {
	tests := []struct {
		fee     string
		wantErr bool
	}{
		{"0.5", false},
		{"0.25", false},
		{"1.250", false},
		{"3", false},
		{"0.125", true},
		{"0.001", true},
		{"0", true},
	}
	for _, tt := range tests {
		t.Run(tt.fee, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("PENALTY_DAILY_FEE", tt.fee)

			cfg, err := Load()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "PENALTY_DAILY_FEE")
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.fee).Equal(cfg.PenaltyDailyFee))
		})
	}
}

// Command seed provisions the store schema and creates a demo account.
// Useful for local development and smoke tests against a fresh database.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/example/txledger/internal/config"
	"github.com/example/txledger/internal/store"
	"github.com/example/txledger/internal/store/postgres"
	"github.com/example/txledger/internal/store/sqlite"
)

func main() {
	userID := flag.String("user", "1234", "user ID of the account to create")
	balance := flag.String("balance", "10.00", "opening balance in major units")
	flag.Parse()

	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	amount, err := decimal.NewFromString(*balance)
	if err != nil || amount.Sign() < 0 || !amount.Shift(2).IsInteger() {
		logger.Error("balance must be a non-negative amount with at most two decimal places", "balance", *balance)
		os.Exit(1)
	}
	minor := amount.Shift(2).IntPart()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := st.PutAccount(ctx, store.Account{UserID: *userID, Balance: minor}); err != nil {
		logger.Error("failed to seed account", "user_id", *userID, "error", err)
		os.Exit(1)
	}

	logger.Info("account seeded", "user_id", *userID, "balance", amount.StringFixed(2), "backend", cfg.StoreBackend)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Provision(ctx); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil

	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st := postgres.NewLedgerStore(pool)
		if err := st.Provision(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil
	}
}

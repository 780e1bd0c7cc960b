package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/example/txledger/internal/api"
	"github.com/example/txledger/internal/config"
	"github.com/example/txledger/internal/events/kafka"
	"github.com/example/txledger/internal/ledger"
	"github.com/example/txledger/internal/security"
	"github.com/example/txledger/internal/store"
	"github.com/example/txledger/internal/store/memory"
	"github.com/example/txledger/internal/store/postgres"
	"github.com/example/txledger/internal/store/sqlite"
	"github.com/example/txledger/pkg/audit"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	st, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer cleanup()

	allowlist, err := security.ParseCIDRAllowlist(cfg.IPAllowlist)
	if err != nil {
		logger.Error("invalid IP_ALLOWLIST", "error", err)
		os.Exit(1)
	}

	var rateLimiter *security.RedisTokenBucket
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		rateLimiter = &security.RedisTokenBucket{
			Redis:      redisClient,
			Prefix:     "ledger_api",
			Capacity:   cfg.RateLimitCapacity,
			RefillRate: cfg.RateLimitRefillPerSec,
		}
	}

	var engineOpts []ledger.Option
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		engineOpts = append(engineOpts, ledger.WithPublisher(publisher))
	}

	engine := ledger.NewEngine(st, logger, engineOpts...)

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Ledger:       engine,
		Auditor:      audit.NewChainLogger(),
		RateLimiter:  rateLimiter,
		IPAllowlist:  allowlist,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.TLSEnabled() {
		tlsCfg, err := security.LoadServerTLSConfig(security.TLSConfig{
			CertFile:          cfg.TLSCertFile,
			KeyFile:           cfg.TLSKeyFile,
			CAFile:            cfg.TLSCAFile,
			RequireClientAuth: cfg.TLSCAFile != "",
		})
		if err != nil {
			logger.Error("failed to load TLS config", "error", err)
			os.Exit(1)
		}
		srv.TLSConfig = tlsCfg
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("ledger service listening", "addr", cfg.Addr, "backend", cfg.StoreBackend, "tls", cfg.TLSEnabled())

	if cfg.TLSEnabled() {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// openStore builds the configured store backend and provisions its schema.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st := postgres.NewLedgerStore(pool)
		if err := provisionWithBackoff(ctx, st.Provision, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil

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
		return memory.NewLedgerStore(), func() {}, nil
	}
}

// provisionWithBackoff retries schema provisioning while the database comes
// up. Bounded: bootstrap either succeeds within the window or the process
// exits, so readiness waiting never leaks into the ledger core.
func provisionWithBackoff(ctx context.Context, provision func(context.Context) error, logger *slog.Logger) error {
	const maxAttempts = 10

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = provision(ctx); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		delay := time.Duration(attempt) * 500 * time.Millisecond
		logger.Warn("store provisioning failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Package api exposes the ledger engine over HTTP: request validation,
// result-to-status mapping and the hardening middleware chain. All ledger
// semantics live in internal/ledger; this layer only translates.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/txledger/internal/ledger"
	"github.com/example/txledger/internal/security"
	"github.com/example/txledger/internal/store"
	"github.com/example/txledger/pkg/audit"
)

// Auditor appends request summaries to the tamper-evident audit chain.
type Auditor interface {
	Append(payload string) *audit.LogEntry
}

// Ledger is the slice of the engine the API consumes.
type Ledger interface {
	Transact(ctx context.Context, userID string, amount int64, kind ledger.Kind, idempotencyKey string) (*ledger.Result, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
	GetRecord(ctx context.Context, idempotencyKey string) (store.Record, error)
}

// Dependencies wires the router. Ledger is required; everything else
// degrades to a no-op when absent.
type Dependencies struct {
	Logger       *slog.Logger
	Ledger       Ledger
	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	IPAllowlist  []*net.IPNet
	MaxBodyBytes int64
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	transactV, err := security.NewJSONSchemaValidator(transactSchema)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, rateLimitKeyByIP))
	}
	if deps.Auditor != nil {
		r.Use(AuditMiddleware(deps.Auditor))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/balance", handleGetBalance(deps))
			r.With(transactV.Middleware).Post("/transact", handleTransact(deps))
		})
		r.Get("/transactions/{idempotencyKey}", handleGetTransaction(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}

func rateLimitKeyByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	return "ip:" + host
}

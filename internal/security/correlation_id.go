// Package security holds the HTTP hardening middleware shared by the ledger
// API: correlation IDs, request validation, rate limiting, body limits, IP
// allowlisting and TLS loading.
package security

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationIDHeader carries the request correlation ID in and out.
const CorrelationIDHeader = "X-Correlation-ID"

type correlationIDKey struct{}

// CorrelationID attaches a correlation ID to every request, minting one when
// the caller did not supply it, and echoes it on the response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationIDHeader)
		if cid == "" {
			cid = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), correlationIDKey{}, cid)
		w.Header().Set(CorrelationIDHeader, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationIDFromContext returns the request's correlation ID, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return s
	}
	return ""
}

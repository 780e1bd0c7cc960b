package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/txledger/internal/security"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestLogger emits one structured line per request.
func RequestLogger(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil {
				next.ServeHTTP(w, r)
				return
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)

			l.Info("http_request",
				"cid", security.CorrelationIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// AuditMiddleware appends a summary of every request to the audit chain.
func AuditMiddleware(a Auditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			start := time.Now()
			next.ServeHTTP(sw, r)

			cid := security.CorrelationIDFromContext(r.Context())
			a.Append(fmt.Sprintf("cid=%s method=%s path=%s status=%d dur_ms=%d",
				cid, r.Method, r.URL.Path, sw.status, time.Since(start).Milliseconds()))
		})
	}
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/franga/engine/ledger"
)

// OwnerHeader carries the authenticated owner id.
const OwnerHeader = "X-Owner-ID"

type contextKey string

const (
	loggerKey = contextKey("logger")
	ownerKey  = contextKey("owner")
)

// RequestLogger injects a request-scoped logger and logs completion.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := uuid.NewString()

			log := base.With(
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("X-Request-ID", requestID)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), loggerKey, log)))

			log.Info("request completed",
				slog.Int("status", ww.Status()),
				slog.Duration("latency", time.Since(start)),
			)
		})
	}
}

// LoggerFromContext returns the request-scoped logger, or fallback.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if log, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return log
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// RequireOwner rejects requests without an owner header with 401.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+OwnerHeader+" header", nil)
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey, ledger.OwnerID(owner))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OwnerFromContext returns the owner set by RequireOwner.
func OwnerFromContext(ctx context.Context) ledger.OwnerID {
	owner, _ := ctx.Value(ownerKey).(ledger.OwnerID)
	return owner
}

// RegisterOwners records each owner passing RequireOwner with reg, so the
// background runner knows about owners without entries. Each owner is
// written once per process; a failed write is logged and retried on the
// next request.
func RegisterOwners(reg ledger.OwnerRegistrar, logger *slog.Logger) func(http.Handler) http.Handler {
	var seen sync.Map
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := OwnerFromContext(r.Context())
			if _, ok := seen.Load(owner); !ok {
				if err := reg.RegisterOwner(r.Context(), owner); err != nil {
					LoggerFromContext(r.Context(), logger).Warn("owner registration failed",
						slog.String("owner", string(owner)),
						slog.String("error", err.Error()),
					)
				} else {
					seen.Store(owner, struct{}{})
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

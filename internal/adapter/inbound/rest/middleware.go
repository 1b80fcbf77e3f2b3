package rest

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/groupgate/groupgate/internal/auth"
	"github.com/groupgate/groupgate/internal/ctxkey"
)

// PrincipalHeader carries the authenticated user's email, set by the
// identity-aware proxy fronting the service. The value may carry an
// "accounts.google.com:" style issuer prefix.
const PrincipalHeader = "X-Authenticated-User-Email"

type principalContextKey struct{}

// LoggerKey is the context key for the enriched logger. Uses the shared
// key type from ctxkey to allow cross-package access without import
// cycles.
var LoggerKey = ctxkey.LoggerKey{}

// TraceIDKey is the context key for the trace ID.
var TraceIDKey = ctxkey.TraceIDKey{}

// TraceMiddleware assigns each request a trace ID and stores a logger
// enriched with it in the context. An inbound X-Trace-Id is honored so
// proxies can correlate.
func TraceMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("X-Trace-Id")
			if traceID == "" {
				traceID = uuid.New().String()
			}

			enriched := logger.With(
				slog.String("trace_id", traceID),
				slog.String("request_method", r.Method),
				slog.String("request_path", r.URL.Path))

			ctx := context.WithValue(r.Context(), TraceIDKey, traceID)
			ctx = context.WithValue(ctx, LoggerKey, enriched)

			w.Header().Set("X-Trace-Id", traceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalMiddleware requires an authenticated user email on every
// request and stores it in the context. Requests without a principal
// are rejected; the service never serves anonymous traffic.
func PrincipalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value := r.Header.Get(PrincipalHeader)
		if _, email, ok := strings.Cut(value, ":"); ok {
			value = email
		}
		if value == "" || !strings.Contains(value, "@") {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		user := auth.NewUserID(value)
		logger := LoggerFromContext(r.Context()).With(slog.String("user_id", string(user)))

		ctx := context.WithValue(r.Context(), principalContextKey{}, user)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalFromContext returns the authenticated user of the request.
func PrincipalFromContext(ctx context.Context) (auth.UserID, bool) {
	user, ok := ctx.Value(principalContextKey{}).(auth.UserID)
	return user, ok
}

// LoggerFromContext retrieves the enriched logger from the context,
// falling back to slog.Default().
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

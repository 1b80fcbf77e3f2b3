// Package ctxkey defines shared context key types used across multiple
// packages. It must not depend on other internal packages to avoid
// import cycles.
package ctxkey

// LoggerKey is the context key type for the request-enriched logger.
// Used by HTTP middleware to store and retrieve the logger with
// trace_id and user_id fields.
type LoggerKey struct{}

// TraceIDKey is the context key type for the request trace ID.
type TraceIDKey struct{}

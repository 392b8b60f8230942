package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

type requestCtxKey struct{}
type caseCtxKey struct{}
type channelCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if id := CaseIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("case.id", id))
	}
	if ch := ChannelFromContext(ctx); ch != "" {
		fields = append(fields, zap.String("channel", ch))
	}
	return fields
}

// validID guards log output against injected newlines and oversized values.
// Identifiers come from callers, so bad ones are dropped rather than logged.
func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}

// WithRequestID adds a request ID to ctx. Invalid IDs are ignored.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestCtxKey{}).(string)
	return s
}

// WithCaseID adds a case ID to ctx. Invalid IDs are ignored.
func WithCaseID(ctx context.Context, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, caseCtxKey{}, id)
}

// CaseIDFromContext returns the case ID, or "".
func CaseIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(caseCtxKey{}).(string)
	return s
}

// WithChannel adds the inbound channel name to ctx.
func WithChannel(ctx context.Context, channel string) context.Context {
	if !validID(channel) {
		return ctx
	}
	return context.WithValue(ctx, channelCtxKey{}, channel)
}

// ChannelFromContext returns the channel, or "".
func ChannelFromContext(ctx context.Context) string {
	s, _ := ctx.Value(channelCtxKey{}).(string)
	return s
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}

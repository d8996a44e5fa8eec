package logger

import (
	"context"

	"go.uber.org/zap"
)

// requestKey holds the logger scoped to one API request.
type requestKey struct{}

// WithLogger returns a context whose request logger is l.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, requestKey{}, l)
}

// With narrows the request logger of ctx with fields, so later log lines of
// the same request carry them.
func With(ctx context.Context, fields ...zap.Field) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(fields...))
}

// FromContext returns the request logger, or a no-op logger outside a request.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(requestKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

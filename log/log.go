package log

import (
	"context"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
)

// NewHandler returns a slog handler with the given prefix. Verbose
// drops the level to debug.
func NewHandler(prefix string, verbose bool) slog.Handler {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          prefix,
		Level:           level,
	})
}

func New(prefix string) *slog.Logger {
	return slog.New(NewHandler(prefix, false))
}

func NewContext(ctx context.Context, prefix string) context.Context {
	return IntoContext(ctx, New(prefix))
}

type ctxKey struct{}

// IntoContext adds a logger to a context. Use FromContext to
// pull the logger out.
func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or the default slog
// logger if there is none.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if v := ctx.Value(ctxKey{}); v != nil {
			return v.(*slog.Logger)
		}
	}
	return slog.Default()
}

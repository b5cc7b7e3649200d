package observability

import (
	"io"
	"log/slog"
	"math"
)

// noopLogger discards every record, its level is above any real level.
var noopLogger = slog.New(
	slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}),
)

// NoopLogger returns a disabled Logger.
// It is used by components that must stay silent, eg the responder CLI without -v.
func NoopLogger() *slog.Logger {
	return noopLogger
}

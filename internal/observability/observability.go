// Package observability carries the session Logger in a context.Context.
package observability

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey string

const (
	observabilityKey = contextKey("OBSERVABILITY")
)

// Observability is attached to the Context of a served session.
// nil *Observability are safe to use.
type Observability struct {
	Logger *slog.Logger

	// SessionId is the uuid.Nil outside of a session.
	SessionId uuid.UUID
}

// Log returns inner Logger or slog.Default().
func (self *Observability) Log() *slog.Logger {
	if (nil == self) || (nil == self.Logger) {
		return slog.Default()
	}

	return self.Logger
}

// GetObservability returns ctx Observability, nil if there is none.
func GetObservability(ctx context.Context) *Observability {
	rv, _ := ctx.Value(observabilityKey).(*Observability)
	return rv
}

// SetObservability returns a new Context containing obs.
func SetObservability(ctx context.Context, obs *Observability) context.Context {
	return context.WithValue(ctx, observabilityKey, obs)
}

// Logger returns the Logger of ctx Observability or slog.Default().
func Logger(ctx context.Context) *slog.Logger {
	return GetObservability(ctx).Log()
}

// WithSession returns a Context whose Logger tags every record with the session id
// and the peer address.
func WithSession(ctx context.Context, sId uuid.UUID, peer string) context.Context {
	log := Logger(ctx).With("sId", sId.String(), "peer", peer)
	return SetObservability(ctx, &Observability{Logger: log, SessionId: sId})
}

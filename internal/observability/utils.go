package observability

import (
	"log/slog"
	"testing"
)

// SetTestDebugLogging lowers slog Default level to DEBUG until t completes.
func SetTestDebugLogging(t *testing.T) {
	prev := slog.SetLogLoggerLevel(slog.LevelDebug)
	if prev == slog.LevelDebug {
		return
	}
	t.Logf("slog level set to %s", slog.LevelDebug)
	t.Cleanup(func() {
		slog.SetLogLoggerLevel(prev)
	})
}

package capture

import (
	"log/slog"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[slog.Logger]

// SetLogger sets the logger used to report degraded captures. A nil logger
// restores slog.Default().
func SetLogger(l *slog.Logger) {
	defaultLogger.Store(l)
}

func logger() *slog.Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

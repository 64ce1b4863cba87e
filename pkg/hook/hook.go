// Package hook dumps errors that end a program: unhandled panics caught by
// Guard and fatal errors passed to Report.
package hook

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/willibrandon/tbdump/pkg/capture"
	"github.com/willibrandon/tbdump/pkg/dump"
)

var (
	mu           sync.Mutex
	globalStore  dump.Store
	globalOpts   []capture.Option
	reportedDump atomic.Pointer[capture.Dump]
)

// Install directs dumps to s. It reports false, changing nothing, when a
// store is already installed.
func Install(s dump.Store, opts ...capture.Option) bool {
	mu.Lock()
	defer mu.Unlock()
	if globalStore != nil {
		logger().Debug("hook already installed")
		return false
	}
	globalStore = s
	globalOpts = opts
	return true
}

// Uninstall removes the installed store
func Uninstall() {
	mu.Lock()
	defer mu.Unlock()
	globalStore = nil
	globalOpts = nil
}

// Installed reports whether a store is installed
func Installed() bool {
	mu.Lock()
	defer mu.Unlock()
	return globalStore != nil
}

// Last returns the most recent dump taken by Guard or Report
func Last() *capture.Dump {
	return reportedDump.Load()
}

// Guard dumps a panic in flight and then lets it continue. It must be
// deferred directly:
//
//	func main() {
//		defer hook.Guard()
//		...
//	}
func Guard() {
	r := recover()
	if r == nil {
		return
	}
	err := capture.FromPanic(r)
	save(capture.Capture(err, withOpts(capture.FullStack())...))
	panic(r)
}

// Go runs fn on a new goroutine guarded by Guard
func Go(fn func()) {
	go func() {
		defer Guard()
		fn()
	}()
}

// Report dumps err, with frames from the caller down, and returns the dump.
// Nothing is saved when no store is installed.
func Report(err error) *capture.Dump {
	if err == nil {
		return nil
	}
	d := capture.Capture(err, withOpts(capture.CallerSkip(1))...)
	save(d)
	return d
}

func withOpts(extra ...capture.Option) []capture.Option {
	mu.Lock()
	defer mu.Unlock()
	opts := make([]capture.Option, 0, len(globalOpts)+len(extra))
	opts = append(opts, globalOpts...)
	return append(opts, extra...)
}

func save(d *capture.Dump) {
	if d == nil {
		return
	}
	reportedDump.Store(d)

	mu.Lock()
	s := globalStore
	mu.Unlock()
	if s == nil {
		return
	}

	if err := s.Save(d); err != nil {
		logger().Error("saving dump failed", "id", d.ID, "error", err)
		return
	}
	logger().Error("error dumped", "id", d.ID, "error", fmt.Sprint(d.Last()))
}

var defaultLogger atomic.Pointer[slog.Logger]

// SetLogger sets the logger for dump reports
func SetLogger(l *slog.Logger) { defaultLogger.Store(l) }

func logger() *slog.Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

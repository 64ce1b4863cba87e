package dummy

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/willibrandon/tbdump/pkg/registry"
)

// Factory scopes the placeholder override. Scopes are reference counted:
// the override is installed by the first Enter and removed, together with
// every stub it handed out, when the last scope is released.
//
// While any scope is open, imports from every goroutine see placeholders.
type Factory struct {
	mu     sync.Mutex
	refs   int
	cache  *stubCache
	remove func()
}

// NewFactory returns an inactive factory
func NewFactory() *Factory {
	return &Factory{}
}

// Enter opens a scope. The returned release function closes it and is
// safe to call more than once.
func (f *Factory) Enter() (release func()) {
	f.mu.Lock()
	f.refs++
	if f.refs == 1 {
		f.cache = newStubCache()
		f.remove = registry.AddFinder(f.cache)
		logger().Debug("dummy module factory activated")
	}
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(f.leave)
	}
}

func (f *Factory) leave() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs--
	if f.refs > 0 {
		return
	}
	f.remove()
	f.remove = nil
	f.cache = nil
	logger().Debug("dummy module factory deactivated")
}

// Do runs fn inside a scope, releasing it on every path out of fn
func (f *Factory) Do(fn func() error) error {
	release := f.Enter()
	defer release()
	return fn()
}

// Active reports whether a scope is open
func (f *Factory) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs > 0
}

var std = NewFactory()

// Enter opens a scope on the process-wide factory
func Enter() (release func()) { return std.Enter() }

// Do runs fn inside a scope of the process-wide factory
func Do(fn func() error) error { return std.Do(fn) }

// Active reports whether the process-wide factory has a scope open
func Active() bool { return std.Active() }

var defaultLogger atomic.Pointer[slog.Logger]

// SetLogger sets the logger for scope activation messages
func SetLogger(l *slog.Logger) { defaultLogger.Store(l) }

func logger() *slog.Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

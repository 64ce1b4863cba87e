package capture

import (
	"fmt"
	"io"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/willibrandon/tbdump/pkg/registry"
)

// maxStackDepth bounds recorded stacks; a stack this deep is treated as truncated
const maxStackDepth = 128

var (
	errorType      = reflect.TypeOf((*Error)(nil)).Elem()
	runtimeErrType = reflect.TypeOf((*runtime.Error)(nil)).Elem()
	errorRef       = registry.RefOf(errorType)
	runtimeErrRef  = registry.RefOf(runtimeErrType)
)

func init() {
	registry.RegisterType(errorType)
}

// Locals maps variable names to their live values
type Locals map[string]any

// Error is an error raised together with the stack it was raised on. Its
// cause, if any, is the error it was explicitly raised from.
type Error struct {
	msg       string
	cause     error
	value     any
	class     registry.TypeRef
	classType reflect.Type
	panicked  bool
	stack     []uintptr
	truncated bool

	mu       sync.Mutex
	bindings []binding
}

// New raises an error with the given message
func New(msg string) *Error {
	return newError(msg, nil, 1)
}

// Errorf raises an error with a formatted message
func Errorf(format string, args ...any) *Error {
	return newError(fmt.Sprintf(format, args...), nil, 1)
}

// Wrap raises an error with the given message from cause
func Wrap(cause error, msg string) *Error {
	return newError(msg, cause, 1)
}

// Wrapf raises an error with a formatted message from cause
func Wrapf(cause error, format string, args ...any) *Error {
	return newError(fmt.Sprintf(format, args...), cause, 1)
}

// Raise attaches the current stack to an existing error. The result keeps
// err's class and message, and the chain continues with err's own cause.
func Raise(err error) *Error {
	if err == nil {
		return nil
	}
	e := newError(ownMessage(err, next(err)), nil, 1)
	e.value = err
	e.class = registry.RefOf(reflect.TypeOf(err))
	e.classType = reflect.TypeOf(err)
	return e
}

// FromPanic converts a recovered panic value into an error whose stack
// starts at the frame that panicked. Values that already are *Error are
// returned unchanged.
func FromPanic(v any) *Error {
	return fromPanic(v, 1)
}

func newError(msg string, cause error, skip int) *Error {
	stack, truncated := callers(skip + 1)
	return &Error{
		msg:       msg,
		cause:     cause,
		class:     errorRef,
		classType: errorType,
		stack:     stack,
		truncated: truncated,
	}
}

func fromPanic(v any, skip int) *Error {
	if e, ok := v.(*Error); ok && e != nil {
		return e
	}
	stack, truncated := callers(skip + 1)
	stack = panickingStack(stack)

	e := &Error{
		value:     v,
		panicked:  true,
		stack:     stack,
		truncated: truncated,
	}
	switch x := v.(type) {
	case runtime.Error:
		e.msg = safeError(x)
		e.class = runtimeErrRef
		e.classType = runtimeErrType
	case error:
		e.msg = safeError(x)
		e.class = registry.RefOf(reflect.TypeOf(x))
		e.classType = reflect.TypeOf(x)
	default:
		e.msg = fmt.Sprint(v)
		e.class = registry.RefOf(reflect.TypeOf(v))
		e.classType = reflect.TypeOf(v)
	}
	return e
}

// panickingStack drops everything up to runtime.gopanic and the runtime
// frames that raised the panic, leaving the frame that panicked first
func panickingStack(stack []uintptr) []uintptr {
	for i, pc := range stack {
		if funcName(pc) != "runtime.gopanic" {
			continue
		}
		rest := stack[i+1:]
		for len(rest) > 0 && strings.HasPrefix(funcName(rest[0]), "runtime.") {
			rest = rest[1:]
		}
		return rest
	}
	return stack
}

func funcName(pc uintptr) string {
	fn := runtime.FuncForPC(pc - 1)
	if fn == nil {
		return ""
	}
	return fn.Name()
}

// callers returns the stack starting at the function that called callers,
// skipping skip more frames
func callers(skip int) ([]uintptr, bool) {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+2, pcs)
	return pcs[:n], n == maxStackDepth
}

func (e *Error) Error() string {
	if e.cause == nil {
		if err, ok := e.value.(error); ok {
			return safeError(err)
		}
		return e.msg
	}
	if e.msg == "" {
		return safeError(e.cause)
	}
	return e.msg + ": " + safeError(e.cause)
}

// Message returns the error's own message, without its cause
func (e *Error) Message() string { return e.msg }

// Class returns the symbolic class of the error
func (e *Error) Class() registry.TypeRef { return e.class }

// Panicked reports whether the error was recovered from a panic
func (e *Error) Panicked() bool { return e.panicked }

// Value returns the recovered panic value or the error passed to Raise
func (e *Error) Value() any { return e.value }

// CaptureProxy stands in for the error when it is captured as a local
// variable, leaving out its stack and bound locals
func (e *Error) CaptureProxy() any {
	return struct {
		Message  string
		Class    string
		Panicked bool
	}{e.msg, e.class.String(), e.panicked}
}

// Cause returns the error this one was explicitly raised from
func (e *Error) Cause() error {
	if e.cause != nil {
		return e.cause
	}
	if err, ok := e.value.(error); ok {
		return next(err)
	}
	return nil
}

// Unwrap exposes the cause, or the raised value, to errors.Is and errors.As
func (e *Error) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	if err, ok := e.value.(error); ok {
		return err
	}
	return nil
}

// StackTrace returns the raise stack in github.com/pkg/errors form
func (e *Error) StackTrace() errors.StackTrace {
	st := make(errors.StackTrace, len(e.stack))
	for i, pc := range e.stack {
		st[i] = errors.Frame(pc)
	}
	return st
}

// Format supports %s, %q, %v and %+v, the last including the stack
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			if e.cause != nil {
				fmt.Fprintf(s, "%+v\n", e.cause)
			}
			io.WriteString(s, e.msg)
			e.StackTrace().Format(s, verb)
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

func (e *Error) bind(b binding) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bindings = append(e.bindings, b)
}

// localsFor merges the bindings recorded for the frame of function at depth
func (e *Error) localsFor(function string, depth int) map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out map[string]any
	for _, b := range e.bindings {
		if b.function != function {
			continue
		}
		if depth > 0 && b.depth > 0 && b.depth != depth {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(b.locals))
		}
		for k, v := range b.locals {
			out[k] = v
		}
	}
	return out
}

// safeError renders err without letting a panicking Error method escape
func safeError(err error) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("<error rendering %T: %v>", err, r)
		}
	}()
	return err.Error()
}

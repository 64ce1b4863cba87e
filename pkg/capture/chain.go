package capture

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// DefaultMaxChain bounds how many errors a chain walk visits
const DefaultMaxChain = 100

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// next returns the error err was raised from. An explicit cause wins over
// the implicit Unwrap link; for joined errors the first one is followed.
func next(err error) (cause error) {
	defer func() {
		if recover() != nil {
			cause = nil
		}
	}()
	switch e := err.(type) {
	case interface{ Cause() error }:
		return e.Cause()
	case interface{ Unwrap() error }:
		return e.Unwrap()
	case interface{ Unwrap() []error }:
		for _, c := range e.Unwrap() {
			if c != nil {
				return c
			}
		}
	}
	return nil
}

// walkChain returns err and its causes, outermost first. A repeated error
// ends the walk.
func walkChain(err error, max int) []error {
	if max <= 0 {
		max = DefaultMaxChain
	}
	var chain []error
	seen := make(map[any]struct{})
	for err != nil && len(chain) < max {
		if revisited(seen, err) {
			break
		}
		chain = append(chain, err)
		err = next(err)
	}
	return chain
}

// revisited records err in seen and reports whether it was there already.
// Errors that cannot be hashed are never considered repeated.
func revisited(seen map[any]struct{}, err error) (dup bool) {
	t := reflect.TypeOf(err)
	if t == nil || !t.Comparable() {
		return false
	}
	defer func() {
		if recover() != nil {
			dup = false
		}
	}()
	if _, dup = seen[err]; !dup {
		seen[err] = struct{}{}
	}
	return dup
}

// hasStack reports whether err carries its own raise stack
func hasStack(err error) bool {
	switch err.(type) {
	case *Error, stackTracer:
		return true
	}
	return false
}

// recordable returns the positions in chain that get a record: the
// outermost error, the root cause and every error carrying its own stack.
// Stack-less wrappers in between are folded.
func recordable(chain []error) []int {
	out := make([]int, 0, len(chain))
	for i, err := range chain {
		if i == 0 || i == len(chain)-1 || hasStack(err) {
			out = append(out, i)
		}
	}
	return out
}

// ownMessage returns err's message without the text of the inner error
// it wraps, following the "msg: cause" convention
func ownMessage(err, inner error) string {
	if e, ok := err.(*Error); ok {
		return e.msg
	}
	text := safeError(err)
	if inner == nil {
		return text
	}
	if trimmed := strings.TrimSuffix(text, ": "+safeError(inner)); trimmed != text {
		return trimmed
	}
	return text
}

// stackOf returns the raise stack of err, if it carries one
func stackOf(err error) ([]uintptr, bool) {
	switch e := err.(type) {
	case *Error:
		return e.stack, e.truncated
	case stackTracer:
		st := e.StackTrace()
		pcs := make([]uintptr, len(st))
		for i, f := range st {
			pcs[i] = uintptr(f)
		}
		// github.com/pkg/errors keeps at most 32 frames
		return pcs, len(pcs) >= 32
	}
	return nil, false
}

package capture

import (
	"fmt"
	"runtime"
	"strings"
)

type binding struct {
	function string
	// depth counts frames from the goroutine root; 0 when unknown
	depth  int
	locals Locals
}

// Trace binds the variables of the calling function to the error it
// returns. It must be deferred directly:
//
//	func bar(x, y int) (q int, err error) {
//		defer capture.Trace(&err, func() capture.Locals {
//			return capture.Locals{"x": x, "y": y}
//		})
//		return x / y, nil
//	}
//
// A panic in flight is recovered and stored in *errp as an *Error raised
// from the panicking frame. The locals function runs when the surrounding
// function exits, so it sees the final values. Every *Error in the chain
// of *errp remembers them for this frame.
func Trace(errp *error, locals func() Locals) {
	if errp == nil {
		return
	}
	if r := recover(); r != nil {
		*errp = fromPanic(r, 1)
	}
	if *errp == nil {
		return
	}

	b := bindingFrame(1)
	b.locals = evalLocals(locals)
	Bind(*errp, b.function, b.depth, b.locals)
}

// Bind attaches locals to the frame of function at depth (0 meaning any
// depth) in every *Error of err's chain. Trace is the usual way to call it.
func Bind(err error, function string, depth int, locals Locals) {
	for _, e := range walkChain(err, DefaultMaxChain) {
		if te, ok := e.(*Error); ok {
			te.bind(binding{function: function, depth: depth, locals: locals})
		}
	}
}

func evalLocals(locals func() Locals) (out Locals) {
	if locals == nil {
		return Locals{}
	}
	defer func() {
		if r := recover(); r != nil {
			logger().Warn("locals function panicked", "panic", fmt.Sprint(r))
			out = Locals{}
		}
	}()
	out = locals()
	if out == nil {
		out = Locals{}
	}
	return out
}

// bindingFrame identifies the function that deferred the caller, skipping
// the runtime frames a panic or a deferreturn put in between and the
// closure the compiler wraps deferred calls in
func bindingFrame(skip int) binding {
	pcs, truncated := callers(skip + 1)
	frames := expand(pcs)
	for i, f := range frames {
		if strings.HasPrefix(f.Function, "runtime.") || strings.Contains(f.Function, ".deferwrap") {
			continue
		}
		b := binding{function: f.Function}
		if !truncated {
			b.depth = len(frames) - i
		}
		return b
	}
	return binding{}
}

// expand resolves program counters into frames, innermost first
func expand(pcs []uintptr) []runtime.Frame {
	if len(pcs) == 0 {
		return nil
	}
	out := make([]runtime.Frame, 0, len(pcs))
	it := runtime.CallersFrames(pcs)
	for {
		f, more := it.Next()
		out = append(out, f)
		if !more {
			break
		}
	}
	return out
}

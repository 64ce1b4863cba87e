package capture

import (
	"fmt"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/willibrandon/tbdump/pkg/registry"
	"github.com/willibrandon/tbdump/pkg/snapshot"
)

// Capture snapshots err and every error it was raised from. Each record
// holds the frames from the handling frame down to where the error was
// raised, with the variables bound there by Trace. Capture returns nil for a
// nil error and never panics; anything that fails is logged and the records
// built so far are returned.
func Capture(err error, opts ...Option) *Dump {
	if err == nil {
		return nil
	}
	o := CurrentOptions()
	for _, opt := range opts {
		opt(&o)
	}
	handler, _ := callers(1 + o.skip)

	d := &Dump{
		ID:      uuid.NewString(),
		Created: time.Now(),
		System:  CurrentSystem(),
	}
	e := &engine{opts: &o, capturer: o.capturer(), src: o.Source}
	d.Exceptions = e.run(err, handler)
	return d
}

type engine struct {
	opts     *Options
	capturer snapshot.Capturer
	src      *snapshot.SourceCache
}

// positioned is a frame together with its depth from the goroutine root
type positioned struct {
	rf    runtime.Frame
	depth int
}

func (e *engine) run(err error, handler []uintptr) (out []*Exception) {
	var chain, nodes []error
	defer func() {
		if r := recover(); r != nil {
			logger().Warn("capture degraded", "panic", fmt.Sprint(r), "records", len(out))
			if len(out) == 0 {
				out = []*Exception{fallbackRecord(err)}
			}
		}
	}()

	chain = walkChain(err, e.opts.MaxChain)
	positions := recordable(chain)
	nodes = make([]error, len(positions))
	for i, pos := range positions {
		nodes[i] = chain[pos]
	}

	// handlers[i] is the stack of the frame that handled nodes[i]
	handlers := make([][]uintptr, len(nodes))
	handlers[0] = handler
	if e.opts.FullStack {
		handlers[0] = nil
	}
	for i := 1; i < len(nodes); i++ {
		if st, _ := stackOf(nodes[i-1]); len(st) > 0 {
			handlers[i] = st
		} else {
			handlers[i] = handlers[i-1]
		}
	}

	for i, pos := range positions {
		out = append(out, e.record(chain, pos, handlers[i]))
	}
	slices.Reverse(out)
	return out
}

// record builds the exception for node; a failure degrades to a record
// without frames
func (e *engine) record(chain []error, pos int, handler []uintptr) (x *Exception) {
	node := chain[pos]
	defer func() {
		if r := recover(); r != nil {
			logger().Debug("record degraded", "error", safeError(node), "panic", fmt.Sprint(r))
			x = fallbackRecord(node)
		}
	}()

	x = &Exception{Frames: []*snapshot.Frame{}}
	x.Type, x.Class = classOf(node)
	x.Str = ownMessage(node, next(node))
	if te, ok := node.(*Error); ok {
		x.Panic = te.panicked
	}

	stack, truncated := stackOf(node)
	for _, p := range e.frames(stack, truncated, handler) {
		locals := localsOf(chain, pos, p.rf.Function, p.depth)
		x.Frames = append(x.Frames, snapshot.NewFrame(p.rf, locals, e.capturer, e.src))
	}
	return x
}

// frames expands stack outer to inner, starts it at the handling frame and
// applies the frame filter
func (e *engine) frames(stack []uintptr, truncated bool, handler []uintptr) []positioned {
	all := expand(stack)
	slices.Reverse(all)

	start := 0
	if len(handler) > 0 {
		h := expand(handler)
		slices.Reverse(h)
		k := commonPrefix(all, h)
		if k > 0 {
			start = k - 1
		}
	}

	var out []positioned
	for i := start; i < len(all); i++ {
		rf := all[i]
		if strings.HasPrefix(rf.Function, "runtime.") {
			continue
		}
		if !e.opts.ShouldInclude(snapshot.PackagePath(rf.Function)) {
			continue
		}
		p := positioned{rf: rf}
		if !truncated {
			p.depth = i + 1
		}
		out = append(out, p)
	}
	return out
}

// commonPrefix counts the leading frames both stacks share, bounded by the
// length of the handler stack
func commonPrefix(stack, handler []runtime.Frame) int {
	n := 0
	for n < len(stack) && n < len(handler) && stack[n].Function == handler[n].Function {
		n++
	}
	return n
}

// localsOf finds the variables bound for a frame of chain[pos]. Bindings on
// the error itself win; errors that cannot hold bindings borrow them from
// the *Error values that wrap them.
func localsOf(chain []error, pos int, function string, depth int) map[string]any {
	if te, ok := chain[pos].(*Error); ok {
		return te.localsFor(function, depth)
	}
	for i := pos - 1; i >= 0; i-- {
		if te, ok := chain[i].(*Error); ok {
			if locals := te.localsFor(function, depth); locals != nil {
				return locals
			}
		}
	}
	return nil
}

func classOf(err error) (registry.TypeRef, registry.Symbol) {
	if te, ok := err.(*Error); ok {
		if te.classType == nil {
			return te.class, nil
		}
		return te.class, &registry.TypeInfo{Ref: te.class, Type: te.classType}
	}
	t := reflect.TypeOf(err)
	ref := registry.RefOf(t)
	return ref, &registry.TypeInfo{Ref: ref, Type: t}
}

func fallbackRecord(err error) (x *Exception) {
	x = &Exception{Frames: []*snapshot.Frame{}, Str: safeError(err)}
	defer func() {
		if recover() != nil {
			x.Type = registry.TypeRef{Name: "error"}
		}
	}()
	x.Type, x.Class = classOf(err)
	return x
}

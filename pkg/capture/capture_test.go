package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willibrandon/tbdump/pkg/registry"
	"github.com/willibrandon/tbdump/pkg/snapshot"
)

func bar(x, y int) (q int, err error) {
	defer Trace(&err, func() Locals {
		return Locals{"x": x, "y": y}
	})
	return x / y, nil
}

func foo(y int) (err error) {
	defer Trace(&err, func() Locals {
		return Locals{"y": y, "err": err}
	})
	if _, err = bar(1, y); err != nil {
		return Wrap(err, "Unexpected error")
	}
	return nil
}

func recurse(n int) (err error) {
	defer Trace(&err, func() Locals {
		return Locals{"n": n}
	})
	if n == 0 {
		return New("bottom")
	}
	return recurse(n - 1)
}

func handleAt(depth int) error {
	if depth == 0 {
		return foo(0)
	}
	return handleAt(depth - 1)
}

func raisePkgErrors() error {
	return pkgerrors.Wrap(pkgerrors.New("boom"), "context")
}

func panicWith(v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = FromPanic(r)
		}
	}()
	panic(v)
}

type loopErr struct {
	msg  string
	next error
}

func (e *loopErr) Error() string { return e.msg }
func (e *loopErr) Unwrap() error { return e.next }

type causeAndUnwrap struct {
	cause, unwrap error
}

func (e *causeAndUnwrap) Error() string { return "both" }
func (e *causeAndUnwrap) Cause() error  { return e.cause }
func (e *causeAndUnwrap) Unwrap() error { return e.unwrap }

func funcNames(x *Exception) []string {
	names := make([]string, len(x.Frames))
	for i, f := range x.Frames {
		names[i] = f.FuncName
	}
	return names
}

func TestCaptureNil(t *testing.T) {
	assert.Nil(t, Capture(nil))
}

func TestCaptureChainedPanic(t *testing.T) {
	err := foo(0)
	require.Error(t, err)

	d := Capture(err)
	require.NotNil(t, d)
	require.Len(t, d.Exceptions, 2)
	assert.NotEmpty(t, d.ID)
	assert.False(t, d.Created.IsZero())

	root := d.Exceptions[0]
	assert.Equal(t, "runtime error: integer divide by zero", root.Str)
	assert.Equal(t, registry.TypeRef{Module: "runtime", Name: "Error"}, root.Type)
	assert.True(t, root.Panic)
	assert.Equal(t, []string{"foo", "bar"}, funcNames(root))
	assert.Equal(t, []string{"err", "y"}, root.Frame(0).Keys())
	assert.Equal(t, []string{"x", "y"}, root.Frame(1).Keys())

	x, ok := root.Frame(1).Get("x")
	require.True(t, ok)
	assert.Equal(t, int64(1), x.Int)
	y, ok := root.Frame(1).Get("y")
	require.True(t, ok)
	assert.Equal(t, int64(0), y.Int)
	assert.Equal(t, "return x / y, nil", root.Frame(1).CodeLine)

	outer := d.Exceptions[1]
	assert.Equal(t, "Unexpected error", outer.Str)
	assert.Equal(t, registry.TypeRef{Module: "github.com/willibrandon/tbdump/pkg/capture", Name: "Error"}, outer.Type)
	assert.False(t, outer.Panic)
	assert.Equal(t, []string{"TestCaptureChainedPanic", "foo"}, funcNames(outer))
	assert.Empty(t, outer.Frame(0).Keys())
	assert.Equal(t, []string{"err", "y"}, outer.Frame(1).Keys())
	assert.Equal(t, `return Wrap(err, "Unexpected error")`, outer.Frame(1).CodeLine)

	assert.Same(t, root, d.Root())
	assert.Same(t, outer, d.Last())
	assert.Nil(t, outer.Frame(2))
	assert.Nil(t, outer.Frame(-1))
}

func TestCaptureCauseTrimming(t *testing.T) {
	tests := []struct {
		name  string
		depth int
	}{
		{"direct", 0},
		{"one frame above", 1},
		{"several frames above", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Capture(handleAt(tt.depth))
			require.NotNil(t, d)
			require.Len(t, d.Exceptions, 2)

			assert.Equal(t, []string{"foo", "bar"}, funcNames(d.Root()))

			want := []string{"TestCaptureCauseTrimming.func1"}
			for i := 0; i <= tt.depth; i++ {
				want = append(want, "handleAt")
			}
			want = append(want, "foo")
			assert.Equal(t, want, funcNames(d.Last()))
		})
	}
}

func TestCaptureWrapChainAcrossFunctions(t *testing.T) {
	load := func() error { return Wrap(foo(0), "load failed") }
	start := func() error { return Wrap(load(), "start failed") }

	d := Capture(start())
	require.Len(t, d.Exceptions, 4)

	assert.Equal(t, []string{"foo", "bar"}, funcNames(d.Exceptions[0]))
	assert.Equal(t, "Unexpected error", d.Exceptions[1].Str)
	assert.Equal(t, []string{"TestCaptureWrapChainAcrossFunctions.func1", "foo"}, funcNames(d.Exceptions[1]))
	assert.Equal(t, "load failed", d.Exceptions[2].Str)
	assert.Equal(t, []string{"TestCaptureWrapChainAcrossFunctions.func2", "TestCaptureWrapChainAcrossFunctions.func1"}, funcNames(d.Exceptions[2]))
	assert.Equal(t, "start failed", d.Exceptions[3].Str)
	assert.Equal(t, []string{"TestCaptureWrapChainAcrossFunctions", "TestCaptureWrapChainAcrossFunctions.func2"}, funcNames(d.Exceptions[3]))
}

func TestCaptureErrorLocal(t *testing.T) {
	d := Capture(foo(0))
	require.NotNil(t, d)

	v, ok := d.Root().Frame(0).Get("err")
	require.True(t, ok)
	assert.Equal(t, snapshot.Struct, v.Kind)
	assert.Equal(t, "*capture.Error", v.TypeName)
	assert.Equal(t, "Unexpected error: runtime error: integer divide by zero", v.Text)

	names := make([]string, len(v.Fields))
	for i, f := range v.Fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"Message", "Class", "Panicked"}, names)
	assert.Equal(t, "Unexpected error", v.Fields[0].Value.Str)
	assert.Equal(t, errorRef.String(), v.Fields[1].Value.Str)

	raw, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Less(t, len(raw), 1024)
	for _, field := range []string{"bindings", "stack", "classType", "internal/abi"} {
		assert.NotContains(t, string(raw), field)
	}
}

func TestCaptureClassAtCaptureTime(t *testing.T) {
	d := Capture(foo(0))
	require.NotNil(t, d)

	info, ok := d.Root().Class.(*registry.TypeInfo)
	require.True(t, ok)
	assert.Equal(t, runtimeErrType, info.Type)

	info, ok = d.Last().Class.(*registry.TypeInfo)
	require.True(t, ok)
	assert.Equal(t, errorType, info.Type)
}

func TestCaptureRecursionDepth(t *testing.T) {
	d := Capture(recurse(3))
	require.NotNil(t, d)
	require.Len(t, d.Exceptions, 1)

	x := d.Exceptions[0]
	assert.Equal(t, "bottom", x.Str)
	require.Len(t, x.Frames, 5)
	assert.Equal(t, "TestCaptureRecursionDepth", x.Frame(0).FuncName)
	for i := 0; i < 4; i++ {
		f := x.Frame(i + 1)
		assert.Equal(t, "recurse", f.FuncName)
		n, ok := f.Get("n")
		require.True(t, ok, "frame %d", i+1)
		assert.Equal(t, int64(3-i), n.Int, "frame %d", i+1)
	}
}

func TestCaptureLongChain(t *testing.T) {
	const n = 12
	err := New("0")
	for i := 1; i < n; i++ {
		err = Wrapf(err, "%d", i)
	}

	d := Capture(err)
	require.Len(t, d.Exceptions, n)
	for i, x := range d.Exceptions {
		assert.Equal(t, fmt.Sprint(i), x.Str)
	}
}

func TestCaptureMaxChain(t *testing.T) {
	err := New("0")
	for i := 1; i < 10; i++ {
		err = Wrapf(err, "%d", i)
	}

	d := Capture(err, WithMaxChain(3))
	require.Len(t, d.Exceptions, 3)
	assert.Equal(t, "7", d.Root().Str)
	assert.Equal(t, "9", d.Last().Str)
}

func TestCaptureCycle(t *testing.T) {
	a := &loopErr{msg: "a"}
	b := &loopErr{msg: "b", next: a}
	a.next = b

	d := Capture(a)
	require.NotNil(t, d)
	require.Len(t, d.Exceptions, 2)
	assert.Equal(t, "b", d.Root().Str)
	assert.Equal(t, "a", d.Last().Str)
}

func TestCaptureStacklessChain(t *testing.T) {
	inner := errors.New("inner")
	err := fmt.Errorf("middle: %w", inner)
	err = fmt.Errorf("outer: %w", err)

	d := Capture(err)
	require.Len(t, d.Exceptions, 2)

	assert.Equal(t, "inner", d.Root().Str)
	assert.Equal(t, registry.TypeRef{Module: "errors", Name: "errorString"}, d.Root().Type)
	assert.Empty(t, d.Root().Frames)

	assert.Equal(t, "outer", d.Last().Str)
	assert.Equal(t, registry.TypeRef{Module: "fmt", Name: "wrapError"}, d.Last().Type)
}

func TestCaptureJoinedErrors(t *testing.T) {
	first := errors.New("first")
	err := errors.Join(nil, first, errors.New("second"))

	d := Capture(err)
	require.Len(t, d.Exceptions, 2)
	assert.Equal(t, "first", d.Root().Str)
}

func TestCauseWinsOverUnwrap(t *testing.T) {
	cause := errors.New("explicit")
	err := &causeAndUnwrap{cause: cause, unwrap: errors.New("implicit")}

	d := Capture(err)
	require.Len(t, d.Exceptions, 2)
	assert.Equal(t, "explicit", d.Root().Str)
}

func TestCapturePkgErrors(t *testing.T) {
	d := Capture(raisePkgErrors())
	require.Len(t, d.Exceptions, 2)

	root := d.Root()
	assert.Equal(t, "boom", root.Str)
	assert.Equal(t, registry.TypeRef{Module: "github.com/pkg/errors", Name: "fundamental"}, root.Type)
	names := funcNames(root)
	require.NotEmpty(t, names)
	assert.Equal(t, "raisePkgErrors", names[len(names)-1])

	outer := d.Last()
	assert.Equal(t, []string{"TestCapturePkgErrors", "raisePkgErrors"}, funcNames(outer))
}

func TestCaptureRaise(t *testing.T) {
	plain := errors.New("plain")
	err := Raise(plain)
	require.NotNil(t, err)
	assert.Nil(t, Raise(nil))
	assert.ErrorIs(t, err, plain)

	d := Capture(err)
	require.Len(t, d.Exceptions, 1)
	x := d.Root()
	assert.Equal(t, "plain", x.Str)
	assert.Equal(t, registry.TypeRef{Module: "errors", Name: "errorString"}, x.Type)
	assert.Equal(t, []string{"TestCaptureRaise"}, funcNames(x))
}

func TestRaiseMessage(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		text    string
		message string
		strs    []string
	}{
		{
			name:    "plain",
			err:     errors.New("plain"),
			text:    "plain",
			message: "plain",
			strs:    []string{"plain"},
		},
		{
			name:    "wrapped",
			err:     fmt.Errorf("write config: %w", errors.New("disk full")),
			text:    "write config: disk full",
			message: "write config",
			strs:    []string{"disk full", "write config"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Raise(tt.err)
			assert.Equal(t, tt.text, err.Error())
			assert.Equal(t, tt.message, err.Message())
			assert.Equal(t, tt.text, fmt.Sprint(err))

			d := Capture(err)
			require.Len(t, d.Exceptions, len(tt.strs))
			for i, x := range d.Exceptions {
				assert.Equal(t, tt.strs[i], x.Str)
			}
		})
	}
}

func TestCaptureFromPanic(t *testing.T) {
	err := panicWith("custom")
	require.Error(t, err)

	d := Capture(err)
	require.Len(t, d.Exceptions, 1)
	x := d.Root()
	assert.True(t, x.Panic)
	assert.Equal(t, "custom", x.Str)
	assert.Equal(t, registry.TypeRef{Name: "string"}, x.Type)
	assert.Equal(t, []string{"TestCaptureFromPanic", "panicWith"}, funcNames(x))
}

func TestFromPanicKeepsError(t *testing.T) {
	orig := New("already raised")
	assert.Same(t, orig, FromPanic(orig))

	sentinel := errors.New("sentinel")
	e := FromPanic(sentinel)
	assert.True(t, e.Panicked())
	assert.Equal(t, sentinel, e.Value())
	assert.ErrorIs(t, e, sentinel)
}

func TestCaptureFullStack(t *testing.T) {
	d := Capture(New("top"), FullStack())
	require.Len(t, d.Exceptions, 1)
	names := funcNames(d.Root())
	require.NotEmpty(t, names)
	assert.Equal(t, "tRunner", names[0])
	assert.Equal(t, "TestCaptureFullStack", names[len(names)-1])
}

func TestCaptureFilter(t *testing.T) {
	err := foo(0)

	d := Capture(err, WithFilter(nil, []string{"github.com/willibrandon/tbdump/pkg/capture"}))
	require.Len(t, d.Exceptions, 2)
	assert.Empty(t, d.Root().Frames)
	assert.Empty(t, d.Last().Frames)

	d = Capture(err, WithStdlib(false), FullStack())
	for _, f := range d.Last().Frames {
		assert.NotEqual(t, "testing", f.Package())
	}
}

func TestCallerSkip(t *testing.T) {
	helper := func(err error) *Dump {
		return Capture(err, CallerSkip(1))
	}
	d := helper(New("skipped"))
	assert.Equal(t, []string{"TestCallerSkip"}, funcNames(d.Root()))
}

func TestTraceWithoutError(t *testing.T) {
	ok := func() (err error) {
		defer Trace(&err, func() Locals { return Locals{"unused": 1} })
		return nil
	}
	assert.NoError(t, ok())

	Trace(nil, nil)
}

func TestTracePanickingLocals(t *testing.T) {
	fail := func() (err error) {
		defer Trace(&err, func() Locals { panic("bad locals") })
		return New("failed")
	}
	err := fail()
	require.Error(t, err)

	d := Capture(err)
	require.Len(t, d.Exceptions, 1)
	for _, f := range d.Root().Frames {
		assert.Empty(t, f.Keys())
	}
}

func TestErrorFormatting(t *testing.T) {
	sentinel := errors.New("disk full")
	err := Wrap(sentinel, "save failed")

	assert.Equal(t, "save failed: disk full", err.Error())
	assert.Equal(t, "save failed", err.Message())
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, sentinel, pkgerrors.Cause(err))
	assert.Equal(t, `"save failed: disk full"`, fmt.Sprintf("%q", err))

	verbose := fmt.Sprintf("%+v", err)
	assert.Contains(t, verbose, "save failed")
	assert.Contains(t, verbose, "TestErrorFormatting")

	assert.NotEmpty(t, err.StackTrace())
	assert.Equal(t, errorRef, err.Class())
}

func TestExceptionFormat(t *testing.T) {
	d := Capture(foo(0))
	out := d.String()
	assert.Contains(t, out, "Traceback (most recent call last):")
	assert.Contains(t, out, "The above error caused the following error:")
	assert.Contains(t, out, "runtime.Error: runtime error: integer divide by zero")
	assert.Contains(t, out, "return x / y, nil")
}

func TestDumpValues(t *testing.T) {
	d := Capture(foo(0))
	count := 0
	d.Values(func(*snapshot.Value) { count++ })
	assert.Positive(t, count)
	assert.Equal(t, 2, d.Len())

	var empty *Dump
	assert.Equal(t, 0, empty.Len())
	assert.Nil(t, empty.Root())
}

func TestCurrentSystem(t *testing.T) {
	s := CurrentSystem()
	assert.Equal(t, runtime.Version(), s.GoVersion)
	assert.Equal(t, runtime.GOOS, s.OSName)
	assert.Equal(t, runtime.GOARCH, s.Arch)
	assert.Len(t, s.Uname, 5)

	m := s.Map()
	for _, key := range []string{"go.version", "os.name", "arch", "os.uname"} {
		assert.Contains(t, m, key)
	}
}

package snapshot

import (
	"errors"
	"math"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X, Y int
	tag  string
}

type node struct {
	Name string
	Next *node
}

type stackErr struct {
	msg string
	pcs []uintptr
}

func (e *stackErr) Error() string { return e.msg }

func (e *stackErr) CaptureProxy() any {
	return struct{ Message string }{e.msg}
}

type brokenProxy struct{}

func (brokenProxy) CaptureProxy() any { panic("no stand-in") }

type guarded struct {
	mu    sync.Mutex
	Count int
}

func TestCaptureScalars(t *testing.T) {
	c := NewDeepCopier()

	tests := []struct {
		name string
		in   any
		kind Kind
	}{
		{"nil", nil, Nil},
		{"bool", true, Bool},
		{"int", 42, Int},
		{"int8", int8(-3), Int},
		{"uint", uint16(7), Uint},
		{"float", 1.5, Float},
		{"complex", complex(1, 2), Complex},
		{"string", "hello", String},
		{"bytes", []byte("abc"), Bytes},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Capture(tt.name, tt.in)
			require.NotNil(t, v)
			assert.Equal(t, tt.kind, v.Kind)
		})
	}

	assert.Equal(t, int64(42), c.Capture("x", 42).Int)
	assert.Equal(t, "hello", c.Capture("s", "hello").Str)
	assert.Equal(t, []byte("abc"), c.Capture("b", []byte("abc")).Bytes)
	assert.Equal(t, complex(1, 2), c.Capture("c", complex(1, 2)).ComplexValue())
}

func TestCaptureNonFiniteFloats(t *testing.T) {
	c := NewDeepCopier()

	nan := c.Capture("nan", math.NaN())
	assert.True(t, math.IsNaN(nan.FloatValue()))

	inf := c.Capture("inf", math.Inf(-1))
	assert.True(t, math.IsInf(inf.FloatValue(), -1))
}

func TestCaptureStruct(t *testing.T) {
	v := NewDeepCopier().Capture("p", point{X: 1, Y: 2, tag: "origin"})

	require.Equal(t, Struct, v.Kind)
	require.NotNil(t, v.Type)
	assert.Equal(t, "point", v.Type.Name)
	assert.Equal(t, "github.com/willibrandon/tbdump/pkg/snapshot", v.Type.Module)

	x, ok := v.Field("X")
	require.True(t, ok)
	assert.Equal(t, int64(1), x.Int)

	tag, ok := v.Field("tag")
	require.True(t, ok)
	assert.Equal(t, "origin", tag.Str)
}

func TestCaptureIsIndependent(t *testing.T) {
	data := map[string][]int{"a": {1, 2, 3}}
	v := NewDeepCopier().Capture("data", data)

	data["a"][0] = 100
	data["b"] = nil

	require.Equal(t, Map, v.Kind)
	require.Len(t, v.Entries, 1)
	assert.Equal(t, "a", v.Entries[0].Key.Str)
	assert.Equal(t, int64(1), v.Entries[0].Value.Elems[0].Int)
}

func TestCaptureCycle(t *testing.T) {
	a := &node{Name: "a"}
	b := &node{Name: "b", Next: a}
	a.Next = b

	v := NewDeepCopier().Capture("a", a)

	require.Equal(t, Pointer, v.Kind)
	next, ok := v.Elem.Field("Next")
	require.True(t, ok)
	back, ok := next.Elem.Field("Next")
	require.True(t, ok)
	assert.Equal(t, Ref, back.Kind)
	assert.Equal(t, v.ID, back.Ref)
}

func TestCaptureOpaque(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "handle")
	require.NoError(t, err)
	defer f.Close()

	c := NewDeepCopier()
	tests := []struct {
		name string
		in   any
	}{
		{"file", f},
		{"chan", make(chan int)},
		{"func", func() {}},
		{"mutex", &sync.Mutex{}},
		{"waitgroup", &sync.WaitGroup{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Capture(tt.name, tt.in)
			assert.True(t, v.IsPlaceholder())
			assert.Equal(t, tt.name, v.Name)
			assert.NotEmpty(t, v.Desc)
		})
	}
}

func TestCaptureReflection(t *testing.T) {
	c := NewDeepCopier()
	tests := []struct {
		name string
		in   any
		desc string
	}{
		{"type", reflect.TypeOf(point{}), "reflect.Type snapshot.point"},
		{"pointer type", reflect.TypeOf(&node{}), "reflect.Type *snapshot.node"},
		{"value", reflect.ValueOf(42), "uncopyable struct"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Capture(tt.name, tt.in)
			assert.True(t, v.IsPlaceholder())
			assert.Equal(t, tt.desc, v.Desc)
			assert.Empty(t, v.Fields)
			assert.Nil(t, v.Elem)
		})
	}
}

func TestCaptureProxy(t *testing.T) {
	c := NewDeepCopier()

	v := c.Capture("err", &stackErr{msg: "boom", pcs: make([]uintptr, 64)})
	require.Equal(t, Struct, v.Kind)
	assert.Equal(t, "*snapshot.stackErr", v.TypeName)
	assert.Equal(t, "boom", v.Text)
	require.NotNil(t, v.Type)
	assert.Equal(t, "stackErr", v.Type.Name)
	require.Len(t, v.Fields, 1)
	msg, ok := v.Field("Message")
	require.True(t, ok)
	assert.Equal(t, "boom", msg.Str)

	var nilErr *stackErr
	assert.Equal(t, Nil, c.Capture("nil", nilErr).Kind)

	broken := c.Capture("broken", brokenProxy{})
	assert.True(t, broken.IsPlaceholder())
	assert.Contains(t, broken.Desc, "no stand-in")
}

func TestCaptureOpaqueField(t *testing.T) {
	v := NewDeepCopier().Capture("g", &guarded{Count: 3})

	require.Equal(t, Pointer, v.Kind)
	mu, ok := v.Elem.Field("mu")
	require.True(t, ok)
	assert.True(t, mu.IsPlaceholder())

	count, ok := v.Elem.Field("Count")
	require.True(t, ok)
	assert.Equal(t, int64(3), count.Int)
}

func TestCaptureLimits(t *testing.T) {
	c := &DeepCopier{MaxDepth: 2, MaxElems: 2, MaxString: 4}

	s := c.Capture("s", "abcdefgh")
	assert.True(t, s.Truncated)
	assert.Equal(t, "abcd", s.Str)
	assert.Equal(t, 8, s.Len)

	list := c.Capture("list", []int{1, 2, 3, 4})
	assert.True(t, list.Truncated)
	assert.Len(t, list.Elems, 2)
	assert.Equal(t, 4, list.Len)

	deep := c.Capture("deep", &node{Next: &node{Next: &node{}}})
	var truncated bool
	deep.Walk(func(v *Value) {
		if v.Truncated {
			truncated = true
		}
	})
	assert.True(t, truncated)
}

func TestCaptureErrorText(t *testing.T) {
	v := NewDeepCopier().Capture("err", errors.New("boom"))
	assert.Equal(t, "boom", v.Text)
}

func TestCaptureNamedType(t *testing.T) {
	v := NewDeepCopier().Capture("d", 3*time.Second)
	require.Equal(t, Int, v.Kind)
	require.NotNil(t, v.Type)
	assert.Equal(t, "time.Duration", v.Type.String())
}

func TestKindText(t *testing.T) {
	for k := Nil; k <= Opaque; k++ {
		text, err := k.MarshalText()
		require.NoError(t, err)
		var back Kind
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, k, back)
	}
	var k Kind
	assert.Error(t, k.UnmarshalText([]byte("gizmo")))
}

package registry

import (
	"errors"
	"reflect"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct{ N int }

type stubFinder struct {
	modules map[string]Module
	symbols map[string]Symbol
}

func (f *stubFinder) FindModule(path string) (Module, bool) {
	m, ok := f.modules[path]
	return m, ok
}

func (f *stubFinder) FindSymbol(path, name string) (Symbol, bool) {
	s, ok := f.symbols[path+"."+name]
	return s, ok
}

type fakeSymbol string

func (s fakeSymbol) QualifiedName() string { return string(s) }

func TestRefOf(t *testing.T) {
	tests := []struct {
		name string
		typ  reflect.Type
		want TypeRef
	}{
		{"builtin", reflect.TypeOf(0), TypeRef{Name: "int"}},
		{"named", reflect.TypeOf(time.Second), TypeRef{Module: "time", Name: "Duration"}},
		{"pointer", reflect.TypeOf(&widget{}), TypeRef{Module: "github.com/willibrandon/tbdump/pkg/registry", Name: "widget"}},
		{"unnamed", reflect.TypeOf([]int{}), TypeRef{Name: "[]int"}},
		{"nil", nil, TypeRef{Name: "nil"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RefOf(tt.typ))
		})
	}
}

func TestRegisterAndResolve(t *testing.T) {
	Register(&widget{})

	sym, err := ResolveType(RefOf(reflect.TypeOf(widget{})))
	require.NoError(t, err)
	ti, ok := sym.(*TypeInfo)
	require.True(t, ok)
	assert.Equal(t, reflect.TypeOf(widget{}), ti.Type)
	assert.Equal(t, "github.com/willibrandon/tbdump/pkg/registry.widget", ti.QualifiedName())

	typ, ok := Lookup(TypeRef{Module: "time", Name: "Time"})
	require.True(t, ok)
	assert.Equal(t, reflect.TypeOf(time.Time{}), typ)
}

func TestBuiltinTypes(t *testing.T) {
	for _, name := range []string{"int", "string", "error", "float64", "byte"} {
		sym, err := ImportFrom(Builtin, name)
		require.NoError(t, err, name)
		assert.Equal(t, name, sym.QualifiedName())
	}

	sym, err := ResolveType(TypeRef{Module: "runtime", Name: "Error"})
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeOf((*runtime.Error)(nil)).Elem(), sym.(*TypeInfo).Type)
}

func TestImportMissingModule(t *testing.T) {
	_, err := Import("some_other_nonexisting_module")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModuleNotFound))

	var ie *ImportError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "some_other_nonexisting_module", ie.Path)
}

func TestImportMissingSymbol(t *testing.T) {
	_, err := ImportFrom("time", "Sundial")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSymbolNotFound))
}

func TestImportInvalidPath(t *testing.T) {
	_, err := Import("bad path//x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPath))
}

func TestLoader(t *testing.T) {
	calls := 0
	RegisterLoader("example.com/lazy", func(p *Package) error {
		calls++
		p.Define("Thing", reflect.TypeOf(widget{}))
		return nil
	})

	sym, err := ImportFrom("example.com/lazy", "Thing")
	require.NoError(t, err)
	assert.Equal(t, "example.com/lazy.Thing", sym.QualifiedName())

	_, err = Import("example.com/lazy")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestFailingLoaderIsNotMasked(t *testing.T) {
	boom := errors.New("boom")
	RegisterLoader("example.com/broken", func(p *Package) error { return boom })

	f := &stubFinder{modules: map[string]Module{"example.com/broken": newPackage("example.com/broken")}}
	remove := AddFinder(f)
	defer remove()

	_, err := Import("example.com/broken")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestFinder(t *testing.T) {
	placeholder := newPackage("example.com/ghost")
	f := &stubFinder{
		modules: map[string]Module{"example.com/ghost": placeholder},
		symbols: map[string]Symbol{"time.Sundial": fakeSymbol("time.Sundial")},
	}
	remove := AddFinder(f)

	m, err := Import("example.com/ghost")
	require.NoError(t, err)
	assert.Same(t, placeholder, m)

	sym, err := ImportFrom("time", "Sundial")
	require.NoError(t, err)
	assert.Equal(t, "time.Sundial", sym.QualifiedName())

	remove()
	remove()

	_, err = Import("example.com/ghost")
	assert.True(t, errors.Is(err, ErrModuleNotFound))
	_, err = ImportFrom("time", "Sundial")
	assert.True(t, errors.Is(err, ErrSymbolNotFound))
}

func TestRegisterUnnamedPanics(t *testing.T) {
	assert.Panics(t, func() { Register([]int{}) })
}

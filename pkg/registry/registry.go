// Package registry is the process-wide resolution table that turns symbolic
// type references back into Go types.
//
// A dump never stores code, only (module path, name) pairs. Go has no way to
// look a type up by name at run time, so every type a program wants resolved
// after a reload has to be registered here first, the way encoding/gob
// requires Register for interface values. Packages are addressed by their
// import path; the empty path is the builtin pseudo-package holding the
// predeclared types.
//
// Resolution consults the registered packages and lazy loaders first. Only
// when a path is genuinely unknown are the installed finders asked, which is
// how the dummy package makes missing modules fail soft while its scope is
// active.
package registry

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/mod/module"
)

var (
	// ErrModuleNotFound is returned when a module path is neither registered
	// nor provided by an active finder
	ErrModuleNotFound = errors.New("module not found")
	// ErrSymbolNotFound is returned when a module exists but does not define the name
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrInvalidPath is returned for malformed module paths
	ErrInvalidPath = errors.New("invalid module path")
)

// ImportError describes a failed resolution of a module or a name inside it
type ImportError struct {
	Path string
	Name string
	Err  error
}

func (e *ImportError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("cannot import name %q from %q: %v", e.Name, e.Path, e.Err)
	}
	return fmt.Sprintf("no module named %q: %v", e.Path, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// TypeRef names a type symbolically by module path and name
type TypeRef struct {
	Module string `json:"module" yaml:"module"`
	Name   string `json:"name" yaml:"name"`
}

// String returns the qualified name, e.g. "time.Duration" or "int"
func (r TypeRef) String() string {
	if r.Module == "" {
		return r.Name
	}
	return r.Module + "." + r.Name
}

// IsZero reports whether the reference names nothing
func (r TypeRef) IsZero() bool {
	return r.Module == "" && r.Name == ""
}

// RefOf returns the reference for t. Unnamed pointer types are reduced to
// the type they point to; other unnamed types live in the builtin package
// under their textual form.
func RefOf(t reflect.Type) TypeRef {
	if t == nil {
		return TypeRef{Name: "nil"}
	}
	for t.Kind() == reflect.Pointer && t.Name() == "" {
		t = t.Elem()
	}
	if t.Name() == "" {
		return TypeRef{Name: t.String()}
	}
	return TypeRef{Module: t.PkgPath(), Name: t.Name()}
}

// Symbol is anything a name inside a module resolves to
type Symbol interface {
	QualifiedName() string
}

// TypeInfo is a resolved, registered Go type
type TypeInfo struct {
	Ref  TypeRef
	Type reflect.Type
}

// QualifiedName implements Symbol
func (ti *TypeInfo) QualifiedName() string { return ti.Ref.String() }

func (ti *TypeInfo) String() string { return ti.Ref.String() }

// Module is a resolvable package: either a registered Package or a
// placeholder handed out by a finder
type Module interface {
	Path() string
	Attr(name string) (Symbol, error)
	Submodule(name string) (Module, error)
}

// Package is a registered module and the types it defines
type Package struct {
	path  string
	mu    sync.RWMutex
	types map[string]*TypeInfo
}

func newPackage(path string) *Package {
	return &Package{path: path, types: make(map[string]*TypeInfo)}
}

// Path returns the package import path
func (p *Package) Path() string { return p.path }

// Attr returns the registered type with the given name
func (p *Package) Attr(name string) (Symbol, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if ti, ok := p.types[name]; ok {
		return ti, nil
	}
	return nil, &ImportError{Path: p.path, Name: name, Err: ErrSymbolNotFound}
}

// Submodule resolves path/name through the process-wide table
func (p *Package) Submodule(name string) (Module, error) {
	if p.path == "" {
		return Import(name)
	}
	return Import(p.path + "/" + name)
}

// Names returns the registered type names
func (p *Package) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.types))
	for name := range p.types {
		names = append(names, name)
	}
	return names
}

// Define registers t under name in this package
func (p *Package) Define(name string, t reflect.Type) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types[name] = &TypeInfo{Ref: TypeRef{Module: p.path, Name: name}, Type: t}
}

// Loader populates a package the first time it is imported
type Loader func(p *Package) error

// Finder supplies modules and names the table cannot resolve itself
type Finder interface {
	FindModule(path string) (Module, bool)
	FindSymbol(path, name string) (Symbol, bool)
}

type finderEntry struct {
	Finder
}

type table struct {
	mu       sync.RWMutex
	packages map[string]*Package
	loaders  map[string]Loader
	finders  []*finderEntry
}

var global = &table{
	packages: make(map[string]*Package),
	loaders:  make(map[string]Loader),
}

// Register records the named type of v so references to it can be resolved.
// Pointers are reduced to the type they point to. It panics on unnamed types.
func Register(v any) {
	RegisterType(reflect.TypeOf(v))
}

// RegisterType is Register for a reflect.Type
func RegisterType(t reflect.Type) {
	ref := RefOf(t)
	if t == nil || ref.Module == "" && strings.ContainsAny(ref.Name, "[]*(){} ") {
		panic(fmt.Sprintf("registry: cannot register unnamed type %v", t))
	}
	for t.Kind() == reflect.Pointer && t.Name() == "" {
		t = t.Elem()
	}
	RegisterName(ref.Module, ref.Name, t)
}

// RegisterName records t under an explicit module path and name, which
// also covers aliases and renamed types
func RegisterName(path, name string, t reflect.Type) {
	global.pkg(path).Define(name, t)
}

// RegisterLoader installs a loader that populates path on first import. A
// loader error is a genuine import failure and is never masked by finders.
func RegisterLoader(path string, load Loader) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.loaders[path] = load
}

// AddFinder installs f behind the registered packages. The returned
// function removes it and is safe to call more than once.
func AddFinder(f Finder) (remove func()) {
	entry := &finderEntry{Finder: f}
	global.mu.Lock()
	global.finders = append(global.finders, entry)
	global.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			global.mu.Lock()
			defer global.mu.Unlock()
			for i, e := range global.finders {
				if e == entry {
					global.finders = append(global.finders[:i], global.finders[i+1:]...)
					return
				}
			}
		})
	}
}

// Import resolves a module path
func Import(path string) (Module, error) {
	return global.importPath(path)
}

// ImportFrom resolves name inside the module at path
func ImportFrom(path, name string) (Symbol, error) {
	return global.importFrom(path, name)
}

// ResolveType resolves a symbolic type reference
func ResolveType(ref TypeRef) (Symbol, error) {
	return global.importFrom(ref.Module, ref.Name)
}

// Lookup returns the registered Go type for ref, ignoring finders
func Lookup(ref TypeRef) (reflect.Type, bool) {
	global.mu.RLock()
	p, ok := global.packages[ref.Module]
	global.mu.RUnlock()
	if !ok {
		return nil, false
	}
	sym, err := p.Attr(ref.Name)
	if err != nil {
		return nil, false
	}
	return sym.(*TypeInfo).Type, true
}

func (t *table) pkg(path string) *Package {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.packages[path]
	if !ok {
		p = newPackage(path)
		t.packages[path] = p
	}
	return p
}

func (t *table) importPath(path string) (Module, error) {
	if path != "" {
		if err := module.CheckImportPath(path); err != nil {
			return nil, &ImportError{Path: path, Err: errors.Wrap(ErrInvalidPath, err.Error())}
		}
	}

	t.mu.RLock()
	p, ok := t.packages[path]
	load, hasLoader := t.loaders[path]
	t.mu.RUnlock()
	if ok {
		return p, nil
	}

	if hasLoader {
		p := newPackage(path)
		if err := load(p); err != nil {
			return nil, &ImportError{Path: path, Err: err}
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if existing, ok := t.packages[path]; ok {
			return existing, nil
		}
		t.packages[path] = p
		delete(t.loaders, path)
		return p, nil
	}

	for _, f := range t.activeFinders() {
		if m, ok := f.FindModule(path); ok {
			return m, nil
		}
	}
	return nil, &ImportError{Path: path, Err: ErrModuleNotFound}
}

func (t *table) importFrom(path, name string) (Symbol, error) {
	m, err := t.importPath(path)
	if err != nil {
		return nil, err
	}
	sym, err := m.Attr(name)
	if err == nil {
		return sym, nil
	}
	if !errors.Is(err, ErrSymbolNotFound) {
		return nil, err
	}
	for _, f := range t.activeFinders() {
		if s, ok := f.FindSymbol(path, name); ok {
			return s, nil
		}
	}
	return nil, err
}

// activeFinders returns a snapshot, most recently added first
func (t *table) activeFinders() []Finder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Finder, 0, len(t.finders))
	for i := len(t.finders) - 1; i >= 0; i-- {
		out = append(out, t.finders[i].Finder)
	}
	return out
}

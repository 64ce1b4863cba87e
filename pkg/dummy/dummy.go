// Package dummy lets references to packages and types that are not linked
// into the running binary resolve to inert placeholders. The override is
// process-wide and only exists between Enter and the matching release.
package dummy

import (
	"strings"
	"sync"

	"github.com/willibrandon/tbdump/pkg/registry"
)

// Dummy stands in for a name that could not be resolved
type Dummy struct {
	Module string
	Name   string
}

// QualifiedName implements registry.Symbol
func (d *Dummy) QualifiedName() string {
	return registry.TypeRef{Module: d.Module, Name: d.Name}.String()
}

func (d *Dummy) String() string {
	return "<Dummy " + d.QualifiedName() + ">"
}

// ModuleStub stands in for a package that could not be resolved. Any name
// looked up in it resolves to another placeholder.
type ModuleStub struct {
	path   string
	parent *ModuleStub
	cache  *stubCache

	mu       sync.Mutex
	children map[string]*ModuleStub
	attrs    map[string]*Dummy
}

// Path returns the import path the stub stands in for
func (m *ModuleStub) Path() string { return m.path }

// Parent returns the stub of the enclosing path, or nil at the top level
func (m *ModuleStub) Parent() *ModuleStub { return m.parent }

// QualifiedName implements registry.Symbol
func (m *ModuleStub) QualifiedName() string { return m.path }

func (m *ModuleStub) String() string {
	return "<ModuleStub " + m.path + ">"
}

// Attr returns the placeholder for name; it never fails
func (m *ModuleStub) Attr(name string) (registry.Symbol, error) {
	return m.dummy(name), nil
}

// Submodule returns the stub for path/name; it never fails
func (m *ModuleStub) Submodule(name string) (registry.Module, error) {
	return m.child(name), nil
}

// Get resolves a dotted name: every element but the last names a
// submodule, the last names an attribute
func (m *ModuleStub) Get(name string) registry.Symbol {
	parts := strings.Split(name, ".")
	cur := m
	for _, p := range parts[:len(parts)-1] {
		cur = cur.child(p)
	}
	return cur.dummy(parts[len(parts)-1])
}

func (m *ModuleStub) child(name string) *ModuleStub {
	m.mu.Lock()
	c, ok := m.children[name]
	m.mu.Unlock()
	if ok {
		return c
	}
	return m.cache.stub(join(m.path, name), m)
}

func (m *ModuleStub) dummy(name string) *Dummy {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.attrs[name]; ok {
		return d
	}
	d := &Dummy{Module: m.path, Name: name}
	m.attrs[name] = d
	return d
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "/" + name
}

// stubCache holds the stubs of one activation window, keyed by path
type stubCache struct {
	mu    sync.Mutex
	stubs map[string]*ModuleStub
}

func newStubCache() *stubCache {
	return &stubCache{stubs: make(map[string]*ModuleStub)}
}

// stub returns the cached stub for path, creating it and its parents
func (c *stubCache) stub(path string, parent *ModuleStub) *ModuleStub {
	c.mu.Lock()
	if m, ok := c.stubs[path]; ok {
		c.mu.Unlock()
		return m
	}
	c.mu.Unlock()

	if parent == nil {
		if i := strings.LastIndexByte(path, '/'); i >= 0 {
			parent = c.stub(path[:i], nil)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.stubs[path]; ok {
		return m
	}
	m := &ModuleStub{
		path:     path,
		parent:   parent,
		cache:    c,
		children: make(map[string]*ModuleStub),
		attrs:    make(map[string]*Dummy),
	}
	c.stubs[path] = m
	if parent != nil {
		parent.link(path[strings.LastIndexByte(path, '/')+1:], m)
	}
	return m
}

func (m *ModuleStub) link(name string, child *ModuleStub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.children[name]; !ok {
		m.children[name] = child
	}
}

// FindModule implements registry.Finder
func (c *stubCache) FindModule(path string) (registry.Module, bool) {
	return c.stub(path, nil), true
}

// FindSymbol implements registry.Finder. It also covers names missing from
// packages that are registered.
func (c *stubCache) FindSymbol(path, name string) (registry.Symbol, bool) {
	return c.stub(path, nil).dummy(name), true
}

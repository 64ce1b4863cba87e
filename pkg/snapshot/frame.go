// Package snapshot captures single stack frames: where execution was and an
// independent copy of every variable bound there.
package snapshot

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// Frame is one stack frame at capture time. Frames are always handled by
// pointer; two frames are the same frame only if they are the same pointer.
type Frame struct {
	CodeLine string            `json:"code_line"`
	FuncName string            `json:"func_name"`
	Function string            `json:"function"`
	Filename string            `json:"filename"`
	Lineno   int               `json:"lineno"`
	Locals   map[string]*Value `json:"locals"`
}

// NewFrame snapshots rf with the given variables. A nil capturer means the
// default deep copier and a nil cache means DefaultSourceCache.
func NewFrame(rf runtime.Frame, locals map[string]any, c Capturer, src *SourceCache) *Frame {
	if c == nil {
		c = NewDeepCopier()
	}
	if src == nil {
		src = DefaultSourceCache
	}

	filename := rf.File
	if abs, err := filepath.Abs(rf.File); err == nil && rf.File != "" {
		filename = abs
	}

	f := &Frame{
		CodeLine: src.Line(rf.File, rf.Line),
		FuncName: ShortFuncName(rf.Function),
		Function: rf.Function,
		Filename: filename,
		Lineno:   rf.Line,
		Locals:   make(map[string]*Value, len(locals)),
	}
	for name, v := range locals {
		f.Locals[name] = c.Capture(name, v)
	}
	return f
}

// Keys returns the names of the captured variables in sorted order
func (f *Frame) Keys() []string {
	keys := make([]string, 0, len(f.Locals))
	for k := range f.Locals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the captured value of a variable
func (f *Frame) Get(name string) (*Value, bool) {
	v, ok := f.Locals[name]
	return v, ok
}

// Len returns the number of captured variables
func (f *Frame) Len() int {
	return len(f.Locals)
}

// Package returns the import path of the frame's function
func (f *Frame) Package() string {
	return PackagePath(f.Function)
}

// String returns a human-readable location
func (f *Frame) String() string {
	return fmt.Sprintf("%s:%d in %s", f.Filename, f.Lineno, f.FuncName)
}

// ShortFuncName strips the package path from a runtime function name:
// "example.com/x/pkg.(*T).M" becomes "(*T).M" and "main.foo" becomes "foo"
func ShortFuncName(fullName string) string {
	name := fullName
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// PackagePath extracts the package path from a runtime function name
func PackagePath(fullName string) string {
	lastSlash := strings.LastIndexByte(fullName, '/')
	if lastSlash < 0 {
		dotIndex := strings.IndexByte(fullName, '.')
		if dotIndex < 0 {
			return ""
		}
		return fullName[:dotIndex]
	}

	funcName := fullName[lastSlash+1:]
	dotIndex := strings.IndexByte(funcName, '.')
	if dotIndex < 0 {
		return ""
	}
	return fullName[:lastSlash+1+dotIndex]
}

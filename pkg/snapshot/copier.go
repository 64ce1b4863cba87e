package snapshot

import (
	"fmt"
	"io"
	"reflect"
	"sort"

	"github.com/willibrandon/tbdump/pkg/registry"
)

// Capturer turns a live variable into an independent Value. Implementations
// must never panic and never fail: anything they cannot copy becomes a
// placeholder carrying the variable name.
type Capturer interface {
	Capture(name string, v any) *Value
}

const (
	DefaultMaxDepth  = 16
	DefaultMaxElems  = 1024
	DefaultMaxString = 64 << 10
)

// DeepCopier copies values recursively through reflection
type DeepCopier struct {
	MaxDepth  int
	MaxElems  int
	MaxString int
}

// NewDeepCopier returns a copier with the default limits
func NewDeepCopier() *DeepCopier {
	return &DeepCopier{
		MaxDepth:  DefaultMaxDepth,
		MaxElems:  DefaultMaxElems,
		MaxString: DefaultMaxString,
	}
}

// Capture implements Capturer
func (c *DeepCopier) Capture(name string, v any) (out *Value) {
	defer func() {
		if r := recover(); r != nil {
			out = placeholder(name, fmt.Sprintf("%T", v), fmt.Sprintf("capture failed: %v", r))
		}
	}()
	w := &walker{
		copier: c,
		name:   name,
		seen:   make(map[visitKey]int),
	}
	return w.walk(reflect.ValueOf(v), 0)
}

// Proxy is implemented by types that are captured through a small stand-in
// value instead of their own fields, such as errors holding stacks and
// reflection state
type Proxy interface {
	CaptureProxy() any
}

var (
	closerType  = reflect.TypeOf((*io.Closer)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	proxyType   = reflect.TypeOf((*Proxy)(nil)).Elem()
	reflectType = reflect.TypeOf((*reflect.Type)(nil)).Elem()
)

// IsOpaque reports whether values of t are handles or synchronization
// state that must not be copied
func IsOpaque(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return true
	}
	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	switch base.PkgPath() {
	case "sync", "sync/atomic", "reflect", "internal/abi", "unsafe":
		return true
	}
	if t.Implements(closerType) {
		return true
	}
	return t.Kind() != reflect.Interface && t.Kind() != reflect.Pointer &&
		reflect.PointerTo(t).Implements(closerType)
}

type visitKey struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type walker struct {
	copier *DeepCopier
	name   string
	seen   map[visitKey]int
	nextID int
}

func placeholder(name, typeName, desc string) *Value {
	return &Value{Kind: Opaque, Name: name, TypeName: typeName, Desc: desc}
}

func (w *walker) limit(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}

func (w *walker) walk(rv reflect.Value, depth int) *Value {
	if !rv.IsValid() {
		return &Value{Kind: Nil}
	}
	t := rv.Type()
	if IsOpaque(t) {
		return placeholder(w.name, t.String(), opaqueDesc(rv))
	}
	if depth > w.limit(w.copier.MaxDepth, DefaultMaxDepth) {
		v := placeholder(w.name, t.String(), "max depth exceeded")
		v.Truncated = true
		return v
	}

	v := w.scalar(rv)
	if v == nil {
		v = w.proxy(rv, depth)
	}
	if v == nil {
		v = w.composite(rv, depth)
	}
	if v.Kind != Opaque && v.Kind != Ref {
		v.TypeName = t.String()
		if t.Name() != "" {
			ref := registry.RefOf(t)
			v.Type = &ref
			v.Class = &registry.TypeInfo{Ref: ref, Type: t}
		}
	}
	return v
}

func (w *walker) scalar(rv reflect.Value) *Value {
	switch rv.Kind() {
	case reflect.Bool:
		return &Value{Kind: Bool, Bool: rv.Bool()}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &Value{Kind: Int, Int: rv.Int()}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return &Value{Kind: Uint, Uint: rv.Uint()}
	case reflect.Float32, reflect.Float64:
		return floatValue(rv.Float())
	case reflect.Complex64, reflect.Complex128:
		return complexValue(rv.Complex())
	case reflect.String:
		s := rv.String()
		max := w.limit(w.copier.MaxString, DefaultMaxString)
		if len(s) > max {
			return &Value{Kind: String, Str: s[:max], Len: len(s), Truncated: true}
		}
		return &Value{Kind: String, Str: s}
	}
	return nil
}

// proxy captures rv through its CaptureProxy stand-in. The result keeps
// rv's type and error text.
func (w *walker) proxy(rv reflect.Value, depth int) *Value {
	t := rv.Type()
	if t.Kind() == reflect.Interface || !rv.CanInterface() || !t.Implements(proxyType) {
		return nil
	}
	if t.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}
	stand, err := standIn(rv.Interface().(Proxy))
	if err != nil {
		return placeholder(w.name, t.String(), err.Error())
	}
	v := w.walk(reflect.ValueOf(stand), depth+1)
	v.Text = errorText(rv)
	v.TypeName = t.String()
	if v.Kind != Opaque && v.Kind != Ref {
		ref := registry.RefOf(t)
		v.Type = &ref
		v.Class = &registry.TypeInfo{Ref: ref, Type: t}
	}
	return v
}

func standIn(p Proxy) (stand any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capture proxy failed: %v", r)
		}
	}()
	return p.CaptureProxy(), nil
}

// opaqueDesc describes an uncopyable value; reflection types are named
func opaqueDesc(rv reflect.Value) string {
	t := rv.Type()
	if rv.CanInterface() && t.Implements(reflectType) {
		if rt, ok := rv.Interface().(reflect.Type); ok && rt != nil {
			return "reflect.Type " + rt.String()
		}
	}
	return "uncopyable " + t.Kind().String()
}

func (w *walker) composite(rv reflect.Value, depth int) *Value {
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return &Value{Kind: Nil}
		}
		key := visitKey{ptr: rv.Pointer(), typ: rv.Type(), len: rv.Len()}
		if id, ok := w.seen[key]; ok {
			return &Value{Kind: Ref, Ref: id}
		}
		v := w.sequence(rv, depth)
		v.ID = w.track(key)
		return v
	case reflect.Array:
		return w.sequence(rv, depth)
	case reflect.Map:
		if rv.IsNil() {
			return &Value{Kind: Nil}
		}
		key := visitKey{ptr: rv.Pointer(), typ: rv.Type()}
		if id, ok := w.seen[key]; ok {
			return &Value{Kind: Ref, Ref: id}
		}
		v := &Value{Kind: Map}
		v.ID = w.track(key)
		w.mapEntries(v, rv, depth)
		return v
	case reflect.Struct:
		v := &Value{Kind: Struct, Fields: make([]Field, 0, rv.NumField())}
		t := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			v.Fields = append(v.Fields, Field{
				Name:  t.Field(i).Name,
				Value: w.walk(rv.Field(i), depth+1),
			})
		}
		v.Text = errorText(rv)
		return v
	case reflect.Pointer:
		if rv.IsNil() {
			return &Value{Kind: Nil}
		}
		key := visitKey{ptr: rv.Pointer(), typ: rv.Type()}
		if id, ok := w.seen[key]; ok {
			return &Value{Kind: Ref, Ref: id}
		}
		v := &Value{Kind: Pointer}
		v.ID = w.track(key)
		v.Elem = w.walk(rv.Elem(), depth+1)
		v.Text = errorText(rv)
		return v
	case reflect.Interface:
		if rv.IsNil() {
			return &Value{Kind: Nil}
		}
		return w.walk(rv.Elem(), depth)
	}
	return placeholder(w.name, rv.Type().String(), "unsupported kind "+rv.Kind().String())
}

func (w *walker) track(key visitKey) int {
	w.nextID++
	w.seen[key] = w.nextID
	return w.nextID
}

func (w *walker) sequence(rv reflect.Value, depth int) *Value {
	n := rv.Len()
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		max := w.limit(w.copier.MaxString, DefaultMaxString)
		v := &Value{Kind: Bytes}
		if n > max {
			n, v.Len, v.Truncated = max, rv.Len(), true
		}
		v.Bytes = make([]byte, n)
		for i := 0; i < n; i++ {
			v.Bytes[i] = byte(rv.Index(i).Uint())
		}
		return v
	}

	v := &Value{Kind: Slice}
	if max := w.limit(w.copier.MaxElems, DefaultMaxElems); n > max {
		n, v.Len, v.Truncated = max, rv.Len(), true
	}
	v.Elems = make([]*Value, 0, n)
	for i := 0; i < n; i++ {
		v.Elems = append(v.Elems, w.walk(rv.Index(i), depth+1))
	}
	return v
}

func (w *walker) mapEntries(v *Value, rv reflect.Value, depth int) {
	max := w.limit(w.copier.MaxElems, DefaultMaxElems)
	iter := rv.MapRange()
	for iter.Next() {
		if len(v.Entries) == max {
			v.Len, v.Truncated = rv.Len(), true
			break
		}
		v.Entries = append(v.Entries, Entry{
			Key:   w.walk(iter.Key(), depth+1),
			Value: w.walk(iter.Value(), depth+1),
		})
	}
	sort.SliceStable(v.Entries, func(i, j int) bool {
		return sortKey(v.Entries[i].Key) < sortKey(v.Entries[j].Key)
	})
}

func sortKey(v *Value) string {
	return fmt.Sprintf("%02d|%s", int(v.Kind), v.String())
}

// errorText renders error values. Only exported, interfaceable values are
// asked; a panicking Error method yields no text.
func errorText(rv reflect.Value) (text string) {
	if !rv.CanInterface() || !rv.Type().Implements(errorType) {
		return ""
	}
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return ""
	}
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	return rv.Interface().(error).Error()
}

package snapshot

import (
	"fmt"
	"math"
	"strconv"

	"github.com/willibrandon/tbdump/pkg/registry"
)

// Kind identifies the shape of a captured value
type Kind int

const (
	Nil Kind = iota
	Bool
	Int
	Uint
	Float
	Complex
	String
	Bytes
	Slice
	Map
	Struct
	Pointer
	// Ref points back at an already captured pointer, map or slice node
	Ref
	// Opaque is the placeholder for anything that could not be copied
	Opaque
)

var kindNames = [...]string{
	Nil:     "nil",
	Bool:    "bool",
	Int:     "int",
	Uint:    "uint",
	Float:   "float",
	Complex: "complex",
	String:  "string",
	Bytes:   "bytes",
	Slice:   "slice",
	Map:     "map",
	Struct:  "struct",
	Pointer: "pointer",
	Ref:     "ref",
	Opaque:  "opaque",
}

// String returns the string representation of the Kind
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// MarshalText encodes the kind by name
func (k Kind) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(kindNames) {
		return nil, fmt.Errorf("unknown value kind %d", int(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a kind name
func (k *Kind) UnmarshalText(text []byte) error {
	for i, name := range kindNames {
		if name == string(text) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown value kind %q", text)
}

// Value is a captured, independent copy of a Go value. It is an inspection
// proxy only: nothing in it can be turned back into the original value.
type Value struct {
	Kind     Kind              `json:"kind"`
	TypeName string            `json:"type_name,omitempty"`
	Type     *registry.TypeRef `json:"type,omitempty"`

	Bool  bool    `json:"bool,omitempty"`
	Int   int64   `json:"int,omitempty"`
	Uint  uint64  `json:"uint,omitempty"`
	Float float64 `json:"float,omitempty"`
	Imag  float64 `json:"imag,omitempty"`
	Str   string  `json:"str,omitempty"`
	Bytes []byte  `json:"bytes,omitempty"`

	Elems   []*Value `json:"elems,omitempty"`
	Entries []Entry  `json:"entries,omitempty"`
	Fields  []Field  `json:"fields,omitempty"`
	Elem    *Value   `json:"elem,omitempty"`

	ID        int  `json:"id,omitempty"`
	Ref       int  `json:"ref,omitempty"`
	Len       int  `json:"len,omitempty"`
	Truncated bool `json:"truncated,omitempty"`

	// Name is the variable a placeholder stands for
	Name string `json:"name,omitempty"`
	Desc string `json:"desc,omitempty"`
	// Text is the Error() rendering of error values
	Text string `json:"text,omitempty"`

	// Class is the resolved Type; set at capture time and again on load
	Class registry.Symbol `json:"-"`
}

// Entry is one key/value pair of a captured map
type Entry struct {
	Key   *Value `json:"key"`
	Value *Value `json:"value"`
}

// Field is one struct field of a captured struct
type Field struct {
	Name  string `json:"name"`
	Value *Value `json:"value"`
}

// IsPlaceholder reports whether the value stands in for something that
// could not be copied
func (v *Value) IsPlaceholder() bool {
	return v != nil && v.Kind == Opaque
}

// FloatValue returns the float, including non-finite values stored as text
func (v *Value) FloatValue() float64 {
	if v.Str != "" {
		f, err := strconv.ParseFloat(v.Str, 64)
		if err == nil {
			return f
		}
	}
	return v.Float
}

// ComplexValue returns the complex number, including non-finite parts
func (v *Value) ComplexValue() complex128 {
	if v.Str != "" {
		c, err := strconv.ParseComplex(v.Str, 128)
		if err == nil {
			return c
		}
	}
	return complex(v.Float, v.Imag)
}

// Field returns the named struct field
func (v *Value) Field(name string) (*Value, bool) {
	for _, f := range v.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Walk calls fn for v and every value reachable from it
func (v *Value) Walk(fn func(*Value)) {
	if v == nil {
		return
	}
	fn(v)
	for _, e := range v.Elems {
		e.Walk(fn)
	}
	for _, e := range v.Entries {
		e.Key.Walk(fn)
		e.Value.Walk(fn)
	}
	for _, f := range v.Fields {
		f.Value.Walk(fn)
	}
	v.Elem.Walk(fn)
}

// String renders a short, single line description
func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	switch v.Kind {
	case Nil:
		return "nil"
	case Bool:
		return strconv.FormatBool(v.Bool)
	case Int:
		return strconv.FormatInt(v.Int, 10)
	case Uint:
		return strconv.FormatUint(v.Uint, 10)
	case Float:
		return strconv.FormatFloat(v.FloatValue(), 'g', -1, 64)
	case Complex:
		return strconv.FormatComplex(v.ComplexValue(), 'g', -1, 128)
	case String:
		return strconv.Quote(v.Str)
	case Bytes:
		return fmt.Sprintf("%s(%d bytes)", v.TypeName, len(v.Bytes))
	case Slice:
		return fmt.Sprintf("%s(len=%d)", v.TypeName, v.length())
	case Map:
		return fmt.Sprintf("%s(len=%d)", v.TypeName, v.length())
	case Struct:
		if v.Text != "" {
			return fmt.Sprintf("%s(%q)", v.TypeName, v.Text)
		}
		return v.TypeName + "{...}"
	case Pointer:
		if v.Text != "" {
			return fmt.Sprintf("%s(%q)", v.TypeName, v.Text)
		}
		return "&" + v.Elem.String()
	case Ref:
		return fmt.Sprintf("<ref #%d>", v.Ref)
	case Opaque:
		return fmt.Sprintf("<%s %s>", v.Name, v.Desc)
	}
	return "<" + v.Kind.String() + ">"
}

func (v *Value) length() int {
	if v.Truncated {
		return v.Len
	}
	if v.Kind == Map {
		return len(v.Entries)
	}
	return len(v.Elems)
}

func floatValue(f float64) *Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &Value{Kind: Float, Str: strconv.FormatFloat(f, 'g', -1, 64)}
	}
	return &Value{Kind: Float, Float: f}
}

func complexValue(c complex128) *Value {
	re, im := real(c), imag(c)
	if math.IsNaN(re) || math.IsInf(re, 0) || math.IsNaN(im) || math.IsInf(im, 0) {
		return &Value{Kind: Complex, Str: strconv.FormatComplex(c, 'g', -1, 128)}
	}
	return &Value{Kind: Complex, Float: re, Imag: im}
}

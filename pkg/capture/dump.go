package capture

import (
	"fmt"
	"strings"
	"time"

	"github.com/willibrandon/tbdump/pkg/registry"
	"github.com/willibrandon/tbdump/pkg/snapshot"
)

// Dump is the captured state of one error chain
type Dump struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	System  System    `json:"system"`
	// Exceptions lists the chain root cause first, outermost last
	Exceptions []*Exception `json:"exceptions"`
}

// Exception is one link of a captured chain
type Exception struct {
	Type registry.TypeRef `json:"type"`
	// Class is the resolved Type: the real type at capture time, and the
	// registry resolution result after a load
	Class  registry.Symbol   `json:"-"`
	Str    string            `json:"str"`
	Frames []*snapshot.Frame `json:"frames"`
	Panic  bool              `json:"panic,omitempty"`
}

// Len returns the number of exceptions in the dump
func (d *Dump) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Exceptions)
}

// Root returns the root cause, or nil for an empty dump
func (d *Dump) Root() *Exception {
	if d.Len() == 0 {
		return nil
	}
	return d.Exceptions[0]
}

// Last returns the outermost exception, or nil for an empty dump
func (d *Dump) Last() *Exception {
	if d.Len() == 0 {
		return nil
	}
	return d.Exceptions[len(d.Exceptions)-1]
}

// Values calls fn for every captured value in the dump
func (d *Dump) Values(fn func(*snapshot.Value)) {
	if d == nil {
		return
	}
	for _, e := range d.Exceptions {
		for _, f := range e.Frames {
			for _, v := range f.Locals {
				v.Walk(fn)
			}
		}
	}
}

func (d *Dump) String() string {
	var b strings.Builder
	for i, e := range d.Exceptions {
		if i > 0 {
			b.WriteString("\nThe above error caused the following error:\n\n")
		}
		b.WriteString(e.Format())
	}
	return b.String()
}

// Len returns the number of frames
func (e *Exception) Len() int { return len(e.Frames) }

// Frame returns the i-th frame, outermost first, or nil if out of range
func (e *Exception) Frame(i int) *snapshot.Frame {
	if i < 0 || i >= len(e.Frames) {
		return nil
	}
	return e.Frames[i]
}

func (e *Exception) String() string {
	if e.Str == "" {
		return e.Type.String()
	}
	return e.Type.String() + ": " + e.Str
}

// Format renders the exception as a traceback, outermost frame first
func (e *Exception) Format() string {
	var b strings.Builder
	b.WriteString("Traceback (most recent call last):\n")
	for _, f := range e.Frames {
		fmt.Fprintf(&b, "  File %q, line %d, in %s\n", f.Filename, f.Lineno, f.FuncName)
		if f.CodeLine != "" {
			fmt.Fprintf(&b, "    %s\n", f.CodeLine)
		}
	}
	b.WriteString(e.String())
	b.WriteByte('\n')
	return b.String()
}

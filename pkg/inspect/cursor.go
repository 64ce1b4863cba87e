// Package inspect walks a loaded dump the way a post-mortem debugger walks
// a dead program: one exception and one frame at a time.
package inspect

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/willibrandon/tbdump/pkg/capture"
	"github.com/willibrandon/tbdump/pkg/snapshot"
)

var (
	// ErrOutOfRange is returned when a move would leave the dump
	ErrOutOfRange = errors.New("no such frame or exception")
	// ErrEmptyDump is returned for a dump without exceptions
	ErrEmptyDump = errors.New("dump has no exceptions")
)

// Cursor is a position in a dump: an exception and one of its frames. A
// cursor starts at the innermost frame of the outermost exception.
type Cursor struct {
	dump        *capture.Dump
	exc         int
	frame       int
	breakpoints *BreakpointManager
}

// NewCursor positions a cursor on d
func NewCursor(d *capture.Dump) (*Cursor, error) {
	if d.Len() == 0 {
		return nil, ErrEmptyDump
	}
	c := &Cursor{dump: d, breakpoints: NewBreakpointManager()}
	c.exc = d.Len() - 1
	c.Bottom()
	return c, nil
}

// Dump returns the dump the cursor walks
func (c *Cursor) Dump() *capture.Dump { return c.dump }

// Breakpoints returns the cursor's breakpoints
func (c *Cursor) Breakpoints() *BreakpointManager { return c.breakpoints }

// Exception returns the selected exception
func (c *Cursor) Exception() *capture.Exception { return c.dump.Exceptions[c.exc] }

// ExceptionIndex returns the selected exception, root cause being 0
func (c *Cursor) ExceptionIndex() int { return c.exc }

// Frame returns the selected frame, or nil when the exception has none
func (c *Cursor) Frame() *snapshot.Frame { return c.Exception().Frame(c.frame) }

// FrameIndex returns the selected frame, outermost being 0
func (c *Cursor) FrameIndex() int { return c.frame }

// SelectException moves to exception i and its innermost frame
func (c *Cursor) SelectException(i int) error {
	if i < 0 || i >= c.dump.Len() {
		return errors.Wrapf(ErrOutOfRange, "exception %d", i)
	}
	c.exc = i
	c.Bottom()
	return nil
}

// Cause moves to the exception the selected one was raised from
func (c *Cursor) Cause() error { return c.SelectException(c.exc - 1) }

// Context moves to the exception raised while handling the selected one
func (c *Cursor) Context() error { return c.SelectException(c.exc + 1) }

// Up moves one frame toward the outermost frame
func (c *Cursor) Up() error { return c.SelectFrame(c.frame - 1) }

// Down moves one frame toward where the exception was raised
func (c *Cursor) Down() error { return c.SelectFrame(c.frame + 1) }

// SelectFrame moves to frame i of the selected exception
func (c *Cursor) SelectFrame(i int) error {
	if i < 0 || i >= c.Exception().Len() {
		return errors.Wrapf(ErrOutOfRange, "frame %d", i)
	}
	c.frame = i
	return nil
}

// Top moves to the outermost frame
func (c *Cursor) Top() { c.frame = 0 }

// Bottom moves to the innermost frame
func (c *Cursor) Bottom() {
	c.frame = max(c.Exception().Len()-1, 0)
}

// Local returns a variable of the selected frame
func (c *Cursor) Local(name string) (*snapshot.Value, bool) {
	f := c.Frame()
	if f == nil {
		return nil, false
	}
	return f.Get(name)
}

// Locals returns the variable names of the selected frame
func (c *Cursor) Locals() []string {
	f := c.Frame()
	if f == nil {
		return nil
	}
	return f.Keys()
}

// Continue moves forward, root cause first and outer frames first, to the
// next position a breakpoint matches. It reports the breakpoint hit, or
// false when no later position matches; the cursor stays put then.
func (c *Cursor) Continue() (*Breakpoint, bool) {
	exc, frame := c.exc, c.frame+1
	for exc < c.dump.Len() {
		x := c.dump.Exceptions[exc]
		for ; frame < x.Len(); frame++ {
			if bp, ok := c.breakpoints.Check(x, x.Frame(frame)); ok {
				c.exc, c.frame = exc, frame
				return bp, true
			}
		}
		exc, frame = exc+1, 0
	}
	return nil, false
}

// Rewind moves in front of the outermost frame of the root cause, so the
// next Continue considers every position
func (c *Cursor) Rewind() {
	c.exc, c.frame = 0, -1
}

// Where renders the selected exception's traceback with the selected
// frame marked
func (c *Cursor) Where() string {
	var b strings.Builder
	x := c.Exception()
	fmt.Fprintf(&b, "exception %d/%d: %s\n", c.exc+1, c.dump.Len(), x)
	for i, f := range x.Frames {
		marker := "  "
		if i == c.frame {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%s:%d in %s\n", marker, f.Filename, f.Lineno, f.FuncName)
		if f.CodeLine != "" {
			fmt.Fprintf(&b, "      %s\n", f.CodeLine)
		}
	}
	return b.String()
}

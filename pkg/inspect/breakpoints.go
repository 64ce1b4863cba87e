package inspect

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/willibrandon/tbdump/pkg/capture"
	"github.com/willibrandon/tbdump/pkg/snapshot"
)

// BreakpointType defines the type of breakpoint
type BreakpointType int

const (
	// LocationBreakpoint stops at a specific file:line
	LocationBreakpoint BreakpointType = iota
	// FunctionBreakpoint stops at frames of a function
	FunctionBreakpoint
	// TypeBreakpoint stops at exceptions of a type
	TypeBreakpoint
)

// Breakpoint is a frame or exception to stop at while walking a dump
type Breakpoint struct {
	ID        int
	Type      BreakpointType
	File      string // For LocationBreakpoint
	Line      int    // For LocationBreakpoint
	Function  string // For FunctionBreakpoint
	ErrorType string // For TypeBreakpoint
	Enabled   bool
}

func (bp *Breakpoint) String() string {
	switch bp.Type {
	case LocationBreakpoint:
		return fmt.Sprintf("#%d %s:%d", bp.ID, bp.File, bp.Line)
	case FunctionBreakpoint:
		return fmt.Sprintf("#%d func:%s", bp.ID, bp.Function)
	}
	return fmt.Sprintf("#%d type:%s", bp.ID, bp.ErrorType)
}

// Matches reports whether the breakpoint stops at frame f of exception x
func (bp *Breakpoint) Matches(x *capture.Exception, f *snapshot.Frame) bool {
	if !bp.Enabled {
		return false
	}
	switch bp.Type {
	case LocationBreakpoint:
		return f != nil && f.Lineno == bp.Line && sameFile(f.Filename, bp.File)
	case FunctionBreakpoint:
		return f != nil && (f.FuncName == bp.Function || f.Function == bp.Function)
	case TypeBreakpoint:
		return x != nil && (x.Type.Name == bp.ErrorType || x.Type.String() == bp.ErrorType)
	}
	return false
}

// sameFile matches a full path, or a suffix of it on a path boundary
func sameFile(full, want string) bool {
	full, want = filepath.ToSlash(full), filepath.ToSlash(want)
	return full == want || strings.HasSuffix(full, "/"+want)
}

// BreakpointManager manages the breakpoints of a cursor
type BreakpointManager struct {
	breakpoints []*Breakpoint
	nextID      int
}

// NewBreakpointManager creates an empty breakpoint manager
func NewBreakpointManager() *BreakpointManager {
	return &BreakpointManager{
		breakpoints: make([]*Breakpoint, 0),
		nextID:      1,
	}
}

// AddBreakpoint parses "func:name", "type:name" or "file:line"
func (bm *BreakpointManager) AddBreakpoint(location string) (*Breakpoint, error) {
	bp := &Breakpoint{Enabled: true}

	switch {
	case strings.HasPrefix(location, "func:"):
		bp.Type = FunctionBreakpoint
		bp.Function = strings.TrimPrefix(location, "func:")
	case strings.HasPrefix(location, "type:"):
		bp.Type = TypeBreakpoint
		bp.ErrorType = strings.TrimPrefix(location, "type:")
	default:
		// Find the last colon to handle Windows paths (e.g., C:/path/to/file.go:42)
		lastColonIndex := strings.LastIndex(location, ":")
		if lastColonIndex <= 0 {
			return nil, fmt.Errorf("invalid location format: %s", location)
		}
		line, err := strconv.Atoi(location[lastColonIndex+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid line number: %v", err)
		}
		bp.Type = LocationBreakpoint
		bp.File = location[:lastColonIndex]
		bp.Line = line
	}

	bp.ID = bm.nextID
	bm.nextID++
	bm.breakpoints = append(bm.breakpoints, bp)
	return bp, nil
}

// Breakpoints returns all breakpoints
func (bm *BreakpointManager) Breakpoints() []*Breakpoint {
	return bm.breakpoints
}

// RemoveBreakpoint removes a breakpoint by ID
func (bm *BreakpointManager) RemoveBreakpoint(id int) error {
	for i, bp := range bm.breakpoints {
		if bp.ID == id {
			bm.breakpoints = append(bm.breakpoints[:i], bm.breakpoints[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("breakpoint %d not found", id)
}

// EnableBreakpoint enables a breakpoint by ID
func (bm *BreakpointManager) EnableBreakpoint(id int) error {
	return bm.setEnabled(id, true)
}

// DisableBreakpoint disables a breakpoint by ID
func (bm *BreakpointManager) DisableBreakpoint(id int) error {
	return bm.setEnabled(id, false)
}

func (bm *BreakpointManager) setEnabled(id int, enabled bool) error {
	for _, bp := range bm.breakpoints {
		if bp.ID == id {
			bp.Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("breakpoint %d not found", id)
}

// Check returns the first enabled breakpoint matching frame f of x
func (bm *BreakpointManager) Check(x *capture.Exception, f *snapshot.Frame) (*Breakpoint, bool) {
	for _, bp := range bm.breakpoints {
		if bp.Matches(x, f) {
			return bp, true
		}
	}
	return nil, false
}

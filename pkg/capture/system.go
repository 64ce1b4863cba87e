package capture

import (
	"os"
	"runtime"
)

// System holds facts about the environment a dump was taken in
type System struct {
	GoVersion  string   `json:"go.version" yaml:"go.version"`
	OSName     string   `json:"os.name" yaml:"os.name"`
	Arch       string   `json:"arch" yaml:"arch"`
	Uname      []string `json:"os.uname" yaml:"os.uname"`
	Hostname   string   `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	PID        int      `json:"pid,omitempty" yaml:"pid,omitempty"`
	Executable string   `json:"executable,omitempty" yaml:"executable,omitempty"`
}

// CurrentSystem describes the running process
func CurrentSystem() System {
	s := System{
		GoVersion: runtime.Version(),
		OSName:    runtime.GOOS,
		Arch:      runtime.GOARCH,
		Uname:     uname(),
		PID:       os.Getpid(),
	}
	if host, err := os.Hostname(); err == nil {
		s.Hostname = host
	}
	if exe, err := os.Executable(); err == nil {
		s.Executable = exe
	}
	return s
}

// Map returns the facts keyed the way they are serialized
func (s System) Map() map[string]any {
	return map[string]any{
		"go.version": s.GoVersion,
		"os.name":    s.OSName,
		"arch":       s.Arch,
		"os.uname":   s.Uname,
		"hostname":   s.Hostname,
		"pid":        s.PID,
		"executable": s.Executable,
	}
}

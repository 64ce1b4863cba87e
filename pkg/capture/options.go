package capture

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/willibrandon/tbdump/pkg/snapshot"
)

// Options configures a capture
type Options struct {
	// Capturer copies frame variables; nil means a DeepCopier with the limits below
	Capturer snapshot.Capturer
	// Source reads code lines; nil means snapshot.DefaultSourceCache
	Source *snapshot.SourceCache

	MaxDepth  int
	MaxElems  int
	MaxString int
	MaxChain  int

	// FullStack keeps the whole stack of the outermost error instead of
	// starting at the frame that called Capture
	FullStack bool

	// IncludePackages lists package patterns whose frames are kept.
	// Empty means all packages.
	IncludePackages []string
	// ExcludePackages lists package patterns whose frames are dropped.
	// This takes precedence over IncludePackages.
	ExcludePackages []string
	// IncludeStdlib keeps frames from the standard library
	IncludeStdlib bool

	skip int
}

// Option adjusts Options for a single Capture call
type Option func(*Options)

// DefaultOptions returns the default capture options
func DefaultOptions() Options {
	return Options{
		MaxDepth:        snapshot.DefaultMaxDepth,
		MaxElems:        snapshot.DefaultMaxElems,
		MaxString:       snapshot.DefaultMaxString,
		MaxChain:        DefaultMaxChain,
		IncludePackages: []string{},
		ExcludePackages: []string{},
		IncludeStdlib:   true,
	}
}

var (
	optionsMu      sync.RWMutex
	currentOptions = OptionsFromEnvironment(DefaultOptions())
)

// CurrentOptions returns the process-wide capture options
func CurrentOptions() Options {
	optionsMu.RLock()
	defer optionsMu.RUnlock()
	return currentOptions
}

// SetOptions replaces the process-wide capture options
func SetOptions(o Options) {
	optionsMu.Lock()
	defer optionsMu.Unlock()
	currentOptions = o
}

// OptionsFromEnvironment overlays the TBDUMP_* environment variables on base
func OptionsFromEnvironment(base Options) Options {
	options := base

	// TBDUMP_MAX_DEPTH, TBDUMP_MAX_ELEMS, TBDUMP_MAX_STRING and
	// TBDUMP_MAX_CHAIN bound the copy of each variable and the chain walk
	envInt("TBDUMP_MAX_DEPTH", &options.MaxDepth)
	envInt("TBDUMP_MAX_ELEMS", &options.MaxElems)
	envInt("TBDUMP_MAX_STRING", &options.MaxString)
	envInt("TBDUMP_MAX_CHAIN", &options.MaxChain)

	// TBDUMP_INCLUDE controls which packages' frames are kept
	if includes := os.Getenv("TBDUMP_INCLUDE"); includes != "" {
		options.IncludePackages = splitList(includes)
	}

	// TBDUMP_EXCLUDE controls which packages' frames are dropped
	if excludes := os.Getenv("TBDUMP_EXCLUDE"); excludes != "" {
		options.ExcludePackages = splitList(excludes)
	}

	// TBDUMP_STDLIB controls whether standard library frames are kept
	if stdlib := os.Getenv("TBDUMP_STDLIB"); stdlib != "" {
		options.IncludeStdlib = parseBool(stdlib)
	}

	// TBDUMP_FULL_STACK keeps frames above the capturing function
	if full := os.Getenv("TBDUMP_FULL_STACK"); full != "" {
		options.FullStack = parseBool(full)
	}

	return options
}

// WithCapturer sets the value capture strategy
func WithCapturer(c snapshot.Capturer) Option {
	return func(o *Options) { o.Capturer = c }
}

// WithSourceCache sets the cache used to read code lines
func WithSourceCache(src *snapshot.SourceCache) Option {
	return func(o *Options) { o.Source = src }
}

// WithMaxChain bounds the chain walk
func WithMaxChain(n int) Option {
	return func(o *Options) { o.MaxChain = n }
}

// WithFilter sets the package include and exclude patterns
func WithFilter(include, exclude []string) Option {
	return func(o *Options) {
		o.IncludePackages = include
		o.ExcludePackages = exclude
	}
}

// WithStdlib keeps or drops standard library frames
func WithStdlib(keep bool) Option {
	return func(o *Options) { o.IncludeStdlib = keep }
}

// FullStack keeps the whole stack of the outermost error
func FullStack() Option {
	return func(o *Options) { o.FullStack = true }
}

// CallerSkip skips n additional frames when locating the capturing frame,
// for helpers that call Capture on behalf of their caller
func CallerSkip(n int) Option {
	return func(o *Options) { o.skip += n }
}

func (o *Options) capturer() snapshot.Capturer {
	if o.Capturer != nil {
		return o.Capturer
	}
	return &snapshot.DeepCopier{
		MaxDepth:  o.MaxDepth,
		MaxElems:  o.MaxElems,
		MaxString: o.MaxString,
	}
}

// ShouldInclude reports whether frames of the given package are kept
func (o *Options) ShouldInclude(packagePath string) bool {
	if isStdlib(packagePath) && !o.IncludeStdlib {
		return false
	}

	for _, exclude := range o.ExcludePackages {
		if matchesPackagePath(packagePath, exclude) {
			return false
		}
	}

	if len(o.IncludePackages) == 0 {
		return true
	}

	for _, include := range o.IncludePackages {
		if matchesPackagePath(packagePath, include) {
			return true
		}
	}

	return false
}

// isStdlib treats dotless first path elements as the standard library,
// except for the main package
func isStdlib(packagePath string) bool {
	if packagePath == "" || packagePath == "main" {
		return false
	}
	first, _, _ := strings.Cut(packagePath, "/")
	return !strings.Contains(first, ".")
}

// matchesPackagePath checks if a package matches a pattern
func matchesPackagePath(packagePath, pattern string) bool {
	if strings.HasSuffix(pattern, "...") {
		prefix := strings.TrimSuffix(pattern, "...")
		return strings.HasPrefix(packagePath, prefix)
	}

	matched, _ := filepath.Match(pattern, packagePath)
	return matched
}

func envInt(name string, dst *int) {
	if s := os.Getenv(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			*dst = n
		}
	}
}

func parseBool(s string) bool {
	return s == "1" || s == "true" || s == "yes"
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

package snapshot

import (
	"bytes"
	"os"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultSourceCacheSize is the number of source files kept in memory
const DefaultSourceCacheSize = 64

// DefaultSourceCache is shared by frames captured without an explicit cache
var DefaultSourceCache = NewSourceCache(DefaultSourceCacheSize)

// SourceCache reads source lines for frames, keeping recently used files
type SourceCache struct {
	files *lru.Cache
}

// NewSourceCache creates a cache holding up to size files
func NewSourceCache(size int) *SourceCache {
	if size <= 0 {
		size = DefaultSourceCacheSize
	}
	files, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return &SourceCache{files: files}
}

// Line returns the trimmed text of a 1-based line, or "" when the file
// cannot be read or is shorter than lineno
func (s *SourceCache) Line(file string, lineno int) string {
	if file == "" || lineno <= 0 {
		return ""
	}
	lines := s.lines(file)
	if lineno > len(lines) {
		return ""
	}
	return string(bytes.TrimSpace(lines[lineno-1]))
}

// Purge drops every cached file
func (s *SourceCache) Purge() {
	s.files.Purge()
}

func (s *SourceCache) lines(file string) [][]byte {
	if cached, ok := s.files.Get(file); ok {
		return cached.([][]byte)
	}
	var lines [][]byte
	if data, err := os.ReadFile(file); err == nil {
		lines = bytes.Split(data, []byte{'\n'})
	}
	// Unreadable files are cached as empty so a missing tree is read once
	s.files.Add(file, lines)
	return lines
}

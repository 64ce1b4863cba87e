package dump

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/willibrandon/tbdump/pkg/capture"
)

// Store keeps one dump
type Store interface {
	Save(d *capture.Dump) error
	Load() (*capture.Dump, error)
}

// ErrEmptyStore is returned by Load before anything was saved
var ErrEmptyStore = errors.New("store is empty")

// MemoryStore keeps the encoded dump in memory, so loading returns a copy
// that shares nothing with the saved dump
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
	opts Options
}

// NewMemoryStore creates a memory store with default options
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithOptions(DefaultOptions())
}

// NewMemoryStoreWithOptions creates a memory store with the given options
func NewMemoryStoreWithOptions(opts Options) *MemoryStore {
	return &MemoryStore{opts: opts}
}

// Save encodes d, replacing any earlier dump
func (s *MemoryStore) Save(d *capture.Dump) error {
	b, err := Marshal(d, s.opts)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = b
	return nil
}

// Load decodes the saved dump
func (s *MemoryStore) Load() (*capture.Dump, error) {
	s.mu.Lock()
	b := s.data
	s.mu.Unlock()
	if b == nil {
		return nil, ErrEmptyStore
	}
	return Unmarshal(b, s.opts)
}

// Bytes returns the encoded dump
func (s *MemoryStore) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// FileStore keeps one dump in a file
type FileStore struct {
	path string
	opts Options
}

// NewFileStore creates a file store with default options
func NewFileStore(path string) *FileStore {
	return NewFileStoreWithOptions(path, DefaultOptions())
}

// NewFileStoreWithOptions creates a file store with the given options
func NewFileStoreWithOptions(path string, opts Options) *FileStore {
	return &FileStore{path: path, opts: opts}
}

// Path returns the file the store writes
func (s *FileStore) Path() string { return s.path }

// Save encodes d and replaces the file atomically: the dump is written to
// a temporary file in the same directory which is then renamed
func (s *FileStore) Save(d *capture.Dump) error {
	b, err := Marshal(d, s.opts)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "creating temporary dump file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing dump")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "syncing dump")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing dump")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Wrap(err, "renaming dump")
	}

	logger().Debug("dump saved", "id", d.ID, "path", s.path, "bytes", len(b))
	return nil
}

// Load reads the file in one call and decodes it
func (s *FileStore) Load() (*capture.Dump, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "reading dump")
	}
	return Unmarshal(b, s.opts)
}

// LoadFile reads a dump from path
func LoadFile(path string, opts Options) (*capture.Dump, error) {
	return NewFileStoreWithOptions(path, opts).Load()
}

// VerifyFile checks that the dump at path decodes with opts, including its
// integrity tag when it has one. It returns the header it found.
func VerifyFile(path string, opts Options) (Header, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Header{}, errors.Wrap(err, "reading dump")
	}
	h, err := ParseHeader(b)
	if err != nil {
		return Header{}, err
	}
	if _, err := decode(b, opts); err != nil {
		return h, err
	}
	return h, nil
}

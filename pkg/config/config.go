// Package config reads tbdump settings from a YAML file and the TBDUMP_*
// environment variables. The environment overrides the file.
package config

import (
	"encoding/hex"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/willibrandon/tbdump/pkg/capture"
	"github.com/willibrandon/tbdump/pkg/dump"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Capture CaptureConfig `yaml:"capture"`
	Store   StoreConfig   `yaml:"store"`
}

// CaptureConfig bounds what a capture records
type CaptureConfig struct {
	MaxDepth  int      `yaml:"max_depth"`
	MaxElems  int      `yaml:"max_elems"`
	MaxString int      `yaml:"max_string"`
	MaxChain  int      `yaml:"max_chain"`
	FullStack bool     `yaml:"full_stack"`
	Include   []string `yaml:"include"`
	Exclude   []string `yaml:"exclude"`
	Stdlib    *bool    `yaml:"stdlib"`
}

// StoreConfig controls how dumps are written
type StoreConfig struct {
	Path        string   `yaml:"path"`
	Compression string   `yaml:"compression"` // none | zstd
	Redact      []string `yaml:"redact"`
	Replacement string   `yaml:"replacement"`
	// Keys are hex encoded
	EncryptionKey string `yaml:"encryption_key"`
	IntegrityKey  string `yaml:"integrity_key"`
}

// Default returns the configuration used without a file
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path, then applies the environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnvironment()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Compression == "" {
		c.Store.Compression = dump.DefaultCompression.String()
	}
	if c.Store.Path == "" {
		c.Store.Path = "tbdump.dump"
	}
}

func (c *Config) applyEnvironment() {
	// TBDUMP_COMPRESSION selects the payload compression
	if v := os.Getenv("TBDUMP_COMPRESSION"); v != "" {
		c.Store.Compression = v
	}
	// TBDUMP_REDACT lists name patterns whose values are masked
	if v := os.Getenv("TBDUMP_REDACT"); v != "" {
		c.Store.Redact = splitList(v)
	}
	if v := os.Getenv("TBDUMP_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("TBDUMP_ENCRYPTION_KEY"); v != "" {
		c.Store.EncryptionKey = v
	}
	if v := os.Getenv("TBDUMP_INTEGRITY_KEY"); v != "" {
		c.Store.IntegrityKey = v
	}
}

// CaptureOptions returns the capture options of the file with the
// TBDUMP_* capture variables applied on top
func (c *Config) CaptureOptions() capture.Options {
	o := capture.DefaultOptions()
	cc := c.Capture
	if cc.MaxDepth > 0 {
		o.MaxDepth = cc.MaxDepth
	}
	if cc.MaxElems > 0 {
		o.MaxElems = cc.MaxElems
	}
	if cc.MaxString > 0 {
		o.MaxString = cc.MaxString
	}
	if cc.MaxChain > 0 {
		o.MaxChain = cc.MaxChain
	}
	o.FullStack = cc.FullStack
	if len(cc.Include) > 0 {
		o.IncludePackages = cc.Include
	}
	if len(cc.Exclude) > 0 {
		o.ExcludePackages = cc.Exclude
	}
	if cc.Stdlib != nil {
		o.IncludeStdlib = *cc.Stdlib
	}
	return capture.OptionsFromEnvironment(o)
}

// DumpOptions returns the encoding options for stored dumps
func (c *Config) DumpOptions() (dump.Options, error) {
	o := dump.DefaultOptions()

	compression, err := dump.ParseCompression(c.Store.Compression)
	if err != nil {
		return o, err
	}
	o.Compression = compression

	if len(c.Store.Redact) > 0 {
		dump.WithRedaction(c.Store.Redact, c.Store.Replacement)(&o.Security)
	}
	if c.Store.EncryptionKey != "" {
		key, err := hex.DecodeString(c.Store.EncryptionKey)
		if err != nil {
			return o, errors.Wrap(err, "decoding encryption key")
		}
		dump.WithEncryption(key)(&o.Security)
	}
	if c.Store.IntegrityKey != "" {
		key, err := hex.DecodeString(c.Store.IntegrityKey)
		if err != nil {
			return o, errors.Wrap(err, "decoding integrity key")
		}
		dump.WithIntegrityCheck(key)(&o.Security)
	}
	return o, nil
}

// FileStore returns a file store at the configured path
func (c *Config) FileStore() (*dump.FileStore, error) {
	opts, err := c.DumpOptions()
	if err != nil {
		return nil, err
	}
	return dump.NewFileStoreWithOptions(c.Store.Path, opts), nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

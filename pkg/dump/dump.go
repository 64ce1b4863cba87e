// Package dump stores captured error chains and loads them back, possibly
// in a process that lacks the packages the errors and variables came from.
package dump

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/willibrandon/tbdump/pkg/capture"
)

// Magic opens every stored dump
const Magic = "TBDUMP"

const formatVersion = 1

// Header flags
const (
	FlagZstd byte = 1 << iota
	FlagEncrypted
	FlagHMAC

	knownFlags = FlagZstd | FlagEncrypted | FlagHMAC
)

const headerSize = len(Magic) + 2

var (
	// ErrCorruptDump reports a byte stream that is not a valid dump
	ErrCorruptDump = errors.New("corrupt dump")
	// ErrKeyRequired reports a protected dump read without the key it needs
	ErrKeyRequired = errors.New("dump is protected and no key was given")
	// ErrBadKey reports an encrypted dump that does not open with the
	// given key, either because the key is wrong or the payload was altered
	ErrBadKey = errors.New("wrong key or tampered payload")
)

// CorruptError describes why a dump was rejected. It matches ErrCorruptDump.
type CorruptError struct {
	Reason string
	Err    error
}

func (e *CorruptError) Error() string {
	if e.Err == nil {
		return "corrupt dump: " + e.Reason
	}
	return "corrupt dump: " + e.Reason + ": " + e.Err.Error()
}

// Is makes errors.Is(err, ErrCorruptDump) hold
func (e *CorruptError) Is(target error) bool { return target == ErrCorruptDump }

func (e *CorruptError) Unwrap() error { return e.Err }

func corrupt(reason string, err error) error {
	return &CorruptError{Reason: reason, Err: err}
}

// Options controls encoding and decoding
type Options struct {
	Compression CompressionType
	Security    SecurityOptions
}

// DefaultOptions returns zstd compression and no security features
func DefaultOptions() Options {
	return Options{
		Compression: DefaultCompression,
		Security:    DefaultSecurityOptions(),
	}
}

// Header is the fixed part of a stored dump
type Header struct {
	Version byte
	Flags   byte
}

// Compressed reports whether the payload is zstd compressed
func (h Header) Compressed() bool { return h.Flags&FlagZstd != 0 }

// Encrypted reports whether the payload is AES-GCM encrypted
func (h Header) Encrypted() bool { return h.Flags&FlagEncrypted != 0 }

// Signed reports whether the dump carries an HMAC
func (h Header) Signed() bool { return h.Flags&FlagHMAC != 0 }

func (h Header) String() string {
	return fmt.Sprintf("v%d compressed=%t encrypted=%t signed=%t",
		h.Version, h.Compressed(), h.Encrypted(), h.Signed())
}

// ParseHeader reads the header of b without any key
func ParseHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, corrupt("truncated header", nil)
	}
	if !bytes.Equal(b[:len(Magic)], []byte(Magic)) {
		return Header{}, corrupt("bad magic", nil)
	}
	h := Header{Version: b[len(Magic)], Flags: b[len(Magic)+1]}
	if h.Version != formatVersion {
		return Header{}, corrupt(fmt.Sprintf("unsupported version %d", h.Version), nil)
	}
	if h.Flags&^knownFlags != 0 {
		return Header{}, corrupt(fmt.Sprintf("unknown flags %#x", h.Flags), nil)
	}
	return h, nil
}

// Marshal encodes d. Redaction applies to the stored copy only.
func Marshal(d *capture.Dump, opts Options) ([]byte, error) {
	if d == nil || len(d.Exceptions) == 0 {
		return nil, errors.New("dump has no exceptions")
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "encoding dump")
	}

	sec := opts.Security
	if sec.EnableRedaction {
		var stored capture.Dump
		if err := json.Unmarshal(payload, &stored); err != nil {
			return nil, errors.Wrap(err, "copying dump for redaction")
		}
		NewRedactor(sec.RedactionPatterns, sec.RedactionReplacement).Redact(&stored)
		if payload, err = json.Marshal(&stored); err != nil {
			return nil, errors.Wrap(err, "encoding redacted dump")
		}
	}

	var flags byte
	if opts.Compression == ZstdCompression {
		flags |= FlagZstd
		if payload, err = CompressData(payload, opts.Compression); err != nil {
			return nil, errors.Wrap(err, "compressing dump")
		}
	}
	if sec.EnableEncryption {
		flags |= FlagEncrypted
		if payload, err = EncryptData(payload, sec.EncryptionKey); err != nil {
			return nil, errors.Wrap(err, "encrypting dump")
		}
	}
	if sec.EnableIntegrityCheck {
		if len(sec.IntegrityKey) == 0 {
			return nil, errors.New("integrity check enabled without a key")
		}
		flags |= FlagHMAC
	}

	out := make([]byte, 0, headerSize+hmacSize+len(payload))
	out = append(out, Magic...)
	out = append(out, formatVersion, flags)
	if flags&FlagHMAC != 0 {
		out = append(out, CalculateHMAC(signed(out, payload), sec.IntegrityKey)...)
	}
	return append(out, payload...), nil
}

// signed is the byte sequence the HMAC covers: header then payload
func signed(header, payload []byte) []byte {
	b := make([]byte, 0, headerSize+len(payload))
	b = append(b, header[:headerSize]...)
	return append(b, payload...)
}

// Unmarshal decodes b and resolves every type reference in it. Types from
// packages missing in this process resolve to dummy placeholders.
func Unmarshal(b []byte, opts Options) (*capture.Dump, error) {
	d, err := decode(b, opts)
	if err != nil {
		return nil, err
	}
	if err := resolve(d); err != nil {
		return nil, err
	}
	logger().Debug("dump loaded", "id", d.ID, "exceptions", len(d.Exceptions))
	return d, nil
}

func decode(b []byte, opts Options) (*capture.Dump, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	sec := opts.Security
	payload := b[headerSize:]

	if h.Signed() {
		if len(payload) < hmacSize {
			return nil, corrupt("truncated integrity tag", nil)
		}
		tag := payload[:hmacSize]
		payload = payload[hmacSize:]
		if len(sec.IntegrityKey) == 0 {
			return nil, errors.Wrap(ErrKeyRequired, "integrity key")
		}
		if !VerifyHMAC(signed(b, payload), sec.IntegrityKey, tag) {
			return nil, corrupt("integrity check failed", nil)
		}
	}
	if h.Encrypted() {
		if len(sec.EncryptionKey) == 0 {
			return nil, errors.Wrap(ErrKeyRequired, "encryption key")
		}
		if payload, err = DecryptData(payload, sec.EncryptionKey); err != nil {
			if errors.Is(err, ErrBadKey) {
				return nil, err
			}
			return nil, corrupt("decryption failed", err)
		}
	}
	if h.Compressed() {
		if payload, err = DecompressData(payload, ZstdCompression); err != nil {
			return nil, corrupt("decompression failed", err)
		}
	}

	var d capture.Dump
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, corrupt("bad payload", err)
	}
	if len(d.Exceptions) == 0 {
		return nil, corrupt("no exceptions", nil)
	}
	for i, x := range d.Exceptions {
		if x == nil {
			return nil, corrupt(fmt.Sprintf("exception %d is empty", i), nil)
		}
	}
	return &d, nil
}

// Write encodes d and writes it to w in one call
func Write(w io.Writer, d *capture.Dump, opts Options) error {
	b, err := Marshal(d, opts)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Read reads r to the end and decodes it
func Read(r io.Reader, opts Options) (*capture.Dump, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading dump")
	}
	return Unmarshal(b, opts)
}

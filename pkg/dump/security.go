package dump

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"regexp"
	"unicode"

	"github.com/pkg/errors"
	"github.com/willibrandon/tbdump/pkg/capture"
	"github.com/willibrandon/tbdump/pkg/snapshot"
)

// hmacSize is the length of the integrity tag stored in the header
const hmacSize = sha256.Size

// SecurityOptions configures how a dump is protected at rest
type SecurityOptions struct {
	// Encryption settings
	EnableEncryption bool
	EncryptionKey    []byte // 16, 24, or 32 bytes for AES-128, AES-192, or AES-256

	// Redaction settings
	EnableRedaction      bool
	RedactionPatterns    []string // Regex patterns matched against variable, field and key names
	RedactionReplacement string   // String stored in place of redacted values

	// Integrity verification settings
	EnableIntegrityCheck bool
	IntegrityKey         []byte // Key for HMAC
}

// SecurityOption adjusts SecurityOptions
type SecurityOption func(*SecurityOptions)

// DefaultSecurityOptions returns the default security options (no security features enabled)
func DefaultSecurityOptions() SecurityOptions {
	return SecurityOptions{
		RedactionPatterns:    []string{"password", "token", "secret", "key", "credential"},
		RedactionReplacement: "***REDACTED***",
	}
}

// WithEncryption enables encryption with the given key
func WithEncryption(key []byte) SecurityOption {
	return func(opts *SecurityOptions) {
		opts.EnableEncryption = true
		opts.EncryptionKey = key
	}
}

// WithRedaction enables redaction with the given patterns and replacement
func WithRedaction(patterns []string, replacement string) SecurityOption {
	return func(opts *SecurityOptions) {
		opts.EnableRedaction = true
		if len(patterns) > 0 {
			opts.RedactionPatterns = patterns
		}
		if replacement != "" {
			opts.RedactionReplacement = replacement
		}
	}
}

// WithIntegrityCheck enables integrity checks with the given key
func WithIntegrityCheck(key []byte) SecurityOption {
	return func(opts *SecurityOptions) {
		opts.EnableIntegrityCheck = true
		opts.IntegrityKey = key
	}
}

// EncryptData encrypts data using AES-GCM, prepending the nonce
func EncryptData(data []byte, key []byte) ([]byte, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, errors.New("encryption key must be 16, 24, or 32 bytes long")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return aesGCM.Seal(nonce, nonce, data, nil), nil
}

// DecryptData decrypts data produced by EncryptData. A key that is the
// wrong size or fails authentication yields ErrBadKey.
func DecryptData(data []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(ErrBadKey, err.Error())
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(data) < aesGCM.NonceSize()+aesGCM.Overhead() {
		return nil, errors.New("encrypted data too short")
	}
	nonce, ciphertext := data[:aesGCM.NonceSize()], data[aesGCM.NonceSize():]
	plain, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(ErrBadKey, "decryption failed")
	}
	return plain, nil
}

// CalculateHMAC returns the HMAC-SHA256 of data
func CalculateHMAC(data []byte, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// VerifyHMAC checks data against an expected HMAC-SHA256
func VerifyHMAC(data []byte, key []byte, expected []byte) bool {
	return hmac.Equal(CalculateHMAC(data, key), expected)
}

// Redactor replaces sensitive values in a dump. A pattern has to match a
// whole name or one whole word of it, so "token" matches "apiToken" and
// "db_token" but not "tokenizer".
type Redactor struct {
	names       []*regexp.Regexp
	text        []*regexp.Regexp
	replacement string
}

// NewRedactor compiles patterns; invalid patterns are skipped
func NewRedactor(patterns []string, replacement string) *Redactor {
	r := &Redactor{replacement: replacement}
	for _, pattern := range patterns {
		name, err := regexp.Compile(`(?i)^(?:` + pattern + `)$`)
		if err != nil {
			continue
		}
		r.names = append(r.names, name)
		r.text = append(r.text, regexp.MustCompile(
			`(?i)((?:^|[^\w-])["']?)([\w-]*(?:`+pattern+`)[\w-]*)(["']?\s*[:=]\s*["']?)([^"'}\s,]+)`))
	}
	return r
}

func (r *Redactor) sensitive(name string) bool {
	words := nameWords(name)
	for _, re := range r.names {
		if re.MatchString(name) {
			return true
		}
		for _, w := range words {
			if re.MatchString(w) {
				return true
			}
		}
	}
	return false
}

// nameWords splits an identifier at separators, case changes and digits:
// "APIKey" gives API and Key, "db_password2" gives db, password and 2
func nameWords(name string) []string {
	var words []string
	runes := []rune(name)
	start := -1
	flush := func(end int) {
		if start >= 0 && end > start {
			words = append(words, string(runes[start:end]))
		}
		start = -1
	}
	for i, c := range runes {
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
			continue
		}
		prev := runes[i-1]
		switch {
		case unicode.IsDigit(c) != unicode.IsDigit(prev):
			flush(i)
		case unicode.IsUpper(c) && unicode.IsLower(prev):
			flush(i)
		case unicode.IsUpper(c) && unicode.IsUpper(prev) &&
			i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			flush(i)
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(runes))
	return words
}

// RedactText masks "name=value" and "name: value" pairs in s whose name
// is sensitive
func (r *Redactor) RedactText(s string) string {
	for _, re := range r.text {
		s = re.ReplaceAllStringFunc(s, func(m string) string {
			sub := re.FindStringSubmatch(m)
			if sub == nil || !r.sensitive(sub[2]) {
				return m
			}
			return sub[1] + sub[2] + sub[3] + r.replacement
		})
	}
	return s
}

// Redact masks, in place, every variable, struct field and string-keyed
// map entry whose name matches a pattern, and the matching pairs inside
// messages, source lines and strings. Names are kept so key sets do not change.
func (r *Redactor) Redact(d *capture.Dump) {
	for _, x := range d.Exceptions {
		x.Str = r.RedactText(x.Str)
		for _, f := range x.Frames {
			f.CodeLine = r.RedactText(f.CodeLine)
			for name, v := range f.Locals {
				if r.sensitive(name) {
					f.Locals[name] = r.masked(v)
					continue
				}
				r.value(v)
			}
		}
	}
}

func (r *Redactor) value(v *snapshot.Value) {
	if v == nil {
		return
	}
	switch v.Kind {
	case snapshot.String:
		v.Str = r.RedactText(v.Str)
	case snapshot.Struct:
		for i, f := range v.Fields {
			if r.sensitive(f.Name) {
				v.Fields[i].Value = r.masked(f.Value)
				continue
			}
			r.value(f.Value)
		}
	case snapshot.Map:
		for i, e := range v.Entries {
			if e.Key != nil && e.Key.Kind == snapshot.String && r.sensitive(e.Key.Str) {
				v.Entries[i].Value = r.masked(e.Value)
				continue
			}
			r.value(e.Key)
			r.value(e.Value)
		}
	case snapshot.Slice:
		for _, e := range v.Elems {
			r.value(e)
		}
	case snapshot.Pointer:
		r.value(v.Elem)
	}
	if v.Text != "" {
		v.Text = r.RedactText(v.Text)
	}
}

func (r *Redactor) masked(v *snapshot.Value) *snapshot.Value {
	m := &snapshot.Value{Kind: snapshot.String, Str: r.replacement}
	if v != nil {
		m.TypeName = v.TypeName
		m.ID = v.ID
	}
	return m
}

// Package fieldcrypt encrypts named sensitive fields with keys derived per
// tenant, environment and purpose.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	Prefix = "enc:"

	nonceSize  = 16
	tagSize    = 16
	keySize    = 32
	iterations = 10000

	DefaultTenant  = "default"
	DefaultPurpose = "general"
)

var (
	ErrDecryption = errors.New("field decryption failed")
	ErrEncryption = errors.New("field encryption failed")
)

// DefaultFields are protected when no list is configured.
var DefaultFields = []string{
	"email", "phone", "national_id", "nik", "card_number",
	"bank_account", "account_number", "payment_proof_url", "proof_url",
}

// Context scopes a derived key. It is also bound as associated data, so a
// value encrypted for one context never decrypts under another.
type Context struct {
	TenantID    string `json:"tenant"`
	Environment string `json:"environment"`
	Purpose     string `json:"purpose"`
}

// Engine is safe for concurrent use.
type Engine struct {
	master      []byte
	environment string
	fields      map[string]struct{}

	lastRotation     time.Time
	rotationInterval time.Duration

	keys sync.Map // serialized Context -> []byte
}

type Options struct {
	Environment      string
	Fields           []string
	LastRotation     time.Time
	RotationInterval time.Duration
}

func NewEngine(masterKey []byte, opts Options) (*Engine, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("fieldcrypt: empty master key")
	}
	fields := opts.Fields
	if len(fields) == 0 {
		fields = DefaultFields
	}
	e := &Engine{
		master:           append([]byte(nil), masterKey...),
		environment:      opts.Environment,
		fields:           make(map[string]struct{}, len(fields)),
		lastRotation:     opts.LastRotation,
		rotationInterval: opts.RotationInterval,
	}
	if e.environment == "" {
		e.environment = "production"
	}
	if e.rotationInterval <= 0 {
		e.rotationInterval = 90 * 24 * time.Hour
	}
	for _, f := range fields {
		e.fields[strings.ToLower(f)] = struct{}{}
	}
	return e, nil
}

// IsField reports whether name is a protected field.
func (e *Engine) IsField(name string) bool {
	_, ok := e.fields[strings.ToLower(name)]
	return ok
}

// IsEncrypted reports whether v carries the ciphertext marker.
func IsEncrypted(v string) bool {
	return strings.HasPrefix(v, Prefix)
}

func (e *Engine) normalize(c Context) Context {
	if c.TenantID == "" {
		c.TenantID = DefaultTenant
	}
	if c.Environment == "" {
		c.Environment = e.environment
	}
	if c.Purpose == "" {
		c.Purpose = DefaultPurpose
	}
	return c
}

func serialize(c Context) []byte {
	// Struct field order keeps this canonical.
	b, _ := json.Marshal(c)
	return b
}

func (e *Engine) key(aad []byte) []byte {
	if k, ok := e.keys.Load(string(aad)); ok {
		return k.([]byte)
	}
	k := pbkdf2.Key(e.master, aad, iterations, keySize, sha256.New)
	actual, _ := e.keys.LoadOrStore(string(aad), k)
	return actual.([]byte)
}

func (e *Engine) aead(aad []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key(aad))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

// Encrypt returns "enc:" + base64(nonce || tag || ciphertext). Empty and
// already-encrypted values come back unchanged.
func (e *Engine) Encrypt(plaintext string, c Context) (string, error) {
	if plaintext == "" || IsEncrypted(plaintext) {
		return plaintext, nil
	}
	aad := serialize(e.normalize(c))
	gcm, err := e.aead(aad)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrEncryption, err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), aad)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, nonceSize+tagSize+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return Prefix + base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Values without the marker pass through; marked
// values that fail verification return ErrDecryption.
func (e *Engine) Decrypt(value string, c Context) (string, error) {
	if value == "" || !IsEncrypted(value) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", fmt.Errorf("%w: malformed encoding", ErrDecryption)
	}
	if len(raw) < nonceSize+tagSize {
		return "", fmt.Errorf("%w: truncated value", ErrDecryption)
	}

	aad := serialize(e.normalize(c))
	gcm, err := e.aead(aad)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	ct := raw[nonceSize+tagSize:]
	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryption)
	}
	return string(plain), nil
}

// NeedsRotation reports whether the rotation interval has elapsed since the
// last recorded rotation. Re-encryption of stored values is handled elsewhere.
func (e *Engine) NeedsRotation(now time.Time) bool {
	if e.lastRotation.IsZero() {
		return true
	}
	return now.Sub(e.lastRotation) >= e.rotationInterval
}

type RotationStatus struct {
	LastRotation     time.Time `json:"last_rotation"`
	RotationInterval string    `json:"rotation_interval"`
	NeedsRotation    bool      `json:"needs_rotation"`
}

func (e *Engine) Status(now time.Time) RotationStatus {
	return RotationStatus{
		LastRotation:     e.lastRotation,
		RotationInterval: e.rotationInterval.String(),
		NeedsRotation:    e.NeedsRotation(now),
	}
}

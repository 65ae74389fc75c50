// Package fieldcrypt provides the reversible encryption applied to
// personal-data buckets before they reach durable storage.
package fieldcrypt

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
	// envelopePrefix marks sealed payloads so plaintext snapshots written
	// before encryption was enabled still load.
	envelopePrefix = "enc:v1:"
)

// ErrDecrypt is returned when a sealed payload cannot be opened with the configured key.
var ErrDecrypt = errors.New("fieldcrypt: decryption failed")

// Cipher seals and opens byte payloads.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
	Enabled() bool
}

// SecretBox implements Cipher with NaCl secretbox (XSalsa20-Poly1305).
type SecretBox struct {
	key [keySize]byte
}

// NewSecretBox builds a cipher from a 32-byte key.
func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("fieldcrypt: key must be %d bytes, got %d", keySize, len(key))
	}
	var sb SecretBox
	copy(sb.key[:], key)
	return &sb, nil
}

// ParseKey decodes a base64 (standard or URL alphabet) key.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(encoded); err == nil && len(key) == keySize {
			return key, nil
		}
	}
	return nil, fmt.Errorf("fieldcrypt: key must be base64 encoded %d bytes", keySize)
}

// GenerateKey returns a new random key encoded as URL-safe base64.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(key), nil
}

// Enabled reports true.
func (s *SecretBox) Enabled() bool { return true }

// Seal encrypts plaintext, prefixing the random nonce.
func (s *SecretBox) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("fieldcrypt: nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open decrypts a payload produced by Seal.
func (s *SecretBox) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize+secretbox.Overhead {
		return nil, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	out, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return out, nil
}

// Plaintext is a pass-through Cipher for development and tests.
type Plaintext struct{}

// Enabled reports false.
func (Plaintext) Enabled() bool { return false }

// Seal returns the input unchanged.
func (Plaintext) Seal(p []byte) ([]byte, error) { return p, nil }

// Open returns the input unchanged.
func (Plaintext) Open(c []byte) ([]byte, error) { return c, nil }

// SealJSON encrypts a JSON document and wraps the ciphertext as a JSON string,
// so the result is still valid JSON for JSONB columns. Plaintext ciphers
// return the document unchanged.
func SealJSON(c Cipher, doc []byte) ([]byte, error) {
	if c == nil || !c.Enabled() {
		return doc, nil
	}
	sealed, err := c.Seal(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopePrefix + base64.StdEncoding.EncodeToString(sealed))
}

// OpenJSON reverses SealJSON. Payloads without the envelope are returned as-is.
func OpenJSON(c Cipher, payload []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return payload, nil
	}
	var envelope string
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("fieldcrypt: decode envelope: %w", err)
	}
	if !strings.HasPrefix(envelope, envelopePrefix) {
		return payload, nil
	}
	if c == nil || !c.Enabled() {
		return nil, fmt.Errorf("fieldcrypt: payload is encrypted but no key is configured")
	}
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(envelope, envelopePrefix))
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: decode envelope: %w", err)
	}
	return c.Open(sealed)
}

// SealString seals one text value into the envelope form used by SealJSON,
// without the JSON quoting. Plaintext ciphers return the value unchanged.
func SealString(c Cipher, value string) (string, error) {
	if c == nil || !c.Enabled() {
		return value, nil
	}
	sealed, err := c.Seal([]byte(value))
	if err != nil {
		return "", err
	}
	return envelopePrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenString reverses SealString. Values without the envelope are returned as-is.
func OpenString(c Cipher, value string) (string, error) {
	if !strings.HasPrefix(value, envelopePrefix) {
		return value, nil
	}
	if c == nil || !c.Enabled() {
		return "", fmt.Errorf("fieldcrypt: value is encrypted but no key is configured")
	}
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, envelopePrefix))
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: decode envelope: %w", err)
	}
	opened, err := c.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(opened), nil
}

// IsSealed reports whether payload carries the encryption envelope.
func IsSealed(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return false
	}
	var envelope string
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return false
	}
	return strings.HasPrefix(envelope, envelopePrefix)
}

// Verify round-trips a probe through c.
func Verify(c Cipher) error {
	probe := []byte("casecore-encryption-probe")
	sealed, err := c.Seal(probe)
	if err != nil {
		return err
	}
	if c.Enabled() && bytes.Equal(sealed, probe) {
		return errors.New("fieldcrypt: cipher returned plaintext")
	}
	opened, err := c.Open(sealed)
	if err != nil {
		return err
	}
	if !bytes.Equal(opened, probe) {
		return errors.New("fieldcrypt: round trip mismatch")
	}
	return nil
}

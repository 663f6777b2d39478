// Package encryption seals values at rest, such as platform API credentials
// in the settings table, with AES-256-GCM under a single master key.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const keySize = 32

// Encryptor encrypts and decrypts individual string values.
type Encryptor struct {
	gcm cipher.AEAD
}

// New creates an Encryptor. An empty key generates a fresh random one; the
// returned string is the key in persistable form, so first-boot callers can
// store it.
func New(key string) (*Encryptor, string, error) {
	raw, encoded, err := resolveKey(key)
	if err != nil {
		return nil, "", err
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, "", fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, "", fmt.Errorf("creating GCM: %w", err)
	}
	return &Encryptor{gcm: gcm}, encoded, nil
}

// resolveKey turns the configured key into key bytes. Accepted forms: empty
// (generate), exactly 32 raw bytes, or base64 of 32 bytes. Raw is checked
// before base64 because a 32-character string can also decode as base64 of
// the wrong length.
func resolveKey(key string) ([]byte, string, error) {
	switch {
	case key == "":
		raw := make([]byte, keySize)
		if _, err := rand.Read(raw); err != nil {
			return nil, "", fmt.Errorf("generating encryption key: %w", err)
		}
		return raw, base64.StdEncoding.EncodeToString(raw), nil
	case len(key) == keySize:
		return []byte(key), key, nil
	}

	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, "", fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(raw) != keySize {
		return nil, "", fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(raw))
	}
	return raw, key, nil
}

// Encrypt seals plaintext and returns base64 with the nonce prepended.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}

	ns := e.gcm.NonceSize()
	if len(sealed) < ns {
		return "", errors.New("ciphertext too short")
	}
	plaintext, err := e.gcm.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	return string(plaintext), nil
}

package settingsio

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// OWASP-recommended iteration count for PBKDF2-SHA256.
const pbkdf2Iterations = 600_000

const (
	keyLen  = 32
	saltLen = 16
)

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keyLen, sha256.New)
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// encryptWithPassphrase seals plaintext under a fresh salt and nonce. Both
// returned strings are base64; the nonce is prepended to the ciphertext.
func encryptWithPassphrase(plaintext []byte, passphrase string) (data, salt string, err error) {
	saltRaw, err := randomBytes(saltLen)
	if err != nil {
		return "", "", fmt.Errorf("generating salt: %w", err)
	}

	gcm, err := newGCM(passphrase, saltRaw)
	if err != nil {
		return "", "", err
	}

	nonce, err := randomBytes(gcm.NonceSize())
	if err != nil {
		return "", "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed),
		base64.StdEncoding.EncodeToString(saltRaw),
		nil
}

// decryptWithPassphrase reverses encryptWithPassphrase. A GCM open failure
// almost always means the passphrase does not match.
func decryptWithPassphrase(data, salt, passphrase string) ([]byte, error) {
	saltRaw, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, saltRaw)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting (wrong passphrase?): %w", err)
	}
	return plaintext, nil
}

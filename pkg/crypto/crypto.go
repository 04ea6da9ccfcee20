// Package crypto provides the cryptographic primitives used by the AEAD
// tunnel: pre-shared key generation/loading and the ChaCha20-Poly1305 cipher
// construction used to frame encrypted records.
package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
)

// GenerateRandomBytes generates n random bytes using crypto/rand
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// GeneratePSK returns a fresh ChaCha20-Poly1305 key, base64 (no padding)
// encoded for storage in a PSK file.
func GeneratePSK() (string, error) {
	key, err := GenerateRandomBytes(chacha20poly1305.KeySize)
	if err != nil {
		return "", fmt.Errorf("failed to generate psk: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(key), nil
}

// LoadPSK reads a PSK file, trims surrounding whitespace, and decodes it
// from unpadded base64 into raw key bytes.
func LoadPSK(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read psk file %s: %w", path, err)
	}
	trimmed := bytes.TrimSpace(raw)
	key, err := base64.RawStdEncoding.DecodeString(string(trimmed))
	if err != nil {
		return nil, fmt.Errorf("failed to decode psk: %w", err)
	}
	return key, nil
}

// NewAEAD constructs a ChaCha20-Poly1305 AEAD cipher from key material
// loaded by LoadPSK.
func NewAEAD(key []byte) (cipherAEAD, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to construct cipher: %w", err)
	}
	return aead, nil
}

// cipherAEAD is the subset of cipher.AEAD the tunnel package relies on,
// named locally so callers don't need to import crypto/cipher just to hold
// the return value of NewAEAD.
type cipherAEAD = interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// NonceSize returns the nonce size used by the tunnel's AEAD cipher.
func NonceSize() int {
	return chacha20poly1305.NonceSize
}

// KeySize returns the key size used by the tunnel's AEAD cipher.
func KeySize() int {
	return chacha20poly1305.KeySize
}

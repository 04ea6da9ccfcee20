package crypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateRandomBytesLength(t *testing.T) {
	b, err := GenerateRandomBytes(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b) != 16 {
		t.Fatalf("len(b) = %d, want 16", len(b))
	}
}

func TestGeneratePSKRoundTrip(t *testing.T) {
	psk, err := GeneratePSK()
	if err != nil {
		t.Fatalf("GeneratePSK() error: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "psk")
	if err := os.WriteFile(path, []byte(psk+"\n"), 0o600); err != nil {
		t.Fatalf("failed to write psk file: %v", err)
	}

	key, err := LoadPSK(path)
	if err != nil {
		t.Fatalf("LoadPSK() error: %v", err)
	}
	if len(key) != KeySize() {
		t.Fatalf("len(key) = %d, want %d", len(key), KeySize())
	}
}

func TestNewAEADSealOpen(t *testing.T) {
	psk, err := GeneratePSK()
	if err != nil {
		t.Fatalf("GeneratePSK() error: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "psk")
	if err := os.WriteFile(path, []byte(psk), 0o600); err != nil {
		t.Fatalf("failed to write psk file: %v", err)
	}
	key, err := LoadPSK(path)
	if err != nil {
		t.Fatalf("LoadPSK() error: %v", err)
	}

	aead, err := NewAEAD(key)
	if err != nil {
		t.Fatalf("NewAEAD() error: %v", err)
	}

	nonce, err := GenerateRandomBytes(NonceSize())
	if err != nil {
		t.Fatalf("GenerateRandomBytes() error: %v", err)
	}

	plaintext := []byte("CONNECT example.com:443")
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	opened, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("Open() = %q, want %q", opened, plaintext)
	}
}

func TestLoadPSKRejectsInvalidEncoding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "psk")
	if err := os.WriteFile(path, []byte("not valid base64!!"), 0o600); err != nil {
		t.Fatalf("failed to write psk file: %v", err)
	}
	if _, err := LoadPSK(path); err == nil {
		t.Fatalf("expected error decoding invalid psk")
	}
}

// Package tunnel implements the AEAD-encrypted, camouflaged tunnel: a
// fake-HTTP-header handshake followed by a stream of length-obfuscated,
// ChaCha20-Poly1305-sealed records relayed full-duplex between a local
// connection and the tunnel peer.
package tunnel

import (
	"bytes"
	"crypto/cipher"
	"fmt"
	"io"

	"github.com/opd-ai/faketun/pkg/crypto"
	"github.com/opd-ai/faketun/pkg/pool"
)

// maxRecordPlaintext bounds how much application data a single record
// written by EncryptWriter carries, keeping individual Seal calls cheap and
// records small enough that interception doesn't reveal natural message
// boundaries. It is purely a write-side chunking choice, not a wire-format
// limit: readRecord must accept anything the 2-byte length field can
// represent, since a conformant peer is free to choose a different chunk
// size (or none at all).
const maxRecordPlaintext = 16 * 1024

// maxWireRecordLen is the largest ciphertext length the 2-byte length field
// can represent.
const maxWireRecordLen = 65535

// mix derives the XOR mask used to obfuscate a record's length field from
// its nonce, reusing two nonce bytes so the mask changes every record
// without needing a separate random value.
func mix(nonce []byte) uint16 {
	n := len(nonce)
	return uint16(nonce[4%n])<<8 | uint16(nonce[2%n])
}

func obfuscateLen(n int, nonce []byte) uint16 {
	return uint16(n) ^ mix(nonce)
}

func deobfuscateLen(obf uint16, nonce []byte) int {
	return int(obf ^ mix(nonce))
}

// writeRecord seals plaintext and writes nonce || obfuscated-length ||
// ciphertext to w.
func writeRecord(w io.Writer, aead cipher.AEAD, plaintext []byte) error {
	nonce, err := crypto.GenerateRandomBytes(aead.NonceSize())
	if err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	lenBuf := [2]byte{}
	obf := obfuscateLen(len(ciphertext), nonce)
	lenBuf[0] = byte(obf >> 8)
	lenBuf[1] = byte(obf)

	if _, err := w.Write(nonce); err != nil {
		return fmt.Errorf("write nonce: %w", err)
	}
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(ciphertext); err != nil {
		return fmt.Errorf("write ciphertext: %w", err)
	}
	return nil
}

// readRecord reads and opens one record from r.
func readRecord(r io.Reader, aead cipher.AEAD) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	obf := uint16(lenBuf[0])<<8 | uint16(lenBuf[1])
	n := deobfuscateLen(obf, nonce)
	if n <= 0 || n > maxWireRecordLen {
		return nil, fmt.Errorf("implausible record length %d", n)
	}

	ciphertext, pooled := scratchBuffer(), true
	if n > len(ciphertext) {
		ciphertext, pooled = make([]byte, n), false
	}
	ciphertext = ciphertext[:n]
	if pooled {
		defer releaseScratch(ciphertext)
	}
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return nil, fmt.Errorf("read ciphertext: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open record: %w", err)
	}
	return plaintext, nil
}

// EncryptWriter frames every Write call's payload (split into
// maxRecordPlaintext chunks) as one or more sealed records on the
// underlying writer.
type EncryptWriter struct {
	w    io.Writer
	aead cipher.AEAD
}

// NewEncryptWriter wraps w so every Write is sealed as one or more records.
func NewEncryptWriter(w io.Writer, aead cipher.AEAD) *EncryptWriter {
	return &EncryptWriter{w: w, aead: aead}
}

func (e *EncryptWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxRecordPlaintext {
			chunk = chunk[:maxRecordPlaintext]
		}
		if err := writeRecord(e.w, e.aead, chunk); err != nil {
			return total, err
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

// DecryptReader reassembles records read from the underlying reader back
// into a plain byte stream.
type DecryptReader struct {
	r       io.Reader
	aead    cipher.AEAD
	pending *bytes.Reader
}

// NewDecryptReader wraps r so Read returns decrypted record payloads.
func NewDecryptReader(r io.Reader, aead cipher.AEAD) *DecryptReader {
	return &DecryptReader{r: r, aead: aead}
}

func (d *DecryptReader) Read(p []byte) (int, error) {
	if d.pending == nil || d.pending.Len() == 0 {
		plaintext, err := readRecord(d.r, d.aead)
		if err != nil {
			return 0, err
		}
		d.pending = bytes.NewReader(plaintext)
	}
	return d.pending.Read(p)
}

// scratchBuffer borrows a pooled buffer for short-lived framing work: it
// holds a record's ciphertext while readRecord opens it.
func scratchBuffer() []byte {
	return pool.TunnelRecordBufferPool.Get()
}

func releaseScratch(buf []byte) {
	pool.TunnelRecordBufferPool.Put(buf)
}

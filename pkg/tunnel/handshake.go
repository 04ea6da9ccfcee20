package tunnel

import (
	"bufio"
	"bytes"
	cryptorand "crypto/rand"
	"crypto/cipher"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/opd-ai/faketun/pkg/crypto"
	"github.com/opd-ai/faketun/pkg/ferrors"
	"github.com/opd-ai/faketun/pkg/security"
)

// eoh is the sentinel that terminates a camouflaged fake-header preamble,
// matching an HTTP message's blank line.
const eoh = "\r\n\r\n"

// handshakePadMin and handshakePadMax bound the random padding appended to
// a handshake's plaintext payload, so the encrypted blob's size doesn't
// betray how little real data it carries.
const (
	handshakePadMin = 512
	handshakePadMax = 768
)

// reqVersion is the wire version tag for a Req payload.
const reqVersion = 0

// LoadFakeHeader reads path, trims each line, and rejoins them with CRLF
// plus a trailing CRLF. If path can't be read, it falls back to a bare
// CRLF-CRLF so the handshake still has a well-formed (if minimal) preamble.
func LoadFakeHeader(path string) []byte {
	raw, err := os.ReadFile(path)
	if err != nil {
		return []byte(eoh)
	}

	// A final newline ends the last line; it does not start another one.
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(strings.TrimSpace(line))
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Dst is the tunnel's notion of a connect target. Host is carried as text:
// a domain name, or the textual form of an IP address when the local SOCKS5
// client asked for one.
type Dst struct {
	Host string
	Port uint16
}

// encodeReq serializes a Req payload: ver(1) || host_len(1) || host || port(2 BE).
func encodeReq(dst Dst) ([]byte, error) {
	hostLen, err := security.SafeIntToUint16(len(dst.Host))
	if err != nil || hostLen > 0xff {
		return nil, fmt.Errorf("host too long: %d bytes", len(dst.Host))
	}
	buf := make([]byte, 0, 4+len(dst.Host))
	buf = append(buf, reqVersion, byte(hostLen))
	buf = append(buf, dst.Host...)
	buf = append(buf, byte(dst.Port>>8), byte(dst.Port))
	return buf, nil
}

func decodeReq(plaintext []byte) (Dst, error) {
	if len(plaintext) < 4 {
		return Dst{}, fmt.Errorf("req payload too short: %d bytes", len(plaintext))
	}
	if plaintext[0] != reqVersion {
		return Dst{}, fmt.Errorf("unsupported req version %d", plaintext[0])
	}
	hostLen := int(plaintext[1])
	if len(plaintext) < 2+hostLen+2 {
		return Dst{}, fmt.Errorf("req payload truncated")
	}
	host := string(plaintext[2 : 2+hostLen])
	portOffset := 2 + hostLen
	port := uint16(plaintext[portOffset])<<8 | uint16(plaintext[portOffset+1])
	return Dst{Host: host, Port: port}, nil
}

// respStatus values.
const (
	respOK        = 0
	respConnectFail = 1
)

func encodeResp(status byte) []byte {
	return []byte{status}
}

func decodeResp(plaintext []byte) (byte, error) {
	if len(plaintext) < 1 {
		return 0, fmt.Errorf("resp payload empty")
	}
	return plaintext[0], nil
}

// writeHandshakeMsg writes the camouflage header followed by one sealed
// record carrying payload plus a random number of random padding bytes in
// [handshakePadMin, handshakePadMax).
func writeHandshakeMsg(w io.Writer, fakeHeader []byte, aead cipher.AEAD, payload []byte) error {
	if _, err := w.Write(fakeHeader); err != nil {
		return fmt.Errorf("write fake header: %w", err)
	}

	padLen, err := randomPadTarget()
	if err != nil {
		return err
	}
	padding, err := crypto.GenerateRandomBytes(padLen)
	if err != nil {
		return fmt.Errorf("generate padding: %w", err)
	}

	plaintext := make([]byte, 0, len(payload)+len(padding))
	plaintext = append(plaintext, payload...)
	plaintext = append(plaintext, padding...)

	return writeRecord(w, aead, plaintext)
}

// readHandshakeMsg scans r for the fake-header sentinel, discards it, and
// reads+opens the one record that follows. The caller decodes only the
// payload's self-describing prefix; any padding is simply unused tail.
func readHandshakeMsg(r *bufio.Reader, aead cipher.AEAD) ([]byte, error) {
	if err := skipUntilSentinel(r, []byte(eoh)); err != nil {
		return nil, fmt.Errorf("scan fake header: %w", err)
	}
	return readRecord(r, aead)
}

// skipUntilSentinel consumes bytes from r up to and including the first
// occurrence of sentinel.
func skipUntilSentinel(r *bufio.Reader, sentinel []byte) error {
	var window bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		window.WriteByte(b)
		if window.Len() > len(sentinel) {
			trimmed := window.Bytes()[window.Len()-len(sentinel):]
			window.Reset()
			window.Write(trimmed)
		}
		if bytes.Equal(window.Bytes(), sentinel) {
			return nil
		}
	}
}

func randomPadTarget() (int, error) {
	spread := handshakePadMax - handshakePadMin
	n, err := cryptoRandInt(spread)
	if err != nil {
		return 0, err
	}
	return handshakePadMin + n, nil
}

func cryptoRandInt(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	v, err := cryptorand.Int(cryptorand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("generate random int: %w", err)
	}
	return int(v.Int64()), nil
}

// ClientHandshake sends a camouflaged, AEAD-sealed connect request for dst
// and waits for the server's status response.
func ClientHandshake(conn io.ReadWriter, fakeHeader []byte, aead cipher.AEAD, dst Dst) error {
	payload, err := encodeReq(dst)
	if err != nil {
		return ferrors.TunnelErr("encode request", err)
	}
	if err := writeHandshakeMsg(conn, fakeHeader, aead, payload); err != nil {
		return ferrors.TunnelErr("write handshake", err)
	}

	r := bufio.NewReader(conn)
	plaintext, err := readHandshakeMsg(r, aead)
	if err != nil {
		return ferrors.TunnelErr("read handshake response", err)
	}
	status, err := decodeResp(plaintext)
	if err != nil {
		return ferrors.TunnelErr("decode response", err)
	}
	if status != respOK {
		return ferrors.TunnelErr(fmt.Sprintf("server rejected connect, status=%d", status), nil)
	}
	return nil
}

// ServerHandshake reads a camouflaged, AEAD-sealed connect request and
// returns the requested destination, having already replied with a status
// response.
func ServerHandshake(conn io.ReadWriter, fakeHeader []byte, aead cipher.AEAD) (Dst, error) {
	r := bufio.NewReader(conn)
	plaintext, err := readHandshakeMsg(r, aead)
	if err != nil {
		return Dst{}, ferrors.TunnelErr("read handshake request", err)
	}
	dst, err := decodeReq(plaintext)
	if err != nil {
		if writeErr := writeHandshakeMsg(conn, fakeHeader, aead, encodeResp(respConnectFail)); writeErr != nil {
			return Dst{}, ferrors.TunnelErr("decode request", err)
		}
		return Dst{}, ferrors.TunnelErr("decode request", err)
	}

	if err := writeHandshakeMsg(conn, fakeHeader, aead, encodeResp(respOK)); err != nil {
		return Dst{}, ferrors.TunnelErr("write handshake response", err)
	}
	return dst, nil
}

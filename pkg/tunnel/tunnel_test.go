package tunnel

import (
	"bufio"
	"bytes"
	"crypto/cipher"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

func testAEAD(t *testing.T) (a, b cipher.AEAD) {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, chacha20poly1305.KeySize)
	aeadA, err := chacha20poly1305.New(key)
	if err != nil {
		t.Fatalf("chacha20poly1305.New() error: %v", err)
	}
	aeadB, err := chacha20poly1305.New(key)
	if err != nil {
		t.Fatalf("chacha20poly1305.New() error: %v", err)
	}
	return aeadA, aeadB
}

func TestRecordRoundTrip(t *testing.T) {
	aeadA, aeadB := testAEAD(t)

	var buf bytes.Buffer
	want := []byte("hello tunnel")
	if err := writeRecord(&buf, aeadA, want); err != nil {
		t.Fatalf("writeRecord() error: %v", err)
	}

	got, err := readRecord(&buf, aeadB)
	if err != nil {
		t.Fatalf("readRecord() error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("readRecord() = %q, want %q", got, want)
	}
}

func TestLengthObfuscationIsReversible(t *testing.T) {
	nonce := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	for _, n := range []int{0, 1, 500, 65535} {
		obf := obfuscateLen(n, nonce)
		if got := deobfuscateLen(obf, nonce); got != n {
			t.Fatalf("deobfuscateLen(obfuscateLen(%d)) = %d", n, got)
		}
	}
}

func TestEncryptWriterDecryptReaderStream(t *testing.T) {
	aeadA, aeadB := testAEAD(t)

	var wire bytes.Buffer
	ew := NewEncryptWriter(&wire, aeadA)
	payload := bytes.Repeat([]byte("x"), maxRecordPlaintext+100)
	if _, err := ew.Write(payload); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	dr := NewDecryptReader(&wire, aeadB)
	got := make([]byte, 0, len(payload))
	buf := make([]byte, 4096)
	for len(got) < len(payload) {
		n, err := dr.Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			t.Fatalf("Read() error: %v", err)
		}
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("stream mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestLoadFakeHeaderFallsBackOnMissingFile(t *testing.T) {
	h := LoadFakeHeader("/nonexistent/path/does/not/exist")
	if string(h) != eoh {
		t.Fatalf("LoadFakeHeader() = %q, want bare sentinel", h)
	}
}

func TestReqPayloadRoundTrip(t *testing.T) {
	dst := Dst{Host: "example.com", Port: 443}
	encoded, err := encodeReq(dst)
	if err != nil {
		t.Fatalf("encodeReq() error: %v", err)
	}
	got, err := decodeReq(encoded)
	if err != nil {
		t.Fatalf("decodeReq() error: %v", err)
	}
	if got != dst {
		t.Fatalf("decodeReq() = %+v, want %+v", got, dst)
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	aeadA, aeadB := testAEAD(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fakeHeader := []byte("HTTP/1.1 200 OK\r\n\r\n")
	want := Dst{Host: "example.com", Port: 8443}

	errCh := make(chan error, 1)
	gotCh := make(chan Dst, 1)
	go func() {
		dst, err := ServerHandshake(server, fakeHeader, aeadB)
		gotCh <- dst
		errCh <- err
	}()

	if err := ClientHandshake(client, fakeHeader, aeadA, want); err != nil {
		t.Fatalf("ClientHandshake() error: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("ServerHandshake() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for server handshake")
	}

	got := <-gotCh
	if got != want {
		t.Fatalf("ServerHandshake() dst = %+v, want %+v", got, want)
	}
}

func TestSkipUntilSentinelConsumesPreamble(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("garbage preamble\r\n\r\nrest")))
	if err := skipUntilSentinel(r, []byte(eoh)); err != nil {
		t.Fatalf("skipUntilSentinel() error: %v", err)
	}
	rest := make([]byte, 4)
	if _, err := r.Read(rest); err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if string(rest) != "rest" {
		t.Fatalf("remaining = %q, want %q", rest, "rest")
	}
}

func TestRelayShutsDownBothSidesOnLocalClose(t *testing.T) {
	aeadA, aeadB := testAEAD(t)

	localClient, localServer := net.Pipe()
	remoteClient, remoteServer := net.Pipe()
	defer localClient.Close()
	defer remoteClient.Close()

	done := make(chan struct{})
	go func() {
		Relay(localServer, remoteServer, aeadA, nil)
		close(done)
	}()

	dec := NewDecryptReader(remoteClient, aeadB)
	go func() {
		buf := make([]byte, 64)
		dec.Read(buf)
	}()

	localClient.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Relay() did not return after local side closed")
	}
}

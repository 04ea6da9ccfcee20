package security

import "testing"

func TestConstantTimeCompare(t *testing.T) {
	a := []byte("0123456789abcdef0123456789abcdef")
	b := make([]byte, len(a))
	copy(b, a)
	if !ConstantTimeCompare(a, b) {
		t.Fatalf("expected equal slices to compare true")
	}
	b[0] ^= 0xff
	if ConstantTimeCompare(a, b) {
		t.Fatalf("expected mismatched slices to compare false")
	}
	if ConstantTimeCompare(a, a[:len(a)-1]) {
		t.Fatalf("expected different-length slices to compare false")
	}
}

func TestZeroBytes(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	ZeroBytes(data)
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %d", i, b)
		}
	}
}

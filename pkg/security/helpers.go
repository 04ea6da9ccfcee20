package security

import (
	"crypto/subtle"
)

// ConstantTimeCompare performs constant-time comparison of two byte slices.
// Slices of different lengths compare unequal.
func ConstantTimeCompare(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ZeroBytes overwrites a byte slice with zeroes.
func ZeroBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

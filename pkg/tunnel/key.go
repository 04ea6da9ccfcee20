package tunnel

import (
	"crypto/cipher"
	"fmt"

	"github.com/opd-ai/faketun/pkg/crypto"
)

// GeneratePSK returns a fresh base64-no-pad pre-shared key suitable for
// writing to a PSK file consumed by LoadCipher.
func GeneratePSK() (string, error) {
	return crypto.GeneratePSK()
}

// LoadCipher reads, trims, and base64-decodes the PSK at path and
// constructs the AEAD cipher the tunnel uses to seal records.
func LoadCipher(path string) (cipher.AEAD, error) {
	key, err := crypto.LoadPSK(path)
	if err != nil {
		return nil, fmt.Errorf("load psk: %w", err)
	}
	aead, err := crypto.NewAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("construct cipher: %w", err)
	}
	return aead, nil
}

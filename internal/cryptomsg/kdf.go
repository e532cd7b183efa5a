package cryptomsg

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// deriveKey runs HKDF-SHA256 over secret/salt/info into an n-byte key,
// the same derivation shape the teacher used for root/chain keys.
func deriveKey(secret, salt, info []byte, n int) ([]byte, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	buf := make([]byte, n)
	if _, err := io.ReadFull(h, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

package cryptomsg

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// seal encrypts plaintext under a 32-byte key with AES-256-GCM, returning
// nonce||ciphertext||tag. Mirrors the AEAD shape the teacher's ratchet used
// for message bodies; this adapter reuses it both for per-recipient key
// wrapping and for the envelope body itself.
func seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptomsg: read nonce: %w", err)
	}
	return append(nonce, aead.Seal(nil, nonce, plaintext, aad)...), nil
}

func open(key, nonceAndCiphertext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	ns := aead.NonceSize()
	if len(nonceAndCiphertext) < ns {
		return nil, fmt.Errorf("cryptomsg: ciphertext too short")
	}
	return aead.Open(nil, nonceAndCiphertext[:ns], nonceAndCiphertext[ns:], aad)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptomsg: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Package secret encrypts the WIF signing key at rest using a
// scrypt-derived AES-256-GCM key, and drives the bounded-attempt interactive
// unlock prompt. The AEAD shape mirrors the teacher's
// cryptographic/encryption package; the KDF differs (scrypt, not HKDF)
// because this is a password-derived key rather than a DH shared secret.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"

	"depinchat/internal/apperr"
)

const (
	saltLen = 32
	ivLen   = 12
	keyLen  = 32

	scryptN = 16384
	scryptR = 8
	scryptP = 1
)

// Encrypt produces the "salt:iv:tag:ct" lowercase-hex record for wif under
// password. AES-256-GCM's Seal output already appends the tag, so tag and
// ct are split back out of it for the four-field record the format names.
func Encrypt(wif, password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("secret: read salt: %w", err)
	}
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("secret: read iv: %w", err)
	}

	key, err := deriveKey(password, salt)
	if err != nil {
		return "", fmt.Errorf("secret: derive key: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("secret: new gcm: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(wif), nil)
	tagStart := len(sealed) - gcm.Overhead()
	ct, tag := sealed[:tagStart], sealed[tagStart:]

	return strings.Join([]string{
		hex.EncodeToString(salt),
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt reverses Encrypt. Any shape mismatch is MalformedSecret; any AEAD
// or downstream failure collapses to BadPassword so a caller can never
// distinguish "wrong password" from "corrupt record" by error kind alone.
func Decrypt(encoded, password string) (string, error) {
	fields := strings.Split(encoded, ":")
	if len(fields) != 4 {
		return "", apperr.NewSecretError(apperr.MalformedSecret)
	}

	raw := make([][]byte, 4)
	for i, f := range fields {
		b, err := hex.DecodeString(f)
		if err != nil {
			return "", apperr.NewSecretError(apperr.MalformedSecret)
		}
		raw[i] = b
	}
	salt, iv, tag, ct := raw[0], raw[1], raw[2], raw[3]

	key, err := deriveKey(password, salt)
	if err != nil {
		return "", apperr.NewSecretError(apperr.BadPassword)
	}

	// The stored IV length is taken from the record itself.
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", apperr.NewSecretError(apperr.BadPassword)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return "", apperr.NewSecretError(apperr.BadPassword)
	}

	plain, err := gcm.Open(nil, iv, append(append([]byte{}, ct...), tag...), nil)
	if err != nil {
		return "", apperr.NewSecretError(apperr.BadPassword)
	}

	return string(plain), nil
}

func deriveKey(password string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keyLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// ErrMaxAttempts is returned by UnlockInteractive when every attempt fails.
var ErrMaxAttempts = apperr.NewSecretError(apperr.MaxAttemptsExceeded)

package cryptomsg

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"depinchat/internal/wireformat"
)

// WrapForPool wraps an already-built envelope payload in a single-recipient
// layer addressed to the pool's pubkey, for metadata privacy at the relay.
// The pool wrap carries no sender signature: the inner envelope is already
// signed, and the pool only needs to decrypt, not authenticate, the outer
// layer.
func (adapter) WrapForPool(payloadHex, poolPubkeyHex, senderAddress string) (string, error) {
	payload, err := hex.DecodeString(payloadHex)
	if err != nil {
		return "", fmt.Errorf("cryptomsg: decode payload: %w", err)
	}
	poolPub, err := decodePubkey(poolPubkeyHex)
	if err != nil {
		return "", err
	}

	ephemeralPriv, err := btcec.NewPrivateKey()
	if err != nil {
		return "", fmt.Errorf("cryptomsg: ephemeral key: %w", err)
	}
	ephemeralPubBytes := ephemeralPriv.PubKey().SerializeCompressed()

	messageKey := make([]byte, messageKeyLen)
	if _, err := rand.Read(messageKey); err != nil {
		return "", fmt.Errorf("cryptomsg: message key: %w", err)
	}

	encryptedBody, err := seal(messageKey, payload, ephemeralPubBytes)
	if err != nil {
		return "", fmt.Errorf("cryptomsg: seal pool body: %w", err)
	}

	recipientHash, wrappedKey, err := wrapKeyForRecipient(ephemeralPriv, poolPub, messageKey)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := wireformat.WriteVector(&buf, ephemeralPubBytes); err != nil {
		return "", err
	}
	if err := wireformat.WriteVector(&buf, encryptedBody); err != nil {
		return "", err
	}
	if err := wireformat.WriteCompactSize(&buf, 1); err != nil {
		return "", err
	}
	buf.Write(recipientHash)
	if err := wireformat.WriteVector(&buf, wrappedKey); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf.Bytes()), nil
}

// UnwrapFromPool reverses WrapForPool, returning the plaintext bytes (a
// JSON array of buffered records, per the node's pool contract) as a string.
func (a adapter) UnwrapFromPool(encryptedHex string, recipientPrivateKey *btcec.PrivateKey) (string, error) {
	raw, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return "", fmt.Errorf("cryptomsg: decode pool envelope: %w", err)
	}
	r := bytes.NewReader(raw)

	ephemeralPubBytes, err := wireformat.ReadVector(r)
	if err != nil {
		return "", err
	}
	ephemeralPub, err := btcec.ParsePubKey(ephemeralPubBytes)
	if err != nil {
		return "", fmt.Errorf("cryptomsg: parse ephemeral pubkey: %w", err)
	}

	encryptedBody, err := wireformat.ReadVector(r)
	if err != nil {
		return "", err
	}

	n, err := wireformat.ReadCompactSize(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", fmt.Errorf("cryptomsg: pool envelope has no recipients")
	}

	keyID := make([]byte, 20)
	if _, err := r.Read(keyID); err != nil {
		return "", fmt.Errorf("cryptomsg: read pool recipient hash: %w", err)
	}
	wrappedKey, err := wireformat.ReadVector(r)
	if err != nil {
		return "", err
	}

	ourPubBytes := recipientPrivateKey.PubKey().SerializeCompressed()
	shared := ecdhSharedSecret(recipientPrivateKey, ephemeralPub)
	wrapKey, err := deriveKey(shared, ourPubBytes, []byte("depinchat/wrap-key"), 32)
	if err != nil {
		return "", fmt.Errorf("cryptomsg: derive pool wrap key: %w", err)
	}

	messageKey, err := open(wrapKey, wrappedKey, keyID)
	if err != nil {
		return "", fmt.Errorf("cryptomsg: unwrap pool message key: %w", err)
	}

	plaintext, err := open(messageKey, encryptedBody, ephemeralPubBytes)
	if err != nil {
		return "", fmt.Errorf("cryptomsg: open pool body: %w", err)
	}
	return string(plaintext), nil
}

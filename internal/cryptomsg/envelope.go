package cryptomsg

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"depinchat/internal/wireformat"
)

const messageKeyLen = 32

// BuildEnvelope encrypts message once under a fresh random message key,
// then wraps that key once per recipient via ECDH(ephemeral, recipient)
// + HKDF + AES-GCM, per the wire layout in the data model: a single
// ephemeral pubkey, one shared encrypted body, and a recipient_count table
// of (20-byte hash, wrapped key) pairs, followed by a trailing signature
// vector.
func (adapter) BuildEnvelope(p BuildParams) (BuildResult, error) {
	if len(p.RecipientPubkeys) == 0 {
		return BuildResult{}, fmt.Errorf("cryptomsg: build envelope: no recipients")
	}

	ephemeralPriv, err := btcec.NewPrivateKey()
	if err != nil {
		return BuildResult{}, fmt.Errorf("cryptomsg: ephemeral key: %w", err)
	}
	ephemeralPubBytes := ephemeralPriv.PubKey().SerializeCompressed()

	messageKey := make([]byte, messageKeyLen)
	if _, err := rand.Read(messageKey); err != nil {
		return BuildResult{}, fmt.Errorf("cryptomsg: message key: %w", err)
	}

	encryptedBody, err := seal(messageKey, []byte(p.Message), ephemeralPubBytes)
	if err != nil {
		return BuildResult{}, fmt.Errorf("cryptomsg: seal body: %w", err)
	}

	var buf bytes.Buffer
	if err := wireformat.WriteVector(&buf, ephemeralPubBytes); err != nil {
		return BuildResult{}, err
	}
	if err := wireformat.WriteVector(&buf, encryptedBody); err != nil {
		return BuildResult{}, err
	}
	if err := wireformat.WriteCompactSize(&buf, uint64(len(p.RecipientPubkeys))); err != nil {
		return BuildResult{}, err
	}

	for _, recipientHex := range p.RecipientPubkeys {
		recipientPub, err := decodePubkey(recipientHex)
		if err != nil {
			return BuildResult{}, err
		}
		recipientHashBytes, wrappedKey, err := wrapKeyForRecipient(ephemeralPriv, recipientPub, messageKey)
		if err != nil {
			return BuildResult{}, err
		}
		buf.Write(recipientHashBytes)
		if err := wireformat.WriteVector(&buf, wrappedKey); err != nil {
			return BuildResult{}, err
		}
	}

	messageHash := sha256.Sum256(buf.Bytes())

	sig := ecdsa.Sign(p.SenderPrivateKey, messageHash[:])
	if err := wireformat.WriteVector(&buf, sig.Serialize()); err != nil {
		return BuildResult{}, err
	}

	return BuildResult{
		Hex:         hex.EncodeToString(buf.Bytes()),
		MessageHash: hex.EncodeToString(messageHash[:]),
	}, nil
}

// wrapKeyForRecipient derives a per-recipient wrapping key via ECDH between
// the envelope's ephemeral key and the recipient's long-term pubkey, then
// seals messageKey under it, AAD-bound to the recipient's hash160.
func wrapKeyForRecipient(ephemeralPriv *btcec.PrivateKey, recipientPub *btcec.PublicKey, messageKey []byte) (hash []byte, wrapped []byte, err error) {
	shared := ecdhSharedSecret(ephemeralPriv, recipientPub)
	recipientHash := btcutilHash160(recipientPub.SerializeCompressed())

	wrapKey, err := deriveKey(shared, recipientPub.SerializeCompressed(), []byte("depinchat/wrap-key"), 32)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptomsg: derive wrap key: %w", err)
	}

	wrappedKey, err := seal(wrapKey, messageKey, recipientHash)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptomsg: seal wrapped key: %w", err)
	}
	return recipientHash, wrappedKey, nil
}

// OpenEnvelope scans the envelope's recipient table for an entry matching
// our own pubkey hash, unwraps the message key addressed to us, then
// decrypts the shared body. Any failure (not addressed to us, malformed
// envelope, AEAD mismatch) is returned as a plain error; the Poller treats
// every OpenEnvelope failure as "not for us" and skips the record silently.
func (a adapter) OpenEnvelope(encryptedHex string, recipientPrivateKey *btcec.PrivateKey) (string, error) {
	raw, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return "", fmt.Errorf("cryptomsg: decode envelope: %w", err)
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

	ourPubBytes := recipientPrivateKey.PubKey().SerializeCompressed()
	ourHash := btcutilHash160(ourPubBytes)

	var wrappedKey []byte
	found := false
	for i := uint64(0); i < n; i++ {
		keyID := make([]byte, 20)
		if _, err := r.Read(keyID); err != nil {
			return "", fmt.Errorf("cryptomsg: read recipient hash: %w", err)
		}
		wrapped, err := wireformat.ReadVector(r)
		if err != nil {
			return "", err
		}
		if !found && bytes.Equal(keyID, ourHash) {
			wrappedKey = wrapped
			found = true
		}
	}
	if !found {
		return "", fmt.Errorf("cryptomsg: not addressed to this recipient")
	}

	shared := ecdhSharedSecret(recipientPrivateKey, ephemeralPub)
	wrapKey, err := deriveKey(shared, ourPubBytes, []byte("depinchat/wrap-key"), 32)
	if err != nil {
		return "", fmt.Errorf("cryptomsg: derive wrap key: %w", err)
	}

	messageKey, err := open(wrapKey, wrappedKey, ourHash)
	if err != nil {
		return "", fmt.Errorf("cryptomsg: unwrap message key: %w", err)
	}

	plaintext, err := open(messageKey, encryptedBody, ephemeralPubBytes)
	if err != nil {
		return "", fmt.Errorf("cryptomsg: open body: %w", err)
	}
	return string(plaintext), nil
}

func btcutilHash160(b []byte) []byte { return adapter{}.Hash160(b) }

// Package cryptomsg is a concrete stand-in for the external `crypto_msg`
// library the spec treats as a black box: it implements BuildEnvelope,
// OpenEnvelope, WrapForPool, UnwrapFromPool, Hash160 and the hex helpers
// over secp256k1 ECDH + AES-256-GCM, so the rest of the core has a real
// implementation to run against. A node-provided bundle can replace this
// package without the core (EnvelopeCodec, Poller, Sender) changing, since
// all of it is reached through the Adapter interface below.
package cryptomsg

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"

	"depinchat/internal/apperr"
)

// MessageKind distinguishes group broadcast from addressed private
// envelopes, mirroring the wire-level `message_type` discriminator.
type MessageKind int

const (
	Group MessageKind = iota
	Private
)

// BuildParams bundles the BuildEnvelope call's arguments.
type BuildParams struct {
	Token             string
	SenderAddress     string
	SenderPubkey      string // lowercase hex, compressed
	SenderPrivateKey  *btcec.PrivateKey
	Timestamp         int64
	Message           string
	RecipientPubkeys  []string // lowercase hex, compressed
	Kind              MessageKind
}

// BuildResult is BuildEnvelope's return value.
type BuildResult struct {
	Hex         string
	MessageHash string
}

// Adapter is the crypto_msg contract the core depends on.
type Adapter interface {
	BuildEnvelope(p BuildParams) (BuildResult, error)
	OpenEnvelope(encryptedHex string, recipientPrivateKey *btcec.PrivateKey) (string, error)
	WrapForPool(payloadHex, poolPubkeyHex, senderAddress string) (string, error)
	UnwrapFromPool(encryptedHex string, recipientPrivateKey *btcec.PrivateKey) (string, error)
	Hash160(data []byte) []byte
	HexToBytes(s string) ([]byte, error)
	BytesToHex(b []byte) string
}

// adapter is the library's only implementation.
type adapter struct{}

// New returns the default cryptomsg Adapter.
func New() Adapter { return adapter{} }

func (adapter) Hash160(data []byte) []byte { return btcutil.Hash160(data) }

func (adapter) HexToBytes(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("cryptomsg: decode hex: %w", err)
	}
	return b, nil
}

func (adapter) BytesToHex(b []byte) string { return hex.EncodeToString(b) }

func decodePubkey(hexStr string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, &apperr.WalletError{Kind: "invalid_pubkey", Err: err}
	}
	pub, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, &apperr.WalletError{Kind: "invalid_pubkey", Err: err}
	}
	return pub, nil
}

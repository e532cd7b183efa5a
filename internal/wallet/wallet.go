// Package wallet decodes a WIF signing key into the address/pubkey/private
// key triple the rest of the core addresses as Wallet, grounded on the
// btcsuite/btcd WIF and address helpers used for wallet key management
// elsewhere in the retrieval pack.
package wallet

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"depinchat/internal/apperr"
)

// Wallet is the decoded signing identity for this client, held once by main
// and shared (never mutated) with Sender, Poller and Supervisor.
type Wallet struct {
	Address    string
	PubkeyHex  string // compressed, lowercase hex
	PrivateKey *btcec.PrivateKey
	pubKey     *btcec.PublicKey
}

// PublicKey returns the decoded compressed public key.
func (w *Wallet) PublicKey() *btcec.PublicKey { return w.pubKey }

// FromWIF decodes a WIF string into a Wallet using the mainnet params; the
// chain here is a UTXO fork identified purely by `network` in config, not by
// btcd's chain-params selection, so mainnet params are used only for the
// base58-check version byte shared across such forks.
func FromWIF(wif string) (*Wallet, error) {
	decoded, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, &apperr.WalletError{Kind: "invalid_wif", Err: err}
	}

	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(decoded.SerializePubKey()),
		&chaincfg.MainNetParams,
	)
	if err != nil {
		return nil, &apperr.WalletError{Kind: "invalid_wif", Err: err}
	}

	pub := decoded.PrivKey.PubKey()

	return &Wallet{
		Address:    addr.EncodeAddress(),
		PubkeyHex:  hex.EncodeToString(pub.SerializeCompressed()),
		PrivateKey: decoded.PrivKey,
		pubKey:     pub,
	}, nil
}

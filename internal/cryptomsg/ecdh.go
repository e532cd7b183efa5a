package cryptomsg

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ecdhSharedSecret returns the X coordinate of priv*pub on secp256k1. This
// is the scalar-multiply ECDH construction the envelope uses to derive a
// per-recipient key-wrapping key from an ephemeral keypair.
func ecdhSharedSecret(priv *btcec.PrivateKey, pub *btcec.PublicKey) []byte {
	var point, result secp256k1.JacobianPoint
	pub.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()
	x := result.X.Bytes()
	return x[:]
}

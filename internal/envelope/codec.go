// Package envelope implements the one piece of wire-format parsing the core
// does itself rather than delegating to the crypto library: walking past
// the ephemeral pubkey and encrypted body to read the recipient-hash table,
// so the Poller can resolve the peer of its own outgoing private messages
// without needing the crypto library to expose that structure. Deliberately
// isolated (per the data model) so cryptomsg.Adapter stays a black box.
package envelope

import (
	"bytes"
	"encoding/hex"

	"depinchat/internal/wireformat"
)

// ExtractRecipientHashes walks the envelope's wire layout and returns the
// lowercase-hex recipient hashes from its recipient table. A parse error
// before the table (bad hex, truncated or malformed length prefixes) yields
// an empty slice rather than an error; a table cut short stops the walk and
// returns the hashes read up to that point. With no matching hash the
// Poller leaves a private message's peer unresolved (empty).
func ExtractRecipientHashes(encryptedHex string) []string {
	raw, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return nil
	}
	r := bytes.NewReader(raw)

	if err := wireformat.SkipVector(r); err != nil { // ephemeral pubkey
		return nil
	}
	if err := wireformat.SkipVector(r); err != nil { // encrypted body
		return nil
	}

	n, err := wireformat.ReadCompactSize(r)
	if err != nil {
		return nil
	}

	// n comes straight off the wire and is untrusted: never use it to
	// pre-size an allocation. The r.Len() < 20 guard below already bounds
	// the loop to what's actually in the buffer.
	var hashes []string
	for i := uint64(0); i < n; i++ {
		if r.Len() < 20 {
			break
		}
		keyID := make([]byte, 20)
		if _, err := r.Read(keyID); err != nil {
			break
		}
		hashes = append(hashes, hex.EncodeToString(keyID))
		if err := wireformat.SkipVector(r); err != nil { // wrapped key
			break
		}
	}
	return hashes
}

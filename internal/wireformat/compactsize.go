// Package wireformat implements the envelope's length-prefix encoding: a
// "compact size" varint (byte-identical to the Bitcoin wire protocol's
// VarInt) followed by that many raw bytes. It is built directly on
// github.com/btcsuite/btcd/wire's VarInt reader/writer rather than
// hand-rolled, since the retrieval pack already carries btcsuite/btcd as a
// grounded dependency and its encoding matches this format byte-for-byte.
package wireformat

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// ReadCompactSize reads one compact-size integer from r.
func ReadCompactSize(r *bytes.Reader) (uint64, error) {
	n, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return 0, fmt.Errorf("wireformat: read compact size: %w", err)
	}
	return n, nil
}

// WriteCompactSize appends n's compact-size encoding to buf.
func WriteCompactSize(buf *bytes.Buffer, n uint64) error {
	return wire.WriteVarInt(buf, 0, n)
}

// ReadVector reads a compact-size length prefix followed by that many
// bytes. Truncation (not enough bytes remaining) is reported as an error
// rather than a short read.
func ReadVector(r *bytes.Reader) ([]byte, error) {
	n, err := ReadCompactSize(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("wireformat: vector truncated: want %d have %d", n, r.Len())
	}
	out := make([]byte, n)
	if _, err := r.Read(out); err != nil {
		return nil, fmt.Errorf("wireformat: read vector: %w", err)
	}
	return out, nil
}

// WriteVector appends a compact-size length prefix and the bytes themselves.
func WriteVector(buf *bytes.Buffer, data []byte) error {
	if err := WriteCompactSize(buf, uint64(len(data))); err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

// SkipVector advances r past one length-prefixed field without copying it,
// for callers that only need to parse past it (the recipient-hash table
// extractor in internal/envelope).
func SkipVector(r *bytes.Reader) error {
	n, err := ReadCompactSize(r)
	if err != nil {
		return err
	}
	if n > uint64(r.Len()) {
		return fmt.Errorf("wireformat: vector truncated: want %d have %d", n, r.Len())
	}
	if _, err := r.Seek(int64(n), 1); err != nil {
		return fmt.Errorf("wireformat: seek: %w", err)
	}
	return nil
}

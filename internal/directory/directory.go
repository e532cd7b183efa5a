// Package directory discovers token holders, caches their revealed
// pubkeys, and precomputes the recipient-hash -> address map used to
// address ciphertexts and to resolve peers from a parsed envelope.
package directory

import (
	"context"
	"strings"
	"time"

	"depinchat/internal/apperr"
	"depinchat/internal/cache"
	"depinchat/internal/cryptomsg"
	"depinchat/internal/rpcclient"
)

// RefreshMs is the recipient cache TTL.
const RefreshMs = 60_000

// Entry is one token holder's address + revealed pubkey.
type Entry struct {
	Address string
	Pubkey  string // lowercase hex
}

// Directory is the RecipientDirectory component.
type Directory struct {
	rpc    *rpcclient.Client
	crypto cryptomsg.Adapter
	token  string

	entries *cache.Entry[[]Entry]
	hashes  *cache.Entry[map[string]string]
}

// New builds a Directory against token, polling via rpc.
func New(rpc *rpcclient.Client, crypto cryptomsg.Adapter, token string) *Directory {
	ttl := RefreshMs * time.Millisecond
	return &Directory{
		rpc:     rpc,
		crypto:  crypto,
		token:   token,
		entries: cache.New[[]Entry](ttl),
		hashes:  cache.New[map[string]string](ttl),
	}
}

func (d *Directory) fetchEntries(ctx context.Context) ([]Entry, error) {
	raw, err := d.rpc.ListDepinAddresses(ctx, d.token)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		if r.Address == "" || r.Pubkey == "" {
			continue
		}
		entries = append(entries, Entry{
			Address: r.Address,
			Pubkey:  strings.ToLower(r.Pubkey),
		})
	}
	if len(entries) == 0 {
		return nil, apperr.NewMessageError(apperr.NoRecipients)
	}
	return entries, nil
}

// Refresh serves the cached entry list if fresh, else refetches (collapsing
// concurrent callers into one in-flight request); on fetch failure it
// falls back to a stale cache if any exists.
func (d *Directory) Refresh(ctx context.Context, force bool) ([]Entry, error) {
	entries, err := d.entries.Refresh(force, func() ([]Entry, error) {
		return d.fetchEntries(ctx)
	})
	if err != nil {
		return nil, err
	}
	// The hash map needs no invalidation here: HashMap() rebuilds it from
	// this entry list on every call.
	return entries, nil
}

// reverseBytes returns a reversed copy of b, used to derive the
// byte-reversed hash form that tolerates some RPC encodings' endianness
// variance.
func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// HashMap derives the recipient-hash -> address map from the current entry
// list. Each entry contributes both the forward hash160 hex and its
// byte-reversed form (a defensive measure against RPC encodings that
// expose the hash byte-reversed); first writer wins on collision, and the
// forward form is always inserted first. The invariant "hash map is
// non-empty iff entries is non-empty" follows directly from this deriving
// unconditionally from Refresh's result.
func (d *Directory) HashMap(ctx context.Context, force bool) (map[string]string, error) {
	entries, err := d.Refresh(ctx, force)
	if err != nil {
		if cached, ok := d.hashes.Get(); ok {
			return cached, nil
		}
		return nil, err
	}

	m := make(map[string]string, len(entries)*2)
	for _, e := range entries {
		pubBytes, err := d.crypto.HexToBytes(e.Pubkey)
		if err != nil {
			continue
		}
		hashBytes := d.crypto.Hash160(pubBytes)
		forward := d.crypto.BytesToHex(hashBytes)
		if _, exists := m[forward]; !exists {
			m[forward] = e.Address
		}
		reversed := d.crypto.BytesToHex(reverseBytes(hashBytes))
		if _, exists := m[reversed]; !exists {
			m[reversed] = e.Address
		}
	}
	d.hashes.Set(m)
	return m, nil
}

// PubkeyFor looks up address's revealed pubkey, force-refreshing once on a
// miss before giving up.
func (d *Directory) PubkeyFor(ctx context.Context, address string) (string, error) {
	find := func(entries []Entry) (string, bool) {
		for _, e := range entries {
			if e.Address == address {
				return e.Pubkey, true
			}
		}
		return "", false
	}

	entries, err := d.Refresh(ctx, false)
	if err == nil {
		if pk, ok := find(entries); ok {
			return pk, nil
		}
	}

	entries, err = d.Refresh(ctx, true)
	if err != nil {
		return "", err
	}
	if pk, ok := find(entries); ok {
		return pk, nil
	}
	return "", apperr.NewRecipientNotRevealed(address)
}

// Pubkeys returns every revealed pubkey, used for group broadcast.
func (d *Directory) Pubkeys(ctx context.Context) ([]string, error) {
	entries, err := d.Refresh(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Pubkey)
	}
	if len(out) == 0 {
		return nil, apperr.NewMessageError(apperr.NoRecipients)
	}
	return out, nil
}

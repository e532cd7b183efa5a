// Package sender implements the Sender component: parse user input into a
// group or addressed private message, resolve recipients, build the
// envelope, optionally wrap it for the pool's privacy layer, and submit it.
package sender

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"depinchat/internal/apperr"
	"depinchat/internal/cryptomsg"
	"depinchat/internal/directory"
	"depinchat/internal/rpcclient"
	"depinchat/internal/store"
)

// Sender is the component that turns raw user input into a submitted
// envelope.
type Sender struct {
	rpc         *rpcclient.Client
	crypto      cryptomsg.Adapter
	directory   *directory.Directory
	storeMu     atomic.Pointer[store.Store]
	token       string
	selfAddress string
	selfPubkey  string
	privateKey  *btcec.PrivateKey
}

// New builds a Sender.
func New(
	rpc *rpcclient.Client,
	crypto cryptomsg.Adapter,
	dir *directory.Directory,
	st *store.Store,
	token, selfAddress, selfPubkey string,
	privateKey *btcec.PrivateKey,
) *Sender {
	s := &Sender{
		rpc:         rpc,
		crypto:      crypto,
		directory:   dir,
		token:       token,
		selfAddress: selfAddress,
		selfPubkey:  selfPubkey,
		privateKey:  privateKey,
	}
	s.storeMu.Store(st)
	return s
}

// SetStore swaps in a fresh MessageStore, keeping outgoing-private
// registrations aligned with whichever store the Poller is currently using
// after a Supervisor full resync.
func (s *Sender) SetStore(st *store.Store) { s.storeMu.Store(st) }

// Result is what a successful Send returns, enough for the UI to echo the
// outgoing message immediately rather than waiting for the next poll.
type Result struct {
	Hash       string
	Kind       store.Kind
	Peer       string // empty for Group
	Plaintext  string
	Recipients int // envelope recipient count, including self for Private
}

// ParseInput splits "@address body" into (address, body, true), or returns
// ("", trimmed input, false) for a plain group message. A bare "@" or an "@" with no
// following body is treated as InvalidPrivateFormat by Send, not here.
func ParseInput(input string) (address, body string, isPrivate bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "@") {
		return "", trimmed, false
	}
	rest := trimmed[1:]
	parts := strings.SplitN(rest, " ", 2)
	address = parts[0]
	if len(parts) == 2 {
		body = strings.TrimSpace(parts[1])
	}
	return address, body, true
}

// Send parses input, resolves recipients, builds and submits the envelope.
func (s *Sender) Send(ctx context.Context, input string) (Result, error) {
	address, body, isPrivate := ParseInput(input)

	if isPrivate {
		return s.sendPrivate(ctx, address, body)
	}
	return s.sendGroup(ctx, body)
}

func (s *Sender) sendPrivate(ctx context.Context, address, body string) (Result, error) {
	if address == "" || body == "" {
		return Result{}, apperr.NewMessageError(apperr.InvalidPrivateFormat)
	}
	if address == s.selfAddress {
		return Result{}, apperr.NewMessageError(apperr.InvalidPrivateFormat)
	}

	pubkey, err := s.directory.PubkeyFor(ctx, address)
	if err != nil {
		return Result{}, err
	}

	// Include our own pubkey as a second recipient so a later poll of this
	// same envelope can decrypt it too; without that, OpenEnvelope would
	// never succeed for the sender's own copy and the OutgoingPrivateMap
	// classification tier would never be reached.
	recipients := []string{pubkey, s.selfPubkey}
	result, err := s.build(body, recipients, cryptomsg.Private)
	if err != nil {
		return Result{}, err
	}

	if err := s.submit(ctx, result.Hex); err != nil {
		return Result{}, err
	}

	s.storeMu.Load().RegisterOutgoingPrivate(result.MessageHash, address)

	return Result{
		Hash:       result.MessageHash,
		Kind:       store.Private,
		Peer:       address,
		Plaintext:  body,
		Recipients: len(recipients),
	}, nil
}

func (s *Sender) sendGroup(ctx context.Context, body string) (Result, error) {
	if body == "" {
		return Result{}, apperr.NewGenericMessageError("empty message")
	}

	pubkeys, err := s.directory.Pubkeys(ctx)
	if err != nil {
		return Result{}, err
	}

	result, err := s.build(body, pubkeys, cryptomsg.Group)
	if err != nil {
		return Result{}, err
	}

	if err := s.submit(ctx, result.Hex); err != nil {
		return Result{}, err
	}

	return Result{
		Hash:       result.MessageHash,
		Kind:       store.Group,
		Plaintext:  body,
		Recipients: len(pubkeys),
	}, nil
}

func (s *Sender) build(body string, recipientPubkeys []string, kind cryptomsg.MessageKind) (cryptomsg.BuildResult, error) {
	return s.crypto.BuildEnvelope(cryptomsg.BuildParams{
		Token:            s.token,
		SenderAddress:    s.selfAddress,
		SenderPubkey:     s.selfPubkey,
		SenderPrivateKey: s.privateKey,
		Timestamp:        time.Now().Unix(),
		Message:          body,
		RecipientPubkeys: recipientPubkeys,
		Kind:             kind,
	})
}

// submit optionally wraps payloadHex behind the pool's privacy layer before
// handing it to msg_submit, when msg_pool_info advertises a pool pubkey
// (depinpoolpkey non-empty and not "0"). A pool-info probe failure is not
// fatal: submission falls back to the unwrapped payload.
func (s *Sender) submit(ctx context.Context, payloadHex string) error {
	payload := payloadHex

	if info, err := s.rpc.MsgPoolInfo(ctx); err == nil && info.DepinPoolPubkey != "" && info.DepinPoolPubkey != "0" {
		if wrapped, err := s.crypto.WrapForPool(payloadHex, info.DepinPoolPubkey, s.selfAddress); err == nil {
			payload = wrapped
		}
	}

	_, err := s.rpc.MsgSubmit(ctx, payload)
	return err
}

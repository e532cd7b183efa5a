// Package poller implements the incremental polling loop: fetch, optionally
// unwrap the pool privacy layer, decrypt, classify, and emit.
package poller

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"go.uber.org/zap"

	"depinchat/internal/apperr"
	"depinchat/internal/cryptomsg"
	"depinchat/internal/directory"
	"depinchat/internal/envelope"
	"depinchat/internal/events"
	"depinchat/internal/rpcclient"
	"depinchat/internal/store"
)

const (
	MinIntervalMs = 1000
	MaxIntervalMs = 60000
)

// ClampInterval clamps ms into [MinIntervalMs, MaxIntervalMs].
func ClampInterval(ms int) int {
	if ms < MinIntervalMs {
		return MinIntervalMs
	}
	if ms > MaxIntervalMs {
		return MaxIntervalMs
	}
	return ms
}

// Poller is the periodic fetch/decrypt/classify/emit task. It never
// reconnects on its own — that is the Supervisor's job — and it is
// non-reentrant: a poll already running makes a concurrent Poll() call a
// no-op.
type Poller struct {
	rpc         *rpcclient.Client
	crypto      cryptomsg.Adapter
	directory   *directory.Directory
	sink        events.Sink
	logger      *zap.Logger
	token       string
	selfAddress string
	privateKey  *btcec.PrivateKey

	storeMu atomic.Pointer[store.Store]

	isPolling       atomic.Bool
	wasDisconnected atomic.Bool
	started         atomic.Bool

	// rpcDownHook is the Supervisor's notify-rpc-down callback. The Poller
	// never reconnects on its own; it only reports the failure upstream.
	// Must be wired before Start is called.
	rpcDownHook func(ctx context.Context, err error)

	interval time.Duration
	stopMu   sync.Mutex
	stop     chan struct{}
}

// New builds a Poller. intervalMs is clamped to [MinIntervalMs, MaxIntervalMs].
func New(
	rpc *rpcclient.Client,
	crypto cryptomsg.Adapter,
	dir *directory.Directory,
	st *store.Store,
	sink events.Sink,
	logger *zap.Logger,
	token, selfAddress string,
	privateKey *btcec.PrivateKey,
	intervalMs int,
) *Poller {
	p := &Poller{
		rpc:         rpc,
		crypto:      crypto,
		directory:   dir,
		sink:        sink,
		logger:      logger,
		token:       token,
		selfAddress: selfAddress,
		privateKey:  privateKey,
		interval:    time.Duration(ClampInterval(intervalMs)) * time.Millisecond,
	}
	p.storeMu.Store(st)
	p.wasDisconnected.Store(true) // first poll after startup is a full sync
	return p
}

// MarkDisconnected forces the next poll to run a full sync (used by the
// Supervisor's notify_rpc_down path).
func (p *Poller) MarkDisconnected() { p.wasDisconnected.Store(true) }

// SetStore swaps in a fresh MessageStore, used by the Supervisor's
// full-resync-on-recovery path.
func (p *Poller) SetStore(st *store.Store) { p.storeMu.Store(st) }

// SetRpcDownHook wires the Poller's error path to the Supervisor's
// notify-rpc-down callback. The Poller never reconnects itself — see
// fail — so whatever re-gates token/pubkey preconditions and re-enters
// Blocked is entirely the Supervisor's responsibility. Call before Start.
func (p *Poller) SetRpcDownHook(hook func(ctx context.Context, err error)) {
	p.rpcDownHook = hook
}

// Start runs the periodic loop until ctx is cancelled or Stop is called.
// Idempotent: a Start call while already running is a no-op, so the
// Supervisor can call it on every Verifying pass without leaking a
// ticker+goroutine per tick.
func (p *Poller) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	stopCh := make(chan struct{})
	p.stopMu.Lock()
	p.stop = stopCh
	p.stopMu.Unlock()
	ticker := time.NewTicker(p.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh: // captured, not re-read from p.stop: Stop can be
				return // called reentrantly from this same goroutine via fail
			case <-ticker.C:
				p.Poll(ctx)
			}
		}
	}()
}

// Stop halts the periodic loop; safe to call even if not started, and safe
// to call reentrantly from the poll goroutine itself (via rpcDownHook).
func (p *Poller) Stop() {
	p.stopMu.Lock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	p.stopMu.Unlock()
	p.started.Store(false)
}

// Poll runs one iteration immediately; a concurrent call while one is
// already running is a no-op.
func (p *Poller) Poll(ctx context.Context) {
	if !p.isPolling.CompareAndSwap(false, true) {
		return
	}
	defer p.isPolling.Store(false)

	if !p.rpc.Connected() {
		p.fail(ctx, apperr.NewRpcError("msg_receive", nil))
		return
	}

	wasDisconnected := p.wasDisconnected.Load()
	st := p.storeMu.Load()
	lastTs := st.LastTimestamp()
	useSince := !wasDisconnected && lastTs > 0

	result, err := p.rpc.MsgReceive(ctx, p.token, p.selfAddress, lastTs, useSince)
	if err != nil {
		p.fail(ctx, err)
		return
	}

	records := result.Records
	if result.Encrypted != "" {
		plaintext, err := p.crypto.UnwrapFromPool(result.Encrypted, p.privateKey)
		if err != nil {
			p.fail(ctx, err)
			return
		}
		if err := json.Unmarshal([]byte(plaintext), &records); err != nil {
			p.fail(ctx, err)
			return
		}
	}

	newCount := 0
	for _, rec := range records {
		if rec.Hash == "" || rec.SignatureHex == "" || rec.EncryptedPayloadHex == "" {
			continue
		}
		plaintext, err := p.crypto.OpenEnvelope(rec.EncryptedPayloadHex, p.privateKey)
		if err != nil {
			continue // not addressed to us, or malformed; expected and swallowed
		}

		msg := p.classify(ctx, rec, plaintext)
		if st.Add(msg) {
			newCount++
			p.sink.OnMessage(events.Message{
				Hash:      msg.Hash,
				Sender:    msg.Sender,
				Timestamp: msg.Timestamp,
				Plaintext: msg.Plaintext,
				Kind:      msg.Kind,
				Peer:      msg.Peer,
			})
		}
	}

	poolInfo := p.bestEffortPoolInfo(ctx)

	p.sink.OnPollComplete(events.PollComplete{
		Date:     time.Now().Unix(),
		NewCount: newCount,
		Total:    len(st.All()),
		PoolInfo: poolInfo,
	})

	if wasDisconnected {
		p.wasDisconnected.Store(false)
		p.sink.OnReconnected(events.Reconnected{})
	}
}

// classify decides Group vs Private and, for Private, resolves the peer
// address per the three-tier rule: outgoing map, sender field, or
// recipient-hash-table fallback.
func (p *Poller) classify(ctx context.Context, rec rpcclient.MessageRecord, plaintext string) store.Message {
	msg := store.Message{
		Hash:      rec.Hash,
		Signature: []byte(rec.SignatureHex),
		Sender:    rec.Sender,
		Timestamp: uint64(rec.Timestamp),
		Plaintext: plaintext,
		Kind:      store.Group,
	}

	if !strings.EqualFold(rec.MessageType, "private") {
		return msg
	}
	msg.Kind = store.Private

	if rec.Sender == p.selfAddress {
		if peer, ok := p.storeMu.Load().LookupOutgoingPrivate(rec.Hash); ok {
			msg.Peer = peer
			return msg
		}
	} else if rec.Sender != "" {
		msg.Peer = rec.Sender
		return msg
	}

	hashMap, err := p.directory.HashMap(ctx, false)
	if err != nil {
		return msg
	}
	for _, h := range envelope.ExtractRecipientHashes(rec.EncryptedPayloadHex) {
		if addr, ok := hashMap[h]; ok && addr != p.selfAddress {
			msg.Peer = addr
			return msg
		}
	}
	return msg
}

func (p *Poller) bestEffortPoolInfo(ctx context.Context) *events.PollInfo {
	info, err := p.rpc.MsgPoolInfo(ctx)
	if err != nil {
		return nil
	}
	return &events.PollInfo{Messages: info.Messages, Cipher: info.Cipher}
}

// fail reports a poll failure upstream. It never reconnects itself — that
// is the Supervisor's job, triggered via rpcDownHook — so a transient RPC
// failure always re-gates through Verifying instead of self-healing in
// place and bypassing the token/pubkey preconditions.
func (p *Poller) fail(ctx context.Context, err error) {
	p.wasDisconnected.Store(true)
	msg := "poll failed"
	if err != nil {
		msg = err.Error()
	}
	p.logger.Warn("poll error", zap.Error(err))
	p.sink.OnPollError(events.PollError{Message: msg})
	if p.rpcDownHook != nil {
		p.rpcDownHook(ctx, err)
	}
}

package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"depinchat/internal/cryptomsg"
	"depinchat/internal/directory"
	"depinchat/internal/events"
	"depinchat/internal/rpcclient"
	"depinchat/internal/store"
)

type rpcReq struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// fakeNode is a minimal JSON-RPC server whose msg_receive response is
// swappable per test.
type fakeNode struct {
	mu          sync.Mutex
	records     []rpcclient.MessageRecord
	depinAddrs  []map[string]string
	lastParams  []any
	sinceCalls  int
}

func newFakeNode(t *testing.T) (*httptest.Server, *fakeNode) {
	t.Helper()
	fn := &fakeNode{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{"jsonrpc": "2.0", "id": 1}
		fn.mu.Lock()
		defer fn.mu.Unlock()
		switch req.Method {
		case "blockchain_info":
			resp["result"] = map[string]any{"blocks": 1}
		case "msg_receive":
			fn.lastParams = req.Params
			if len(req.Params) > 2 {
				fn.sinceCalls++
			}
			resp["result"] = fn.records
		case "msg_pool_info":
			resp["result"] = rpcclient.PoolInfo{Messages: len(fn.records), Cipher: "none"}
		case "list_depin_addresses":
			resp["result"] = fn.depinAddrs
		default:
			resp["error"] = map[string]any{"code": -1, "message": "unexpected method " + req.Method}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	return srv, fn
}

type fakeSink struct {
	mu        sync.Mutex
	messages  []events.Message
	completes []events.PollComplete
	errs      []events.PollError
	reconnect int
}

func (f *fakeSink) OnMessage(m events.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
}
func (f *fakeSink) OnPollComplete(p events.PollComplete) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, p)
}
func (f *fakeSink) OnPollError(p events.PollError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, p)
}
func (f *fakeSink) OnReconnected(events.Reconnected) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnect++
}
func (f *fakeSink) OnBlockingErrors(events.BlockingErrors)   {}
func (f *fakeSink) OnBlockingCleared(events.BlockingCleared) {}

func newTestPoller(t *testing.T, srv *httptest.Server, selfKey *btcec.PrivateKey, selfAddress string) (*Poller, *store.Store, *fakeSink, *rpcclient.Client) {
	t.Helper()
	rpc := rpcclient.New(srv.URL, "", "")
	rpc.Reconnect(context.Background(), true) // populate the connected flag against the fake node

	crypto := cryptomsg.New()
	dir := directory.New(rpc, crypto, "TOKEN")
	st := store.New()
	sink := &fakeSink{}
	logger := zap.NewNop()

	p := New(rpc, crypto, dir, st, sink, logger, "TOKEN", selfAddress, selfKey, 5000)
	return p, st, sink, rpc
}

func sealedRecord(t *testing.T, crypto cryptomsg.Adapter, sender *btcec.PrivateKey, recipient *btcec.PrivateKey, msgType, hash string, ts int64, body string) rpcclient.MessageRecord {
	t.Helper()
	result, err := crypto.BuildEnvelope(cryptomsg.BuildParams{
		SenderPrivateKey: sender,
		Message:          body,
		RecipientPubkeys: []string{hexPub(recipient)},
		Kind:             cryptomsg.Private,
	})
	require.NoError(t, err)
	return rpcclient.MessageRecord{
		Hash:                hash,
		SignatureHex:        "sig",
		EncryptedPayloadHex: result.Hex,
		Sender:              "",
		Timestamp:           ts,
		MessageType:         msgType,
	}
}

func hexPub(k *btcec.PrivateKey) string {
	return cryptomsg.New().BytesToHex(k.PubKey().SerializeCompressed())
}

func newKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	k, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return k
}

func TestPollDecryptsAndStoresAddressedMessage(t *testing.T) {
	self := newKey(t)
	sender := newKey(t)
	crypto := cryptomsg.New()

	srv, fn := newFakeNode(t)
	defer srv.Close()

	rec := sealedRecord(t, crypto, sender, self, "group", "hash1", 100, "hello")
	fn.mu.Lock()
	fn.records = []rpcclient.MessageRecord{rec}
	fn.mu.Unlock()

	p, st, sink, _ := newTestPoller(t, srv, self, "self-addr")
	p.Poll(context.Background())

	all := st.All()
	require.Len(t, all, 1)
	assert.Equal(t, "hello", all[0].Plaintext)
	assert.Equal(t, store.Group, all[0].Kind)

	require.Len(t, sink.messages, 1)
	require.Len(t, sink.completes, 1)
	assert.Equal(t, 1, sink.completes[0].NewCount)
}

func TestPollSkipsEnvelopesNotAddressedToSelf(t *testing.T) {
	self := newKey(t)
	other := newKey(t)
	sender := newKey(t)
	crypto := cryptomsg.New()

	srv, fn := newFakeNode(t)
	defer srv.Close()

	rec := sealedRecord(t, crypto, sender, other, "group", "hash1", 100, "not for you")
	fn.mu.Lock()
	fn.records = []rpcclient.MessageRecord{rec}
	fn.mu.Unlock()

	p, st, _, _ := newTestPoller(t, srv, self, "self-addr")
	p.Poll(context.Background())

	assert.Empty(t, st.All())
}

func TestPollFirstRunIsFullSync(t *testing.T) {
	self := newKey(t)
	srv, fn := newFakeNode(t)
	defer srv.Close()
	fn.records = nil

	p, _, _, _ := newTestPoller(t, srv, self, "self-addr")
	p.Poll(context.Background())

	fn.mu.Lock()
	defer fn.mu.Unlock()
	assert.Equal(t, 0, fn.sinceCalls, "first poll after startup must omit since_ts")
}

func TestPollIncrementalUsesSinceTsAfterFirstSync(t *testing.T) {
	self := newKey(t)
	sender := newKey(t)
	crypto := cryptomsg.New()

	srv, fn := newFakeNode(t)
	defer srv.Close()

	rec := sealedRecord(t, crypto, sender, self, "group", "hash1", 100, "hello")
	fn.mu.Lock()
	fn.records = []rpcclient.MessageRecord{rec}
	fn.mu.Unlock()

	p, _, _, _ := newTestPoller(t, srv, self, "self-addr")
	p.Poll(context.Background()) // full sync, establishes lastTs=100

	fn.mu.Lock()
	fn.records = nil
	fn.mu.Unlock()

	p.Poll(context.Background()) // should now use since_ts

	fn.mu.Lock()
	defer fn.mu.Unlock()
	assert.Equal(t, 1, fn.sinceCalls)
}

func TestPollDedupSuppressesAlreadySeenMessage(t *testing.T) {
	self := newKey(t)
	sender := newKey(t)
	crypto := cryptomsg.New()

	srv, fn := newFakeNode(t)
	defer srv.Close()

	rec := sealedRecord(t, crypto, sender, self, "group", "hash1", 100, "hello")
	fn.mu.Lock()
	fn.records = []rpcclient.MessageRecord{rec}
	fn.mu.Unlock()

	p, st, sink, _ := newTestPoller(t, srv, self, "self-addr")
	p.Poll(context.Background())
	p.MarkDisconnected() // force a second full sync so the same record is fetched again
	p.Poll(context.Background())

	assert.Len(t, st.All(), 1, "dedup must suppress the re-fetched record")
	assert.Equal(t, 0, sink.completes[1].NewCount)
}

func TestPollPrivateOutgoingResolvedViaOutgoingMap(t *testing.T) {
	self := newKey(t)
	crypto := cryptomsg.New()

	srv, fn := newFakeNode(t)
	defer srv.Close()

	// A record this client sent itself, addressed to its own pubkey (as a
	// second recipient alongside the peer) so it can be re-decrypted on
	// poll: sender == self address, and the peer must come from the
	// registered outgoing-private mapping rather than the sender field or
	// the hash fallback.
	result, err := crypto.BuildEnvelope(cryptomsg.BuildParams{
		SenderPrivateKey: self,
		Message:          "hi peer",
		RecipientPubkeys: []string{hexPub(self)},
		Kind:             cryptomsg.Private,
	})
	require.NoError(t, err)
	rec := rpcclient.MessageRecord{
		Hash:                "hash1",
		SignatureHex:        "sig",
		EncryptedPayloadHex: result.Hex,
		Sender:              "self-addr",
		Timestamp:           100,
		MessageType:         "private",
	}
	fn.mu.Lock()
	fn.records = []rpcclient.MessageRecord{rec}
	fn.mu.Unlock()

	p, st, _, _ := newTestPoller(t, srv, self, "self-addr")
	st.RegisterOutgoingPrivate("hash1", "known-peer-addr")
	p.Poll(context.Background())

	all := st.All()
	require.Len(t, all, 1)
	assert.Equal(t, store.Private, all[0].Kind)
	assert.Equal(t, "known-peer-addr", all[0].Peer)
}

func TestPollPrivateIncomingResolvedViaSenderField(t *testing.T) {
	self := newKey(t)
	peer := newKey(t)
	crypto := cryptomsg.New()

	srv, fn := newFakeNode(t)
	defer srv.Close()

	rec := sealedRecord(t, crypto, peer, self, "private", "hash1", 100, "hi from peer")
	rec.Sender = "peer-addr"
	fn.mu.Lock()
	fn.records = []rpcclient.MessageRecord{rec}
	fn.mu.Unlock()

	p, st, _, _ := newTestPoller(t, srv, self, "self-addr")
	p.Poll(context.Background())

	all := st.All()
	require.Len(t, all, 1)
	assert.Equal(t, store.Private, all[0].Kind)
	assert.Equal(t, "peer-addr", all[0].Peer)
}

func TestPollPrivateResolvedViaRecipientHashFallback(t *testing.T) {
	self := newKey(t)
	peer := newKey(t)
	crypto := cryptomsg.New()

	srv, fn := newFakeNode(t)
	defer srv.Close()

	// No sender field on the record — as if the node relay didn't echo one
	// — so classify must fall back to matching the envelope's own
	// recipient-hash table against the directory's hash map. A real Sender
	// always addresses a private envelope to both the target and its own
	// pubkey (see sender.sendPrivate), so the table holds both hashes.
	result, err := crypto.BuildEnvelope(cryptomsg.BuildParams{
		SenderPrivateKey: peer,
		Message:          "hi from peer",
		RecipientPubkeys: []string{hexPub(self), hexPub(peer)},
		Kind:             cryptomsg.Private,
	})
	require.NoError(t, err)
	rec := rpcclient.MessageRecord{
		Hash:                "hash1",
		SignatureHex:        "sig",
		EncryptedPayloadHex: result.Hex,
		Sender:              "",
		Timestamp:           100,
		MessageType:         "private",
	}
	fn.mu.Lock()
	fn.records = []rpcclient.MessageRecord{rec}
	fn.depinAddrs = []map[string]string{
		{"address": "peer-addr", "pubkey": hexPub(peer)},
		{"address": "self-addr", "pubkey": hexPub(self)},
	}
	fn.mu.Unlock()

	p, st, _, _ := newTestPoller(t, srv, self, "self-addr")
	p.Poll(context.Background())

	all := st.All()
	require.Len(t, all, 1)
	assert.Equal(t, store.Private, all[0].Kind)
	assert.Equal(t, "peer-addr", all[0].Peer)
}

func TestPollUnknownGroupFlagDefaultsToGroup(t *testing.T) {
	self := newKey(t)
	sender := newKey(t)
	crypto := cryptomsg.New()

	srv, fn := newFakeNode(t)
	defer srv.Close()

	rec := sealedRecord(t, crypto, sender, self, "some-unknown-type", "hash1", 100, "hello")
	fn.mu.Lock()
	fn.records = []rpcclient.MessageRecord{rec}
	fn.mu.Unlock()

	p, st, _, _ := newTestPoller(t, srv, self, "self-addr")
	p.Poll(context.Background())

	all := st.All()
	require.Len(t, all, 1)
	assert.Equal(t, store.Group, all[0].Kind, "unrecognised message_type values fall back to Group")
}

func TestPollIsNonReentrant(t *testing.T) {
	self := newKey(t)
	srv, _ := newFakeNode(t)
	defer srv.Close()

	p, _, _, _ := newTestPoller(t, srv, self, "self-addr")
	p.isPolling.Store(true) // simulate a poll already in flight
	p.Poll(context.Background())

	// No assertion needed beyond "does not panic / does not double-run";
	// confirm the in-flight flag is left untouched by the no-op call.
	assert.True(t, p.isPolling.Load())
	p.isPolling.Store(false)
}

func TestPollErrorNotifiesSinkWhenDisconnected(t *testing.T) {
	self := newKey(t)
	p, _, sink, rpc := newTestPoller(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})), self, "self-addr")
	rpc.Reconnect(context.Background(), true) // observe the 500 and flip connected=false

	p.Poll(context.Background())

	require.NotEmpty(t, sink.errs)
}

func TestPollErrorRoutesToRpcDownHookInsteadOfSelfReconnecting(t *testing.T) {
	self := newKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	p, _, _, rpc := newTestPoller(t, srv, self, "self-addr")
	rpc.Reconnect(context.Background(), true)

	var hookCalls int
	var hookErr error
	p.SetRpcDownHook(func(ctx context.Context, err error) {
		hookCalls++
		hookErr = err
	})

	p.Poll(context.Background())

	assert.Equal(t, 1, hookCalls)
	assert.Error(t, hookErr)
	// The Poller itself must not have reconnected: connected stays false
	// because nothing but the Supervisor is allowed to call Reconnect.
	assert.False(t, rpc.Connected())
}

func TestStartIsIdempotent(t *testing.T) {
	self := newKey(t)
	srv, _ := newFakeNode(t)
	defer srv.Close()

	p, _, _, _ := newTestPoller(t, srv, self, "self-addr")

	p.Start(context.Background())
	firstStop := p.stop
	p.Start(context.Background())
	secondStop := p.stop

	assert.Equal(t, firstStop, secondStop, "a second Start while already running must not replace the stop channel or spawn another loop")
	p.Stop()
}

func TestStopThenStartRestartsTheLoop(t *testing.T) {
	self := newKey(t)
	srv, _ := newFakeNode(t)
	defer srv.Close()

	p, _, _, _ := newTestPoller(t, srv, self, "self-addr")

	p.Start(context.Background())
	p.Stop()
	assert.False(t, p.started.Load())

	p.Start(context.Background())
	assert.True(t, p.started.Load())
	p.Stop()
}

func TestClampIntervalBoundaries(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, MinIntervalMs},
		{-500, MinIntervalMs},
		{MinIntervalMs, MinIntervalMs},
		{MaxIntervalMs, MaxIntervalMs},
		{999999, MaxIntervalMs},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClampInterval(c.in), fmt.Sprintf("in=%d", c.in))
	}
}

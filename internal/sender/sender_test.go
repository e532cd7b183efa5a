package sender

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depinchat/internal/apperr"
	"depinchat/internal/cryptomsg"
	"depinchat/internal/directory"
	"depinchat/internal/rpcclient"
	"depinchat/internal/store"
)

type rpcReq struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type fakeNode struct {
	mu           sync.Mutex
	depinAddrs   []map[string]string
	poolPubkey   string
	submitted    []string
	submitCalled int
}

func newFakeNode(t *testing.T) (*httptest.Server, *fakeNode) {
	t.Helper()
	fn := &fakeNode{poolPubkey: "0"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{"jsonrpc": "2.0", "id": 1}
		fn.mu.Lock()
		defer fn.mu.Unlock()
		switch req.Method {
		case "blockchain_info":
			resp["result"] = map[string]any{"blocks": 1}
		case "list_depin_addresses":
			resp["result"] = fn.depinAddrs
		case "msg_pool_info":
			resp["result"] = rpcclient.PoolInfo{DepinPoolPubkey: fn.poolPubkey}
		case "msg_submit":
			fn.submitCalled++
			if len(req.Params) > 0 {
				if s, ok := req.Params[0].(string); ok {
					fn.submitted = append(fn.submitted, s)
				}
			}
			resp["result"] = rpcclient.MsgSubmitResult{Hash: "submitted-hash"}
		default:
			resp["error"] = map[string]any{"code": -1, "message": "unexpected method " + req.Method}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	return srv, fn
}

func newKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	k, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return k
}

func hexPub(k *btcec.PrivateKey) string {
	return cryptomsg.New().BytesToHex(k.PubKey().SerializeCompressed())
}

func newTestSender(t *testing.T, srv *httptest.Server, self *btcec.PrivateKey, selfAddr string) (*Sender, *store.Store, *directory.Directory) {
	t.Helper()
	rpc := rpcclient.New(srv.URL, "", "")
	crypto := cryptomsg.New()
	dir := directory.New(rpc, crypto, "TOKEN")
	st := store.New()
	s := New(rpc, crypto, dir, st, "TOKEN", selfAddr, hexPub(self), self)
	return s, st, dir
}

func TestParseInputGroupMessage(t *testing.T) {
	addr, body, isPrivate := ParseInput("hello everyone")
	assert.False(t, isPrivate)
	assert.Empty(t, addr)
	assert.Equal(t, "hello everyone", body)
}

func TestParseInputPrivateMessage(t *testing.T) {
	addr, body, isPrivate := ParseInput("@peer-addr hi there")
	assert.True(t, isPrivate)
	assert.Equal(t, "peer-addr", addr)
	assert.Equal(t, "hi there", body)
}

func TestParseInputBareAtSign(t *testing.T) {
	addr, body, isPrivate := ParseInput("@")
	assert.True(t, isPrivate)
	assert.Empty(t, addr)
	assert.Empty(t, body)
}

func TestSendPrivateResolvesRecipientAndSubmits(t *testing.T) {
	self := newKey(t)
	peer := newKey(t)

	srv, fn := newFakeNode(t)
	defer srv.Close()
	fn.depinAddrs = []map[string]string{
		{"address": "peer-addr", "pubkey": hexPub(peer)},
	}

	s, st, _ := newTestSender(t, srv, self, "self-addr")
	result, err := s.Send(context.Background(), "@peer-addr hello peer")
	require.NoError(t, err)
	assert.Equal(t, store.Private, result.Kind)
	assert.Equal(t, "peer-addr", result.Peer)
	assert.Equal(t, "hello peer", result.Plaintext)

	peerAddr, ok := st.LookupOutgoingPrivate(result.Hash)
	require.True(t, ok)
	assert.Equal(t, "peer-addr", peerAddr)

	fn.mu.Lock()
	defer fn.mu.Unlock()
	assert.Equal(t, 1, fn.submitCalled)
}

func TestSendPrivateToSelfIsRejected(t *testing.T) {
	self := newKey(t)
	srv, _ := newFakeNode(t)
	defer srv.Close()

	s, _, _ := newTestSender(t, srv, self, "self-addr")
	_, err := s.Send(context.Background(), "@self-addr talking to myself")
	require.Error(t, err)
	var msgErr *apperr.MessageError
	require.ErrorAs(t, err, &msgErr)
	assert.Equal(t, apperr.InvalidPrivateFormat, msgErr.Kind)
}

func TestSendPrivateUnknownRecipientFails(t *testing.T) {
	self := newKey(t)
	srv, fn := newFakeNode(t)
	defer srv.Close()
	fn.depinAddrs = nil

	s, _, _ := newTestSender(t, srv, self, "self-addr")
	_, err := s.Send(context.Background(), "@ghost-addr hello?")
	assert.Error(t, err)
}

func TestSendGroupBroadcastsToAllRecipients(t *testing.T) {
	self := newKey(t)
	other := newKey(t)

	srv, fn := newFakeNode(t)
	defer srv.Close()
	fn.depinAddrs = []map[string]string{
		{"address": "self-addr", "pubkey": hexPub(self)},
		{"address": "other-addr", "pubkey": hexPub(other)},
	}

	s, _, _ := newTestSender(t, srv, self, "self-addr")
	result, err := s.Send(context.Background(), "hello everyone")
	require.NoError(t, err)
	assert.Equal(t, store.Group, result.Kind)
	assert.Empty(t, result.Peer)
	assert.Equal(t, 2, result.Recipients)

	fn.mu.Lock()
	defer fn.mu.Unlock()
	assert.Equal(t, 1, fn.submitCalled)
}

func TestSendEmptyGroupMessageRejected(t *testing.T) {
	self := newKey(t)
	srv, _ := newFakeNode(t)
	defer srv.Close()

	s, _, _ := newTestSender(t, srv, self, "self-addr")
	_, err := s.Send(context.Background(), "   ")
	assert.Error(t, err)
}

func TestSubmitWrapsForPoolWhenPoolKeyPresent(t *testing.T) {
	self := newKey(t)
	peer := newKey(t)
	pool := newKey(t)

	srv, fn := newFakeNode(t)
	defer srv.Close()
	fn.depinAddrs = []map[string]string{
		{"address": "peer-addr", "pubkey": hexPub(peer)},
	}
	fn.poolPubkey = hexPub(pool)

	s, _, _ := newTestSender(t, srv, self, "self-addr")
	_, err := s.Send(context.Background(), "@peer-addr wrapped message")
	require.NoError(t, err)

	fn.mu.Lock()
	submitted := fn.submitted[0]
	fn.mu.Unlock()
	require.Len(t, fn.submitted, 1)

	crypto := cryptomsg.New()

	// The peer can't open it directly: the outer layer is encrypted for
	// the pool's key, not the peer's.
	_, err = crypto.OpenEnvelope(submitted, peer)
	assert.Error(t, err)

	// UnwrapFromPool yields the raw inner envelope bytes; OpenEnvelope takes hex.
	inner, err := crypto.UnwrapFromPool(submitted, pool)
	require.NoError(t, err)
	plaintext, err := crypto.OpenEnvelope(crypto.BytesToHex([]byte(inner)), peer)
	require.NoError(t, err)
	assert.Equal(t, "wrapped message", plaintext)
}

func TestSubmitSkipsPoolWrapWhenPoolKeyIsZero(t *testing.T) {
	self := newKey(t)
	peer := newKey(t)

	srv, fn := newFakeNode(t)
	defer srv.Close()
	fn.depinAddrs = []map[string]string{
		{"address": "peer-addr", "pubkey": hexPub(peer)},
	}
	fn.poolPubkey = "0"

	s, _, _ := newTestSender(t, srv, self, "self-addr")
	_, err := s.Send(context.Background(), "@peer-addr plain message")
	require.NoError(t, err)

	fn.mu.Lock()
	submitted := fn.submitted[0]
	fn.mu.Unlock()
	require.Len(t, fn.submitted, 1)

	// A "0" poolPubkey must yield the raw, unwrapped envelope: the peer
	// opens it directly, with no pool-layer decryption step in between.
	crypto := cryptomsg.New()
	plaintext, err := crypto.OpenEnvelope(submitted, peer)
	require.NoError(t, err)
	assert.Equal(t, "plain message", plaintext)
}

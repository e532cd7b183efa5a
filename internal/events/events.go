// Package events defines the event bus types published to the UIAdapter.
package events

import "depinchat/internal/store"

// Message announces one newly stored message.
type Message struct {
	Hash      string
	Sender    string
	Timestamp uint64
	Plaintext string
	Kind      store.Kind
	Peer      string // empty unless Kind == Private
}

// PollInfo is the best-effort pool snapshot attached to PollComplete.
type PollInfo struct {
	Messages int
	Cipher   string
}

// PollComplete announces the result of one poll iteration.
type PollComplete struct {
	Date     int64
	NewCount int
	Total    int
	PoolInfo *PollInfo // nil if msg_pool_info failed
}

// PollError announces a poll iteration failure.
type PollError struct {
	Message string
}

// Reconnected fires exactly once when a poll clears the disconnected flag.
type Reconnected struct{}

// BlockingErrors announces the Supervisor entering the Blocked state.
type BlockingErrors struct {
	Messages []string
}

// BlockingCleared announces the Supervisor leaving the Blocked state.
type BlockingCleared struct{}

// Sink receives every event the core publishes. Implementations must be
// idempotent under duplicate events (per the external interfaces contract).
type Sink interface {
	OnMessage(Message)
	OnPollComplete(PollComplete)
	OnPollError(PollError)
	OnReconnected(Reconnected)
	OnBlockingErrors(BlockingErrors)
	OnBlockingCleared(BlockingCleared)
}

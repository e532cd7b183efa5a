// Package supervisor implements the Verifying/Running/Blocked state machine
// that gates the Poller on RPC reachability, token ownership, and pubkey
// reveal status.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"depinchat/internal/directory"
	"depinchat/internal/events"
	"depinchat/internal/poller"
	"depinchat/internal/rpcclient"
	"depinchat/internal/store"
)

// RetryInterval is the sole retry timer period.
const RetryInterval = 30 * time.Second

// State is the Supervisor's externally visible state.
type State int

const (
	Verifying State = iota
	Running
	Blocked
)

// Supervisor owns the Poller's lifecycle and the store swap on recovery.
type Supervisor struct {
	rpc       *rpcclient.Client
	directory *directory.Directory
	poller    *poller.Poller
	sink      events.Sink
	logger    *zap.Logger
	token     string
	address   string

	newStore func() *store.Store
	setStore func(*store.Store)

	mu    sync.Mutex
	state State
	timer *time.Timer
	stop  chan struct{}
}

// New builds a Supervisor. setStore is called with a fresh *store.Store on
// every recovery (full resync); newStore constructs that fresh instance.
func New(
	rpc *rpcclient.Client,
	dir *directory.Directory,
	p *poller.Poller,
	sink events.Sink,
	logger *zap.Logger,
	token, address string,
	newStore func() *store.Store,
	setStore func(*store.Store),
) *Supervisor {
	return &Supervisor{
		rpc:       rpc,
		directory: dir,
		poller:    p,
		sink:      sink,
		logger:    logger,
		token:     token,
		address:   address,
		newStore:  newStore,
		setStore:  setStore,
		state:     Verifying,
	}
}

// State returns the current state, safe for concurrent reads.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start runs the first Verifying tick immediately, then on whatever
// schedule that tick requests.
func (s *Supervisor) Start(ctx context.Context) {
	s.stop = make(chan struct{})
	go s.tick(ctx)
}

// Stop halts the Supervisor's own timer (does not touch the Poller).
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.mu.Unlock()
}

func (s *Supervisor) scheduleTick(ctx context.Context, after time.Duration) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(after, func() { s.tick(ctx) })
	s.mu.Unlock()
}

// tick runs one Verifying pass.
func (s *Supervisor) tick(ctx context.Context) {
	wasBlocked := s.State() == Blocked

	s.mu.Lock()
	s.state = Verifying
	s.mu.Unlock()

	failures := s.verify(ctx)

	if len(failures) > 0 {
		s.enterBlocked(ctx, failures)
		return
	}

	if wasBlocked {
		s.recover(ctx)
		return
	}

	s.enterRunning(ctx)
}

// verify runs the three preconditions and aggregates failure messages.
func (s *Supervisor) verify(ctx context.Context) []string {
	var failures []string

	if !s.rpc.Connected() {
		s.rpc.Reconnect(ctx, true)
	} else {
		s.rpc.TestConnection(ctx, true)
	}

	if !s.rpc.Connected() {
		failures = append(failures, "rpc unreachable")
		return failures // token/pubkey checks are meaningless without a live RPC
	}

	balances, err := s.rpc.ListAddressesByAsset(ctx, s.token)
	if err != nil || balances[s.address] <= 0 {
		failures = append(failures, fmt.Sprintf("token %s not held by %s", s.token, s.address))
	}

	info, err := s.rpc.GetPubkey(ctx, s.address)
	if err != nil || info.Revealed == 0 {
		failures = append(failures, fmt.Sprintf("pubkey not revealed for %s", s.address))
	}

	return failures
}

func (s *Supervisor) enterBlocked(ctx context.Context, failures []string) {
	s.mu.Lock()
	s.state = Blocked
	s.mu.Unlock()

	s.poller.Stop()
	s.logger.Warn("supervisor blocked", zap.Strings("failures", failures))
	s.sink.OnBlockingErrors(events.BlockingErrors{Messages: failures})
	s.scheduleTick(ctx, RetryInterval)
}

// recover performs the full-sync recovery sequence: fresh store, forced
// poller disconnect flag, recipient cache force-refresh, poller restart,
// one immediate poll.
func (s *Supervisor) recover(ctx context.Context) {
	s.setStore(s.newStore())
	s.poller.MarkDisconnected()

	if _, err := s.directory.Refresh(ctx, true); err != nil {
		s.logger.Warn("recipient cache refresh failed during recovery", zap.Error(err))
	}

	s.enterRunning(ctx)
	s.poller.Poll(ctx)
	s.sink.OnBlockingCleared(events.BlockingCleared{})
}

func (s *Supervisor) enterRunning(ctx context.Context) {
	s.mu.Lock()
	s.state = Running
	s.mu.Unlock()

	s.poller.Start(ctx)
	s.scheduleTick(ctx, RetryInterval)
}

// NotifyRpcDown is the Poller's error-path hook, wired via
// Poller.SetRpcDownHook: it forces a full resync on next recovery and
// re-enters Blocked immediately, resetting the countdown. enterBlocked
// stops the poller itself, so this only needs to mark it disconnected.
func (s *Supervisor) NotifyRpcDown(ctx context.Context, err error) {
	s.poller.MarkDisconnected()

	msg := "rpc down"
	if err != nil {
		msg = err.Error()
	}
	s.enterBlocked(ctx, []string{msg})
}

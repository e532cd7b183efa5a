// Package shutdown provides the single ShutdownController resource referenced
// by signal handlers and the UI adapter, replacing free-standing globals and
// per-call os/signal plumbing (see design notes on global state).
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// Resetter performs terminal-reset cleanup (exit alt-screen, show cursor,
// reset attributes, disable mouse/bracketed-paste/focus reporting). The UI
// adapter implements this; tests can stub it.
type Resetter interface {
	ResetTerminal()
}

// Controller owns process-wide shutdown: it cancels the root context,
// resets the terminal exactly once, flushes logs, and exits.
type Controller struct {
	mu       sync.Mutex
	cancel   context.CancelFunc
	resetter Resetter
	logger   *zap.Logger
	done     bool
}

// New creates a Controller bound to ctx's cancel function and starts a
// goroutine watching for SIGINT/SIGTERM.
func New(cancel context.CancelFunc, resetter Resetter, logger *zap.Logger) *Controller {
	c := &Controller{cancel: cancel, resetter: resetter, logger: logger}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.Info("signal received, shutting down", zap.String("signal", sig.String()))
		c.Exit(0)
	}()
	return c
}

// Exit performs the cleanup sequence and terminates the process. Safe to
// call more than once; only the first call has effect.
func (c *Controller) Exit(code int) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	c.mu.Unlock()

	c.cancel()
	if c.resetter != nil {
		c.resetter.ResetTerminal()
	}
	_ = c.logger.Sync()
	os.Exit(code)
}

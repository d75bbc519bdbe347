// Package shutdown coordinates graceful teardown of long-running mode:
// signal handling, cleanup registration and ordered execution.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"nexus/internal/utils"
)

// CleanupFunc performs one piece of teardown. The context is cancelled
// when the shutdown deadline passes.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// Manager coordinates graceful shutdown.
type Manager struct {
	mu         sync.Mutex
	cleanups   []cleanupEntry
	shutdown   bool
	shutdownCh chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	once       sync.Once
	log        *utils.Logger
}

// NewManager creates a shutdown manager.
func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		shutdownCh: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		log:        utils.GetLogger(),
	}
}

// RegisterCleanup registers a teardown step. Steps run in LIFO order.
func (m *Manager) RegisterCleanup(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanupEntry{name: name, fn: fn})
}

// Listen initiates shutdown when SIGINT or SIGTERM arrives. It returns
// immediately; block on Done to wait for the signal.
func (m *Manager) Listen() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		m.log.Info("received %s, shutting down", sig)
		m.Shutdown()
	}()
}

// Shutdown initiates teardown. Safe to call multiple times; only the
// first call has effect.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		m.shutdown = true
		m.mu.Unlock()

		m.cancel()
		close(m.shutdownCh)
	})
}

// Done is closed once shutdown has been initiated.
func (m *Manager) Done() <-chan struct{} {
	return m.shutdownCh
}

// runCleanups executes registered steps in LIFO order. Failures are
// logged and the remaining steps still run.
func (m *Manager) runCleanups(ctx context.Context) {
	m.mu.Lock()
	cleanups := make([]cleanupEntry, len(m.cleanups))
	copy(cleanups, m.cleanups)
	m.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i].fn(ctx); err != nil {
			m.log.Warn("cleanup %q failed: %v", cleanups[i].name, err)
		}
	}
}

// Wait runs the cleanup steps, bounded by ctx.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.runCleanups(ctx)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsShutdown reports whether shutdown has been initiated.
func (m *Manager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// Context is cancelled when shutdown is initiated. Use it to make
// long-running operations interruptible.
func (m *Manager) Context() context.Context {
	return m.ctx
}

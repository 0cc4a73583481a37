// Package workers manages the lifecycle of the cooperating goroutines that
// make up the tunnel: every service spawns its workers through a shared
// [Manager] so that any one of them exiting tears all of them down.
package workers

import (
	"errors"
	"sync"

	"github.com/minisstp/minisstp/internal/model"
)

// ErrShutdown is returned by workers that observed a shutdown request.
var ErrShutdown = errors.New("workers: shutdown requested")

// Manager coordinates a set of workers. The zero value is invalid; construct
// with [NewManager].
type Manager struct {
	logger         model.Logger
	shouldShutdown chan any
	shutdownOnce   sync.Once
	wg             sync.WaitGroup
}

// NewManager creates a new [Manager].
func NewManager(logger model.Logger) *Manager {
	return &Manager{
		logger:         logger,
		shouldShutdown: make(chan any),
	}
}

// StartWorker starts a worker in a background goroutine. The worker must call
// [Manager.OnWorkerDone] before returning.
func (m *Manager) StartWorker(fn func()) {
	m.wg.Add(1)
	go fn()
}

// OnWorkerDone must be called by a worker when it is about to exit.
func (m *Manager) OnWorkerDone(name string) {
	m.logger.Debugf("%s: worker done", name)
	m.wg.Done()
}

// StartShutdown requests all workers to shut down. Idempotent.
func (m *Manager) StartShutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shouldShutdown)
	})
}

// ShouldShutdown returns the channel closed when a shutdown is in progress.
func (m *Manager) ShouldShutdown() <-chan any {
	return m.shouldShutdown
}

// WaitWorkersShutdown blocks until every worker has called OnWorkerDone.
func (m *Manager) WaitWorkersShutdown() {
	m.wg.Wait()
}

// Package lifecycle coordinates startup hooks, graceful shutdown, and readiness
// across the subsystems of a running service.
package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ReadinessChecker reports whether a subsystem is ready to serve traffic.
type ReadinessChecker interface {
	Ready() bool
}

// Coordinator manages startup and shutdown hooks for the application lifecycle.
type Coordinator struct {
	ctx        context.Context
	cancel     context.CancelFunc
	startupWg  sync.WaitGroup
	shutdownWg sync.WaitGroup
	ready      bool
	readyMu    sync.RWMutex
	checks     map[string]ReadinessChecker
}

// New creates a Coordinator with a cancellable context.
func New() *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		ctx:    ctx,
		cancel: cancel,
		checks: make(map[string]ReadinessChecker),
	}
}

// Context returns the coordinator's context, cancelled on shutdown.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// OnStartup registers a function to run concurrently during startup.
func (c *Coordinator) OnStartup(fn func()) {
	c.startupWg.Go(fn)
}

// OnShutdown registers a function to run concurrently during shutdown.
// Shutdown hooks should block on <-c.Context().Done() before executing cleanup.
func (c *Coordinator) OnShutdown(fn func()) {
	c.shutdownWg.Go(fn)
}

// Check registers a named readiness checker consulted by Ready.
func (c *Coordinator) Check(name string, checker ReadinessChecker) {
	c.readyMu.Lock()
	defer c.readyMu.Unlock()
	c.checks[name] = checker
}

// Ready returns true after all startup hooks have completed and every
// registered checker reports ready.
func (c *Coordinator) Ready() bool {
	c.readyMu.RLock()
	defer c.readyMu.RUnlock()
	if !c.ready {
		return false
	}
	for _, checker := range c.checks {
		if !checker.Ready() {
			return false
		}
	}
	return true
}

// Pending returns the sorted names of registered checkers that are not ready.
func (c *Coordinator) Pending() []string {
	c.readyMu.RLock()
	defer c.readyMu.RUnlock()

	pending := make([]string, 0)
	for name, checker := range c.checks {
		if !checker.Ready() {
			pending = append(pending, name)
		}
	}
	slices.Sort(pending)
	return pending
}

// WaitForStartup blocks until all startup hooks have completed and sets the ready flag.
func (c *Coordinator) WaitForStartup() {
	c.startupWg.Wait()
	c.readyMu.Lock()
	c.ready = true
	c.readyMu.Unlock()
}

// Shutdown cancels the context and waits for shutdown hooks to complete
// within the given timeout.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

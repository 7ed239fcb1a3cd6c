package session

import (
	"sync"
	"time"
)

// Gate is a latch that turns an asynchronous "program is running"
// notification into a bounded blocking wait. Signal may be called from any
// goroutine; once signaled the gate stays open.
type Gate struct {
	mu       sync.Mutex
	signaled bool
	done     chan struct{}
}

// NewGate returns an unsignaled gate.
func NewGate() *Gate {
	return &Gate{done: make(chan struct{})}
}

// Signal opens the gate and wakes the waiter. Later calls are no-ops.
func (g *Gate) Signal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.signaled {
		return
	}
	g.signaled = true
	close(g.done)
}

// Signaled reports whether the gate has been opened.
func (g *Gate) Signaled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.signaled
}

// Wait blocks until the gate is signaled or timeout elapses. It returns
// true if the gate was signaled, including before Wait was called.
func (g *Gate) Wait(timeout time.Duration) bool {
	done := g.channel()
	if timeout <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		// A signal racing the timer still counts.
		return g.Signaled()
	}
}

func (g *Gate) channel() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

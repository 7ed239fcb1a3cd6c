// Package rt requests real-time scheduling for latency-sensitive loops.
package rt

import (
	"errors"
	"runtime"
)

// ErrUnsupported is returned on platforms without real-time scheduling.
var ErrUnsupported = errors.New("rt: real-time scheduling not supported on " + runtime.GOOS)

// MaxPriority is the highest SCHED_FIFO priority accepted by Elevate.
const MaxPriority = 99

// Platform hooks, replaced in tests.
var (
	elevate = setFIFO
	demote  = setNormal
)

// Pin locks the calling goroutine to its OS thread and, when priority is
// positive, moves that thread to SCHED_FIFO at the given priority. The
// returned function releases the thread. The thread stays pinned even when
// elevation fails so the caller can carry on at normal priority.
//
// An elevated thread is put back to the normal policy before it is unlocked.
// If that fails it stays locked and exits with its goroutine, so no other
// goroutine is scheduled on a real-time thread.
func Pin(priority int) (release func(), err error) {
	runtime.LockOSThread()
	if priority <= 0 {
		return runtime.UnlockOSThread, nil
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}
	if err := elevate(priority); err != nil {
		return runtime.UnlockOSThread, err
	}
	return func() {
		if demote() == nil {
			runtime.UnlockOSThread()
		}
	}, nil
}

// LockMemory locks current and future pages of the process into RAM so
// page faults cannot stall the keepalive loop.
func LockMemory() error {
	return lockMemory()
}

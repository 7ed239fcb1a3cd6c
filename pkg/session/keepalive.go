package session

import (
	"context"
	"fmt"
	"time"
)

// Clock is the time source of the keepalive loop. Durations are measured
// with Time.Sub, which uses the monotonic reading when present.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock returns the wall clock with its monotonic reading.
func SystemClock() Clock { return systemClock{} }

// Reason tells why a keepalive loop ended without error.
type Reason int

const (
	DurationElapsed Reason = iota
	StopRequested
)

func (r Reason) String() string {
	if r == StopRequested {
		return "stop requested"
	}
	return "duration elapsed"
}

// Tick is reported after every keepalive that was sent.
type Tick struct {
	N       uint64
	Period  time.Duration // time since the previous tick
	Elapsed time.Duration
	Missed  uint64
}

// Result summarizes a keepalive loop.
type Result struct {
	Reason    Reason
	Sent      uint64
	Elapsed   time.Duration
	MaxPeriod time.Duration
	Missed    uint64
}

// SendError is returned by Scheduler.Run when a keepalive could not be
// written. It matches ErrKeepaliveSend.
type SendError struct {
	Tick uint64
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%v at tick %d: %v", ErrKeepaliveSend, e.Tick, e.Err)
}

func (e *SendError) Unwrap() []error {
	return []error{ErrKeepaliveSend, e.Err}
}

// Scheduler sends a keepalive every Interval until Duration has elapsed or,
// when Duration is zero, until the context is cancelled.
type Scheduler struct {
	Send     func() error
	Interval time.Duration
	Duration time.Duration
	Clock    Clock
	OnTick   func(Tick)
}

// Run executes the loop on the calling goroutine. Cancellation is observed
// once per iteration, after the keepalive for that iteration was sent.
// A failed send ends the loop immediately with ErrKeepaliveSend.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	clock := s.Clock
	if clock == nil {
		clock = SystemClock()
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 2 * time.Millisecond
	}

	var res Result
	last := clock.Now()
	next := last
	for {
		if err := s.Send(); err != nil {
			return res, &SendError{Tick: res.Sent + 1, Err: err}
		}
		res.Sent++

		now := clock.Now()
		period := now.Sub(last)
		last = now
		res.Elapsed += period
		if period > res.MaxPeriod {
			res.MaxPeriod = period
		}
		if s.OnTick != nil {
			s.OnTick(Tick{N: res.Sent, Period: period, Elapsed: res.Elapsed, Missed: res.Missed})
		}

		if s.Duration > 0 && res.Elapsed >= s.Duration {
			res.Reason = DurationElapsed
			return res, nil
		}
		select {
		case <-ctx.Done():
			res.Reason = StopRequested
			return res, nil
		default:
		}

		// Deadlines are start + n*interval. More than a whole tick behind
		// means ticks were lost: count them and re-anchor on now.
		next = next.Add(interval)
		wait := next.Sub(now)
		if wait < -interval {
			res.Missed += uint64(-wait / interval)
			next = now
			continue
		}
		if wait > 0 {
			clock.Sleep(wait)
		}
	}
}

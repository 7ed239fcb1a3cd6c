// Package session coordinates a force-mode session with an actuator: the
// dashboard handshake, starting force mode for the negotiated controller
// version, the keepalive loop and the teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gwillem/urforce/pkg/robot"
	"github.com/gwillem/urforce/pkg/rt"
)

const (
	defaultStatusEvery  = 50
	endForceModeTimeout = 2 * time.Second
)

// Status is a snapshot of a running session.
type Status struct {
	SessionID     string
	State         State
	Version       robot.Version
	CalibrationOK bool
	Keepalives    uint64
	Elapsed       time.Duration
	Duration      time.Duration
	LastPeriod    time.Duration
	MaxPeriod     time.Duration
	Missed        uint64
	Timestamp     time.Time
	Err           error
}

// Config holds the collaborators and settings of a session.
type Config struct {
	Robot     robot.Config
	Dashboard robot.Dashboard
	NewDriver robot.DriverFactory
	Logger    *slog.Logger
	Clock     Clock

	// ExtraSteps run after the configured power and brake steps.
	ExtraSteps []Step

	// RealtimePriority moves the keepalive thread to SCHED_FIFO when > 0.
	RealtimePriority int

	// StatusEvery publishes a status every N keepalives.
	StatusEvery int
}

// Session drives one actuator from handshake to teardown. A Session is
// single use.
type Session struct {
	id        string
	cfg       robot.Config
	dash      robot.Dashboard
	newDriver robot.DriverFactory
	driver    robot.Driver
	gate      *Gate
	log       *slog.Logger
	clock     Clock
	steps     []Step
	rtPrio    int
	every     uint64

	mu       sync.Mutex
	running  bool
	state    State
	status   Status
	statusCh chan Status
}

// New creates a session. It does not contact the actuator.
func New(cfg Config) (*Session, error) {
	if cfg.Dashboard == nil {
		return nil, errors.New("session: dashboard is required")
	}
	if cfg.NewDriver == nil {
		return nil, errors.New("session: driver factory is required")
	}
	if err := cfg.Robot.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id, "robot", cfg.Robot.Address)

	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	every := cfg.StatusEvery
	if every <= 0 {
		every = defaultStatusEvery
	}

	s := &Session{
		id:        id,
		cfg:       cfg.Robot,
		dash:      cfg.Dashboard,
		newDriver: cfg.NewDriver,
		gate:      NewGate(),
		log:       logger,
		clock:     clock,
		rtPrio:    cfg.RealtimePriority,
		every:     uint64(every),
		statusCh:  make(chan Status, 1),
	}
	s.steps = append(policySteps(cfg.Robot.Handshake, cfg.Dashboard), cfg.ExtraSteps...)
	s.status = Status{SessionID: id, Duration: cfg.Robot.Duration.Std()}
	return s, nil
}

// ID returns the session id used in logs.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Statuses returns a channel of status snapshots. Only the latest snapshot
// is kept; the channel is closed when Run returns.
func (s *Session) Statuses() <-chan Status {
	return s.statusCh
}

// Run executes the session. It returns nil when the configured duration
// elapsed or ctx was cancelled during the keepalive loop, and a *StepError
// naming the failed step otherwise.
func (s *Session) Run(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	defer func() { s.finish(err) }()

	if err := s.handshake(ctx); err != nil {
		return err
	}
	if err := s.startMotionMode(ctx, CommandFromConfig(s.cfg.ForceMode)); err != nil {
		return err
	}
	// Force mode is held from here on and released on every exit path.
	defer func() { err = s.endMotionMode(err) }()

	return s.keepalive(ctx)
}

// startMotionMode encodes cmd for the controller version and starts force
// mode.
func (s *Session) startMotionMode(ctx context.Context, cmd MotionModeCommand) error {
	version := s.driver.Version()
	req := cmd.Encode(version)
	if req.GainScaling == nil && cmd.GainScaling != nil {
		s.log.Warn("gain scaling not supported by controller, ignoring", "version", version.String())
	}

	s.log.Info("starting force mode",
		"version", version.String(),
		"arity", req.Arity(),
		"compliant_axes", req.Selection.CompliantAxes(),
		"frame_mode", req.FrameMode.String(),
		"damping", req.Damping,
	)
	if err := s.driver.StartForceMode(ctx, req); err != nil {
		return s.fail("start force mode", ErrMotionModeRejected, err)
	}
	s.advance(MotionModeActive)
	return nil
}

func (s *Session) keepalive(ctx context.Context) error {
	release, err := rt.Pin(s.rtPrio)
	defer release()
	if err != nil {
		s.log.Warn("running keepalive at normal priority", "error", err)
	}

	sched := &Scheduler{
		Send:     s.driver.WriteKeepalive,
		Interval: s.cfg.KeepaliveInterval.Std(),
		Duration: s.cfg.Duration.Std(),
		Clock:    s.clock,
		OnTick:   s.onTick,
	}
	s.log.Info("keepalive loop started", "interval", sched.Interval, "duration", sched.Duration)

	res, err := sched.Run(ctx)
	s.updateStatus(func(st *Status) {
		st.Keepalives = res.Sent
		st.Elapsed = res.Elapsed
		st.MaxPeriod = res.MaxPeriod
		st.Missed = res.Missed
	})
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return s.fail("keepalive", ErrKeepaliveSend, fmt.Errorf("tick %d: %w", sendErr.Tick, sendErr.Err))
	}
	s.log.Info("keepalive loop finished",
		"reason", res.Reason.String(),
		"keepalives", res.Sent,
		"elapsed", res.Elapsed,
		"max_period", res.MaxPeriod,
		"missed", res.Missed,
	)
	return nil
}

func (s *Session) onTick(t Tick) {
	if t.N%s.every != 0 {
		return
	}
	s.updateStatus(func(st *Status) {
		st.Keepalives = t.N
		st.Elapsed = t.Elapsed
		st.LastPeriod = t.Period
		if t.Period > st.MaxPeriod {
			st.MaxPeriod = t.Period
		}
		st.Missed = t.Missed
	})
}

// endMotionMode is the shutdown sequencer. It runs exactly once after force
// mode was started, whatever ended the keepalive loop.
func (s *Session) endMotionMode(runErr error) error {
	s.advance(ShuttingDown)
	if runErr != nil {
		s.log.Error("ending force mode after failure", "error", runErr)
	} else {
		s.log.Info("ending force mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), endForceModeTimeout)
	defer cancel()
	if err := s.driver.EndForceMode(ctx); err != nil {
		return errors.Join(runErr, s.fail("end force mode", ErrEndMotionMode, err))
	}
	return runErr
}

// finish releases the collaborators and marks the session terminated.
func (s *Session) finish(err error) {
	if s.driver != nil {
		if cerr := s.driver.Close(); cerr != nil {
			s.log.Warn("close driver", "error", cerr)
		}
	}
	if cerr := s.dash.Close(); cerr != nil {
		s.log.Warn("close dashboard", "error", cerr)
	}

	s.updateStatus(func(st *Status) { st.Err = err })
	s.advance(Terminated)
	if err != nil {
		s.log.Error("session failed", "error", err)
	} else {
		s.log.Info("session finished")
	}
	close(s.statusCh)
}

// fail wraps a step failure and logs it.
func (s *Session) fail(step string, kind, err error) error {
	serr := &StepError{Step: step, State: s.State(), Kind: kind, Err: err}
	s.log.Error("step failed", "step", step, "state", serr.State.String(), "error", serr)
	return serr
}

// advance moves the session forward and publishes the new state.
func (s *Session) advance(to State) {
	s.mu.Lock()
	from := s.state
	if !from.CanAdvanceTo(to) {
		s.mu.Unlock()
		s.log.Error("invalid state transition", "from", from.String(), "to", to.String())
		return
	}
	s.state = to
	s.status.State = to
	s.mu.Unlock()

	s.log.Debug("state", "from", from.String(), "to", to.String())
	s.updateStatus(func(*Status) {})
}

func (s *Session) updateStatus(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.status.Timestamp = s.clock.Now()
	st := s.status
	s.mu.Unlock()
	s.sendStatus(st)
}

// sendStatus never blocks: an unread snapshot is replaced by the newer one.
func (s *Session) sendStatus(st Status) {
	select {
	case s.statusCh <- st:
	default:
		select {
		case <-s.statusCh:
		default:
		}
		select {
		case s.statusCh <- st:
		default:
		}
	}
}

// onProgramState is handed to the driver and may run on any goroutine.
func (s *Session) onProgramState(running bool) {
	s.log.Info("program state changed", "running", running)
	if running {
		s.gate.Signal()
	}
}

func (s *Session) String() string {
	return fmt.Sprintf("session %s (%s)", s.id, s.State())
}

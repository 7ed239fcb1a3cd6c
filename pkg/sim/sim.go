// Package sim provides an in-process simulated actuator for running
// sessions without hardware. It implements the dashboard and the driver
// and checks force-mode commands the way a controller would.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gwillem/urforce/pkg/robot"
)

// Errors returned by the simulated actuator.
var (
	ErrUnreachable       = errors.New("sim: dashboard unreachable")
	ErrRejected          = errors.New("sim: command rejected")
	ErrProgramNotRunning = errors.New("sim: external control program not running")
	ErrWatchdog          = errors.New("sim: connection dropped by watchdog")
)

// Config describes the simulated actuator.
type Config struct {
	Version             robot.Version
	CalibrationChecksum string

	// ProgramStartDelay is how long the external control program takes to
	// report running after deployment.
	ProgramStartDelay time.Duration
	// NeverStart keeps the external control program from reporting running.
	NeverStart bool

	Unreachable   bool
	RejectStop    bool
	RejectPowerOn bool
	// RejectDeploy makes the driver factory fail.
	RejectDeploy bool
	// RejectForceMode makes start force mode fail.
	RejectForceMode bool
	// RejectEndForceMode makes end force mode fail.
	RejectEndForceMode bool

	// FailKeepaliveAt makes the n-th keepalive fail (1-based, 0 = never).
	FailKeepaliveAt uint64
	// Watchdog drops the program when keepalives are further apart than
	// this (0 disables).
	Watchdog time.Duration
}

// DefaultConfig is a 5.11 controller with the stock calibration that starts
// its program after 20 ms.
func DefaultConfig() Config {
	return Config{
		Version:             robot.Version{Major: 5, Minor: 11, Bugfix: 1, Build: 108318},
		CalibrationChecksum: robot.DefaultCalibrationChecksum,
		ProgramStartDelay:   20 * time.Millisecond,
	}
}

// Stats records what the actuator was asked to do.
type Stats struct {
	DashboardCommands []string
	ForceModeRequests []robot.ForceModeRequest
	Keepalives        uint64
	EndForceModeCalls int
	DriversCreated    int
	ForceModeActive   bool
}

// Robot is a simulated actuator.
type Robot struct {
	cfg Config

	mu             sync.Mutex
	stats          Stats
	connected      bool
	programRunning bool
	dropped        bool
	lastKeepalive  time.Time
	onState        robot.ProgramStateFunc
	startTimer     *time.Timer
}

// New creates a simulated actuator.
func New(cfg Config) *Robot {
	return &Robot{cfg: cfg}
}

// Stats returns a copy of the recorded activity.
func (r *Robot) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stats
	st.DashboardCommands = append([]string(nil), r.stats.DashboardCommands...)
	st.ForceModeRequests = append([]robot.ForceModeRequest(nil), r.stats.ForceModeRequests...)
	return st
}

// Dashboard returns the simulated dashboard channel.
func (r *Robot) Dashboard() robot.Dashboard {
	return &dashboard{r: r}
}

// NewDriver deploys the simulated external control program. It satisfies
// robot.DriverFactory.
func (r *Robot) NewDriver(ctx context.Context, onState robot.ProgramStateFunc) (robot.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.RejectDeploy {
		return nil, fmt.Errorf("deploy control script: %w", ErrRejected)
	}
	r.stats.DriversCreated++
	r.onState = onState
	r.dropped = false
	if !r.cfg.NeverStart {
		r.startTimer = time.AfterFunc(r.cfg.ProgramStartDelay, r.startProgram)
	}
	return &driver{r: r}, nil
}

func (r *Robot) startProgram() {
	r.mu.Lock()
	r.programRunning = true
	r.lastKeepalive = time.Now()
	onState := r.onState
	r.mu.Unlock()
	if onState != nil {
		onState(true)
	}
}

// stopProgram must be called without r.mu held.
func (r *Robot) stopProgram() {
	r.mu.Lock()
	wasRunning := r.programRunning
	r.programRunning = false
	r.stats.ForceModeActive = false
	onState := r.onState
	r.mu.Unlock()
	if wasRunning && onState != nil {
		onState(false)
	}
}

func (r *Robot) dashboardCommand(ctx context.Context, name string, reject bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return fmt.Errorf("%s: not connected", name)
	}
	r.stats.DashboardCommands = append(r.stats.DashboardCommands, name)
	if reject {
		return fmt.Errorf("%s: %w", name, ErrRejected)
	}
	return nil
}

type dashboard struct {
	r *Robot
}

func (d *dashboard) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.r.cfg.Unreachable {
		return ErrUnreachable
	}
	d.r.mu.Lock()
	d.r.connected = true
	d.r.mu.Unlock()
	return nil
}

func (d *dashboard) Stop(ctx context.Context) error {
	if err := d.r.dashboardCommand(ctx, "stop", d.r.cfg.RejectStop); err != nil {
		return err
	}
	d.r.stopProgram()
	return nil
}

func (d *dashboard) PowerOn(ctx context.Context) error {
	return d.r.dashboardCommand(ctx, "power on", d.r.cfg.RejectPowerOn)
}

func (d *dashboard) PowerOff(ctx context.Context) error {
	return d.r.dashboardCommand(ctx, "power off", false)
}

func (d *dashboard) BrakeRelease(ctx context.Context) error {
	return d.r.dashboardCommand(ctx, "brake release", false)
}

// PolyscopeVersion reports the simulated controller version.
func (d *dashboard) PolyscopeVersion(ctx context.Context) (robot.Version, error) {
	if err := d.r.dashboardCommand(ctx, "PolyscopeVersion", false); err != nil {
		return robot.Version{}, err
	}
	return d.r.cfg.Version, nil
}

func (d *dashboard) Close() error {
	d.r.mu.Lock()
	d.r.connected = false
	d.r.mu.Unlock()
	return nil
}

type driver struct {
	r *Robot
}

func (d *driver) Version() robot.Version {
	return d.r.cfg.Version
}

func (d *driver) CheckCalibration(ctx context.Context, checksum string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return d.r.cfg.CalibrationChecksum == checksum, nil
}

func (d *driver) StartForceMode(ctx context.Context, req robot.ForceModeRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := d.r
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.ForceModeRequests = append(r.stats.ForceModeRequests, req)
	if !r.programRunning {
		return ErrProgramNotRunning
	}
	if r.cfg.RejectForceMode {
		return fmt.Errorf("start force mode: %w", ErrRejected)
	}
	if err := validateForceMode(req, r.cfg.Version); err != nil {
		return err
	}
	r.stats.ForceModeActive = true
	return nil
}

func validateForceMode(req robot.ForceModeRequest, v robot.Version) error {
	if !v.SupportsGainScaling() && req.GainScaling != nil {
		return fmt.Errorf("%w: gain scaling needs controller %d.0 or newer", ErrRejected, robot.GainScalingMinMajor)
	}
	if req.Damping < 0 || req.Damping > 1 {
		return fmt.Errorf("%w: damping %g outside [0, 1]", ErrRejected, req.Damping)
	}
	if req.GainScaling != nil && (*req.GainScaling < 0 || *req.GainScaling > 2) {
		return fmt.Errorf("%w: gain scaling %g outside [0, 2]", ErrRejected, *req.GainScaling)
	}
	if !req.FrameMode.Valid() {
		return fmt.Errorf("%w: frame mode %d", ErrRejected, int(req.FrameMode))
	}
	for i, l := range req.Limits {
		if l < 0 {
			return fmt.Errorf("%w: negative limit on %s", ErrRejected, robot.AllAxes()[i])
		}
	}
	return nil
}

func (d *driver) EndForceMode(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := d.r
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.EndForceModeCalls++
	if r.cfg.RejectEndForceMode {
		return fmt.Errorf("end force mode: %w", ErrRejected)
	}
	r.stats.ForceModeActive = false
	return nil
}

func (d *driver) WriteKeepalive() error {
	r := d.r
	r.mu.Lock()
	if r.dropped {
		r.mu.Unlock()
		return ErrWatchdog
	}
	r.stats.Keepalives++
	n := r.stats.Keepalives
	now := time.Now()
	late := r.cfg.Watchdog > 0 && r.programRunning && now.Sub(r.lastKeepalive) > r.cfg.Watchdog
	r.lastKeepalive = now
	fail := r.cfg.FailKeepaliveAt != 0 && n == r.cfg.FailKeepaliveAt
	if late || fail {
		r.dropped = true
	}
	r.mu.Unlock()

	switch {
	case late:
		r.stopProgram()
		return ErrWatchdog
	case fail:
		r.stopProgram()
		return fmt.Errorf("write keepalive %d: connection reset", n)
	}
	return nil
}

func (d *driver) Close() error {
	r := d.r
	r.mu.Lock()
	if r.startTimer != nil {
		r.startTimer.Stop()
	}
	r.mu.Unlock()
	r.stopProgram()
	return nil
}

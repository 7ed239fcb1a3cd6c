package robot

import "context"

// ProgramStateFunc is called by a Driver whenever the external control
// program on the actuator starts or stops. It may be called from any
// goroutine.
type ProgramStateFunc func(running bool)

// Dashboard is the administrative command channel of the actuator.
type Dashboard interface {
	Connect(ctx context.Context) error
	Stop(ctx context.Context) error
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
	BrakeRelease(ctx context.Context) error
	Close() error
}

// Driver is the real-time control channel opened once the external control
// program has been deployed.
type Driver interface {
	// CheckCalibration reports whether the actuator's kinematic calibration
	// matches checksum.
	CheckCalibration(ctx context.Context, checksum string) (bool, error)
	Version() Version
	StartForceMode(ctx context.Context, req ForceModeRequest) error
	EndForceMode(ctx context.Context) error
	// WriteKeepalive is called from the keepalive loop and must not block
	// for longer than a write deadline.
	WriteKeepalive() error
	Close() error
}

// DriverFactory deploys the external control program and returns a Driver
// that reports program state changes to onState.
type DriverFactory func(ctx context.Context, onState ProgramStateFunc) (Driver, error)

// ForceModeRequest is the wire-level argument list of a start-force-mode
// command. GainScaling is nil for the six-group encoding used by older
// controllers.
type ForceModeRequest struct {
	TaskFrame   Vector6
	Selection   Selection
	Wrench      Vector6
	FrameMode   FrameMode
	Limits      Vector6
	Damping     float64
	GainScaling *float64
}

// Arity returns the number of positional argument groups in the request.
func (r ForceModeRequest) Arity() int {
	if r.GainScaling != nil {
		return 7
	}
	return 6
}

package session

import (
	"context"

	"github.com/gwillem/urforce/pkg/robot"
)

// Step is an optional dashboard command run during the handshake. A
// failing step aborts the session with ErrCommandRejected.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// policySteps returns the power and brake steps enabled in cfg, in the
// order the actuator needs them.
func policySteps(cfg robot.HandshakeConfig, dash robot.Dashboard) []Step {
	var steps []Step
	if cfg.PowerOff {
		steps = append(steps, Step{Name: "power off", Run: dash.PowerOff})
	}
	if cfg.PowerOn {
		steps = append(steps, Step{Name: "power on", Run: dash.PowerOn})
	}
	if cfg.BrakeRelease {
		steps = append(steps, Step{Name: "brake release", Run: dash.BrakeRelease})
	}
	return steps
}

// handshake brings the actuator from disconnected to running the external
// control program.
func (s *Session) handshake(ctx context.Context) error {
	if err := s.dash.Connect(ctx); err != nil {
		return s.fail("connect dashboard", ErrConnection, err)
	}
	s.advance(DashboardConnected)
	s.log.Info("dashboard connected")

	if err := s.dash.Stop(ctx); err != nil {
		return s.fail("stop program", ErrCommandRejected, err)
	}
	s.advance(ProgramStopped)
	s.log.Info("program stopped")

	for _, step := range s.steps {
		if err := step.Run(ctx); err != nil {
			return s.fail(step.Name, ErrCommandRejected, err)
		}
		s.log.Info("dashboard step done", "step", step.Name)
	}

	driver, err := s.newDriver(ctx, s.onProgramState)
	if err != nil {
		return s.fail("start control session", ErrDriverStart, err)
	}
	s.driver = driver
	s.updateStatus(func(st *Status) { st.Version = driver.Version() })
	s.advance(AwaitingProgramStart)

	s.checkCalibration(ctx)

	if !s.waitForProgram(ctx) {
		return s.fail("wait for external control", ErrExternalControlNotRunning, ctx.Err())
	}
	s.advance(ProgramRunning)
	s.log.Info("external control program running")
	return nil
}

// checkCalibration only warns: a mismatched calibration degrades accuracy
// but the actuator can still be driven.
func (s *Session) checkCalibration(ctx context.Context) {
	expected := s.cfg.CalibrationChecksum
	if expected == "" {
		s.log.Info("no calibration checksum configured, skipping check")
		return
	}
	ok, err := s.driver.CheckCalibration(ctx, expected)
	if err != nil {
		s.log.Warn("could not verify calibration", "error", err)
		return
	}
	if !ok {
		s.log.Warn("calibration checksum does not match actual robot",
			"error", ErrCalibrationMismatch,
			"expected", expected,
			"hint", "extract the calibration from the robot and pass its checksum with --checksum",
		)
		return
	}
	s.updateStatus(func(st *Status) { st.CalibrationOK = true })
	s.log.Info("calibration checksum matches")
}

// waitForProgram waits on the gate for up to the configured number of
// attempts.
func (s *Session) waitForProgram(ctx context.Context) bool {
	timeout := s.cfg.Handshake.WaitTimeout.Std()
	attempts := s.cfg.Handshake.WaitAttempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 1; i <= attempts; i++ {
		if s.gate.Wait(timeout) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		s.log.Debug("external control program not running yet", "attempt", i, "of", attempts)
	}
	return false
}

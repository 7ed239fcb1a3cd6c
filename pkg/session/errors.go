package session

import (
	"errors"
	"fmt"
)

// Failure kinds. Match them with errors.Is.
var (
	ErrConnection                = errors.New("dashboard unreachable")
	ErrCommandRejected           = errors.New("dashboard command rejected")
	ErrCalibrationMismatch       = errors.New("calibration checksum mismatch")
	ErrDriverStart               = errors.New("external control session could not be started")
	ErrExternalControlNotRunning = errors.New("external control program not running")
	ErrMotionModeRejected        = errors.New("force mode rejected")
	ErrKeepaliveSend             = errors.New("keepalive send failed")
	ErrEndMotionMode             = errors.New("force mode could not be ended")
	ErrAlreadyRunning            = errors.New("session already running")
)

// StepError records which step of a session failed.
type StepError struct {
	Step  string
	State State // state the session was in when the step failed
	Kind  error
	Err   error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

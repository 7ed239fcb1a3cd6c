package session

import "github.com/gwillem/urforce/pkg/robot"

// MotionModeCommand describes a force-mode start independent of the
// controller version. GainScaling is optional and only sent to controllers
// that understand it.
type MotionModeCommand struct {
	TaskFrame   robot.Vector6
	Selection   robot.Selection
	Wrench      robot.Vector6
	FrameMode   robot.FrameMode
	Limits      robot.Vector6
	Damping     float64
	GainScaling *float64
}

// CommandFromConfig builds the command from configured parameters.
func CommandFromConfig(f robot.ForceModeConfig) MotionModeCommand {
	return MotionModeCommand{
		TaskFrame:   f.TaskFrame,
		Selection:   f.Selection,
		Wrench:      f.Wrench,
		FrameMode:   f.FrameMode,
		Limits:      f.Limits,
		Damping:     f.Damping,
		GainScaling: f.GainScaling,
	}
}

// Encode selects the argument shape for the negotiated controller version.
// From major version 5 on the gain scaling argument is always present and
// defaults to robot.DefaultGainScaling; below it is omitted.
func (c MotionModeCommand) Encode(v robot.Version) robot.ForceModeRequest {
	req := robot.ForceModeRequest{
		TaskFrame: c.TaskFrame,
		Selection: c.Selection,
		Wrench:    c.Wrench,
		FrameMode: c.FrameMode,
		Limits:    c.Limits,
		Damping:   c.Damping,
	}
	if v.SupportsGainScaling() {
		gain := robot.DefaultGainScaling
		if c.GainScaling != nil {
			gain = *c.GainScaling
		}
		req.GainScaling = &gain
	}
	return req
}

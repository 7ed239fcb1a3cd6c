package urdriver

import "github.com/gwillem/urforce/pkg/robot"

// Script command ids.
const (
	cmdStartForceMode = 3
	cmdEndForceMode   = 4

	// scriptCommandLen is the longest script command: id, task frame,
	// selection, wrench, frame mode, limits, damping, gain scaling.
	scriptCommandLen = 1 + 6 + 6 + 6 + 1 + 6 + 1 + 1
)

// startForceModeMessage encodes req. The gain scaling slot is only present
// when req carries one, so a six argument request is one value shorter.
func startForceModeMessage(req robot.ForceModeRequest) []int32 {
	msg := make([]int32, 0, scriptCommandLen)
	msg = append(msg, cmdStartForceMode)
	msg = appendVector(msg, req.TaskFrame)
	for _, s := range req.Selection {
		msg = append(msg, int32(s)*mult)
	}
	msg = appendVector(msg, req.Wrench)
	msg = append(msg, int32(req.FrameMode)*mult)
	msg = appendVector(msg, req.Limits)
	msg = append(msg, fixed(req.Damping))
	if req.GainScaling != nil {
		msg = append(msg, fixed(*req.GainScaling))
	}
	return msg
}

func endForceModeMessage() []int32 {
	msg := make([]int32, scriptCommandLen)
	msg[0] = cmdEndForceMode
	return msg
}

func appendVector(msg []int32, v robot.Vector6) []int32 {
	for _, x := range v {
		msg = append(msg, fixed(x))
	}
	return msg
}

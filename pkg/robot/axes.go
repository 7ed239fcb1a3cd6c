// Package robot holds the data model shared by the session coordinator and
// the collaborators that talk to the actuator.
package robot

import "fmt"

// Axis identifies one degree of freedom of a task-space vector.
type Axis string

// Cartesian axes in the order the actuator expects them.
const (
	X  Axis = "x"
	Y  Axis = "y"
	Z  Axis = "z"
	RX Axis = "rx"
	RY Axis = "ry"
	RZ Axis = "rz"
)

// AllAxes returns all axes in vector order (x, y, z, rx, ry, rz).
func AllAxes() []Axis {
	return []Axis{X, Y, Z, RX, RY, RZ}
}

// Vector6 is a task-space vector: three translations followed by three rotations.
type Vector6 [6]float64

// Selection marks which axes are compliant (1) and which stay rigid (0).
type Selection [6]int

// CompliantAxes returns the compliant axes in vector order.
func (s Selection) CompliantAxes() []Axis {
	var axes []Axis
	for i, axis := range AllAxes() {
		if s[i] != 0 {
			axes = append(axes, axis)
		}
	}
	return axes
}

// FrameMode selects how the force frame is derived from the task frame.
type FrameMode int

const (
	// FramePointToPoint aligns the force frame y-axis with the vector from
	// the tool to the task frame origin.
	FramePointToPoint FrameMode = 1
	// FrameNoTransform uses the task frame as the force frame.
	FrameNoTransform FrameMode = 2
	// FrameMotion aligns the force frame x-axis with the TCP velocity
	// projected onto the task frame x-y plane.
	FrameMotion FrameMode = 3
)

func (m FrameMode) String() string {
	switch m {
	case FramePointToPoint:
		return "point-to-point"
	case FrameNoTransform:
		return "no-transform"
	case FrameMotion:
		return "motion"
	default:
		return fmt.Sprintf("frame-mode(%d)", int(m))
	}
}

// Valid reports whether m is a mode the actuator accepts.
func (m FrameMode) Valid() bool {
	return m >= FramePointToPoint && m <= FrameMotion
}

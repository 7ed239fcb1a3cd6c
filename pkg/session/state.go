package session

// State is the lifecycle position of a session. States only move forward.
type State int

const (
	Disconnected State = iota
	DashboardConnected
	ProgramStopped
	AwaitingProgramStart
	ProgramRunning
	MotionModeActive
	ShuttingDown
	Terminated
)

var stateNames = map[State]string{
	Disconnected:         "disconnected",
	DashboardConnected:   "dashboard-connected",
	ProgramStopped:       "program-stopped",
	AwaitingProgramStart: "awaiting-program-start",
	ProgramRunning:       "program-running",
	MotionModeActive:     "motion-mode-active",
	ShuttingDown:         "shutting-down",
	Terminated:           "terminated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CanAdvanceTo reports whether next is a legal transition from s.
func (s State) CanAdvanceTo(next State) bool {
	return next > s && next <= Terminated
}

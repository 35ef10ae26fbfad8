package server

// State represents the lifecycle state of the managed listener
type State int

const (
	// StateStopped is the initial state and the state after a completed stop
	StateStopped State = iota
	// StateRunning means the native listener is bound and serving
	StateRunning
	// StateStopping means a graceful stop is in progress
	StateStopping
	// StateShutdown is terminal. No lifecycle operation leaves it.
	StateShutdown
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

package supervisor

// State is the lifecycle state of the supervised child.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

var allStates = []State{StateIdle, StateStarting, StateRunning, StateStopping}

func (s State) String() string { return string(s) }

// Busy reports whether a child exists or is being created.
func (s State) Busy() bool { return s != StateIdle }

package bot

// State is the lifecycle position of a Bot.
type State int

const (
	StateCreated State = iota
	StateConnecting
	StateReady
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

package coordinator

// RunState is the lifecycle of one crawl run.
type RunState int32

// Run lifecycle states.
const (
	StateInitializing RunState = iota
	StateRunning
	StateDraining
	StateCompleted
)

func (s RunState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

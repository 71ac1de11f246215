package node

// Status is the execution state of a node within one run.
type Status int32

const (
	// StatusPending indicates the node is waiting for its dependencies.
	StatusPending Status = iota
	// StatusRunning indicates the tool invocation is in flight.
	StatusRunning
	// StatusCompleted indicates the tool exited successfully.
	StatusCompleted
	// StatusFailed indicates the tool failed or could not be started.
	StatusFailed
	// StatusSkipped indicates an upstream node failed or the run was
	// cancelled before the node could start.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

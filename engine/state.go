package engine

// State is a job instance's position in its lifecycle. The zero value
// is StatePending; terminal states never transition further.
type State int

const (
	StatePending State = iota
	StateBlocked
	StateRunnable
	StateRunning
	StateSucceeded
	StateFailed
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateBlocked:
		return "blocked"
	case StateRunnable:
		return "runnable"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}

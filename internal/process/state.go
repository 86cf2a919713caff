package process

// State is the scheduling state of a process.
type State int

const (
	// Unstarted: loaded but not yet executed, or reset after a restart.
	Unstarted State = iota
	// Running: currently holding, or eligible to immediately reacquire, the
	// execution slot.
	Running
	// Yielded: blocked until any upcall is pending.
	Yielded
	// YieldedFor: blocked until a specific (driver, subscribe) upcall is
	// pending; see Process.WaitingFor.
	YieldedFor
	// Stopped: exited or halted by policy; terminal until an explicit
	// restart request.
	Stopped
	// Faulted: hit a protection violation or kernel-detected invariant
	// violation; awaiting the restart policy's decision.
	Faulted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Running:
		return "running"
	case Yielded:
		return "yielded"
	case YieldedFor:
		return "yielded-for"
	case Stopped:
		return "stopped"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further execution without an
// external restart.
func (s State) Terminal() bool {
	return s == Stopped || s == Faulted
}

// Blocked reports whether the process is waiting for an upcall.
func (s State) Blocked() bool {
	return s == Yielded || s == YieldedFor
}

package fault

import "fmt"

// AlwaysRestart restarts the process after every fault.
type AlwaysRestart struct{}

// ShouldRestart implements process.RestartPolicy.
func (AlwaysRestart) ShouldRestart(int) bool { return true }

func (AlwaysRestart) String() string { return "always-restart" }

// RestartUpToN restarts at most N times; the fault after the Nth restart
// leaves the process stopped.
type RestartUpToN struct {
	N int
}

// ShouldRestart implements process.RestartPolicy. faultCount includes the
// current fault, so a process with N prior restarts is denied.
func (p RestartUpToN) ShouldRestart(faultCount int) bool {
	return faultCount <= p.N
}

func (p RestartUpToN) String() string { return fmt.Sprintf("restart-up-to-%d", p.N) }

// StopOnFault never restarts.
type StopOnFault struct{}

// ShouldRestart implements process.RestartPolicy.
func (StopOnFault) ShouldRestart(int) bool { return false }

func (StopOnFault) String() string { return "stop-on-fault" }

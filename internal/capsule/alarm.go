package capsule

import (
	"github.com/kestrel-os/kestrel/internal/abi"
	"github.com/kestrel-os/kestrel/internal/process"
)

// Alarm command numbers.
const (
	AlarmCmdCheck  uint32 = 0
	AlarmCmdTicks  uint32 = 1
	AlarmCmdSet    uint32 = 2 // arg0 = relative ticks
	AlarmCmdCancel uint32 = 3
)

// AlarmSubExpired is the expiry notification slot.
const AlarmSubExpired uint32 = 0

// Clock is the tick source the alarm capsule reads. The simulated board
// advances it manually; a real chip backs it with a hardware counter whose
// compare interrupt is bound to this capsule.
type Clock interface {
	Ticks() uint32
}

// Alarm multiplexes a single hardware timer among processes: each process
// owns at most one outstanding alarm, set relative to the current tick
// count. Expiry is detected when the timer interrupt fires and is
// delivered as an upcall.
type Alarm struct {
	backend Backend
	clock   Clock
	// pending maps process id to absolute expiry tick.
	pending map[int]uint32
}

// NewAlarm creates the alarm capsule.
func NewAlarm(backend Backend, clock Clock) *Alarm {
	return &Alarm{backend: backend, clock: clock, pending: make(map[int]uint32)}
}

// Command implements Driver.
func (a *Alarm) Command(pid int, cmd, arg0, arg1 uint32) Result {
	switch cmd {
	case AlarmCmdCheck:
		return OK()
	case AlarmCmdTicks:
		return OK(a.clock.Ticks())
	case AlarmCmdSet:
		at := a.clock.Ticks() + arg0
		a.pending[pid] = at
		return OK(at)
	case AlarmCmdCancel:
		if _, ok := a.pending[pid]; !ok {
			return Err(abi.Already)
		}
		delete(a.pending, pid)
		return OK()
	default:
		return Err(abi.NoSupport)
	}
}

// Subscribe implements Driver.
func (a *Alarm) Subscribe(pid int, subscribeID uint32) abi.ErrorCode {
	if subscribeID != AlarmSubExpired {
		return abi.NoSupport
	}
	return abi.Ok
}

// AllowReadWrite implements Driver.
func (a *Alarm) AllowReadWrite(pid int, allowID uint32, buf process.Buffer) abi.ErrorCode {
	return abi.NoSupport
}

// AllowReadOnly implements Driver.
func (a *Alarm) AllowReadOnly(pid int, allowID uint32, buf process.Buffer) abi.ErrorCode {
	return abi.NoSupport
}

// HandleInterrupt fires every expired alarm. Tick comparison tolerates
// wraparound over half the counter range.
func (a *Alarm) HandleInterrupt(irq int) {
	now := a.clock.Ticks()
	for pid, at := range a.pending {
		if !expired(now, at) {
			continue
		}
		delete(a.pending, pid)
		a.backend.EnqueueUpcall(pid, abi.Upcall{
			DriverID:    DriverAlarm,
			SubscribeID: AlarmSubExpired,
			Args:        [3]uint32{now, at, 0},
		})
	}
}

// ProcessReset drops any outstanding alarm for a restarted process so a
// stale expiry cannot reach the next instantiation.
func (a *Alarm) ProcessReset(pid int) {
	delete(a.pending, pid)
}

func expired(now, at uint32) bool {
	return now-at < 1<<31
}

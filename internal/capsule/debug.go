package capsule

import (
	"go.uber.org/zap"

	"github.com/kestrel-os/kestrel/internal/abi"
	"github.com/kestrel-os/kestrel/internal/process"
)

// Debug command numbers.
const (
	DebugCmdCheck uint32 = 0
	DebugCmdPrint uint32 = 1 // emit the read-only share as a log line
	DebugCmdMark  uint32 = 2 // emit arg0/arg1 as a structured marker
)

// DebugAllowPrint is the read-only share slot for print payloads.
const DebugAllowPrint uint32 = 0

// Debug is the low-level debug capsule: it lets an application emit log
// lines and numeric markers through the kernel's structured logger without
// owning the console.
type Debug struct {
	backend Backend
	log     *zap.Logger
}

// NewDebug creates the debug capsule.
func NewDebug(backend Backend, log *zap.Logger) *Debug {
	return &Debug{backend: backend, log: log}
}

// Command implements Driver.
func (d *Debug) Command(pid int, cmd, arg0, arg1 uint32) Result {
	switch cmd {
	case DebugCmdCheck:
		return OK()
	case DebugCmdPrint:
		buf, ok := d.backend.AllowedBuffer(pid, DriverDebug, DebugAllowPrint, true)
		if !ok || buf.Size == 0 {
			return Err(abi.Reserve)
		}
		if arg0 != 0 && arg0 < buf.Size {
			buf.Size = arg0
		}
		data, err := d.backend.ReadAppMemory(pid, buf)
		if err != nil {
			return Err(abi.Fail)
		}
		d.log.Info("app debug", zap.Int("pid", pid), zap.ByteString("msg", data))
		return OK(uint32(len(data)))
	case DebugCmdMark:
		d.log.Info("app marker", zap.Int("pid", pid), zap.Uint32("a", arg0), zap.Uint32("b", arg1))
		return OK()
	default:
		return Err(abi.NoSupport)
	}
}

// Subscribe implements Driver; the debug capsule has no notifications.
func (d *Debug) Subscribe(pid int, subscribeID uint32) abi.ErrorCode {
	return abi.NoSupport
}

// AllowReadWrite implements Driver.
func (d *Debug) AllowReadWrite(pid int, allowID uint32, buf process.Buffer) abi.ErrorCode {
	return abi.NoSupport
}

// AllowReadOnly implements Driver.
func (d *Debug) AllowReadOnly(pid int, allowID uint32, buf process.Buffer) abi.ErrorCode {
	if allowID != DebugAllowPrint {
		return abi.NoSupport
	}
	return abi.Ok
}

package capsule

import (
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/kestrel-os/kestrel/internal/abi"
	"github.com/kestrel-os/kestrel/internal/process"
)

// Console command numbers.
const (
	ConsoleCmdCheck uint32 = 0
	ConsoleCmdWrite uint32 = 1
)

// Console subscribe and allow slots.
const (
	ConsoleSubWriteDone uint32 = 1
	ConsoleAllowWrite   uint32 = 0 // read-only share of the outgoing buffer
)

// Console is the serial-output capsule: a process shares a read-only
// buffer, commands a write, and receives a write-done upcall carrying the
// byte count. Output goes to the configured sink and to any attached
// observers (the inspection API streams it over a websocket).
type Console struct {
	backend Backend
	sink    io.Writer
	log     *zap.Logger

	mu        sync.Mutex
	observers map[int]chan []byte
	nextObs   int
}

// NewConsole creates the console capsule writing to sink.
func NewConsole(backend Backend, sink io.Writer, log *zap.Logger) *Console {
	return &Console{
		backend:   backend,
		sink:      sink,
		log:       log,
		observers: make(map[int]chan []byte),
	}
}

// Command implements Driver.
func (c *Console) Command(pid int, cmd, arg0, arg1 uint32) Result {
	switch cmd {
	case ConsoleCmdCheck:
		return OK()
	case ConsoleCmdWrite:
		return c.write(pid, arg0)
	default:
		return Err(abi.NoSupport)
	}
}

// write copies up to length bytes out of the process's shared buffer,
// emits them, and queues the completion upcall.
func (c *Console) write(pid int, length uint32) Result {
	buf, ok := c.backend.AllowedBuffer(pid, DriverConsole, ConsoleAllowWrite, true)
	if !ok || buf.Size == 0 {
		return Err(abi.Reserve)
	}
	if length > buf.Size {
		length = buf.Size
	}
	data, err := c.backend.ReadAppMemory(pid, process.Buffer{Ptr: buf.Ptr, Size: length})
	if err != nil {
		return Err(abi.Fail)
	}
	if c.sink != nil {
		if _, err := c.sink.Write(data); err != nil {
			c.log.Warn("console sink write failed", zap.Error(err))
		}
	}
	c.broadcast(data)
	c.backend.EnqueueUpcall(pid, abi.Upcall{
		DriverID:    DriverConsole,
		SubscribeID: ConsoleSubWriteDone,
		Args:        [3]uint32{length, 0, 0},
	})
	return OK(length)
}

// Subscribe implements Driver.
func (c *Console) Subscribe(pid int, subscribeID uint32) abi.ErrorCode {
	if subscribeID != ConsoleSubWriteDone {
		return abi.NoSupport
	}
	return abi.Ok
}

// AllowReadWrite implements Driver; the console has no writable shares.
func (c *Console) AllowReadWrite(pid int, allowID uint32, buf process.Buffer) abi.ErrorCode {
	return abi.NoSupport
}

// AllowReadOnly implements Driver.
func (c *Console) AllowReadOnly(pid int, allowID uint32, buf process.Buffer) abi.ErrorCode {
	if allowID != ConsoleAllowWrite {
		return abi.NoSupport
	}
	return abi.Ok
}

// Attach registers an output observer. The returned cancel function must
// be called to release it; slow observers lose output rather than stall
// the kernel.
func (c *Console) Attach() (<-chan []byte, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObs
	c.nextObs++
	ch := make(chan []byte, 64)
	c.observers[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if o, ok := c.observers[id]; ok {
			delete(c.observers, id)
			close(o)
		}
	}
}

func (c *Console) broadcast(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.observers {
		out := make([]byte, len(data))
		copy(out, data)
		select {
		case ch <- out:
		default:
		}
	}
}

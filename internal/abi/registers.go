package abi

// RegisterFile is the saved user-mode register context swapped at every
// trap boundary. The kernel treats it as an opaque blob except for the
// argument/return registers named here by the calling convention.
type RegisterFile struct {
	R0 uint32
	R1 uint32
	R2 uint32
	R3 uint32
	SP uint32
	PC uint32
}

// Args returns the four argument registers as a slice for logging.
func (r *RegisterFile) Args() [4]uint32 {
	return [4]uint32{r.R0, r.R1, r.R2, r.R3}
}

// Return value variants written back into r0..r3 before resuming a process.
// The variant tag in r0 lets userspace distinguish failures from success
// payloads without a separate errno channel.
const (
	RetFailure      uint32 = 0 // r1 = ErrorCode
	RetFailureU32   uint32 = 1 // r1 = ErrorCode, r2 = value
	RetSuccess      uint32 = 128
	RetSuccessU32   uint32 = 129 // r1 = value
	RetSuccessU32x2 uint32 = 130 // r1, r2 = values
	RetSuccessPtr   uint32 = 131 // r1 = pointer, r2 = length
)

// SetFailure encodes a plain failure return.
func (r *RegisterFile) SetFailure(code ErrorCode) {
	r.R0 = RetFailure
	r.R1 = uint32(code)
	r.R2 = 0
	r.R3 = 0
}

// SetFailureU32 encodes a failure carrying one value, used by allow and
// subscribe to hand back the previous registration on error.
func (r *RegisterFile) SetFailureU32(code ErrorCode, v uint32) {
	r.R0 = RetFailureU32
	r.R1 = uint32(code)
	r.R2 = v
	r.R3 = 0
}

// SetSuccess encodes a bare success return.
func (r *RegisterFile) SetSuccess() {
	r.R0 = RetSuccess
	r.R1 = 0
	r.R2 = 0
	r.R3 = 0
}

// SetSuccessU32 encodes a success carrying one value.
func (r *RegisterFile) SetSuccessU32(v uint32) {
	r.R0 = RetSuccessU32
	r.R1 = v
	r.R2 = 0
	r.R3 = 0
}

// SetSuccessU32x2 encodes a success carrying two values.
func (r *RegisterFile) SetSuccessU32x2(a, b uint32) {
	r.R0 = RetSuccessU32x2
	r.R1 = a
	r.R2 = b
	r.R3 = 0
}

// SetSuccessPtr encodes a success carrying a pointer/length pair, used by
// allow to return the previously shared buffer.
func (r *RegisterFile) SetSuccessPtr(ptr, length uint32) {
	r.R0 = RetSuccessPtr
	r.R1 = ptr
	r.R2 = length
	r.R3 = 0
}

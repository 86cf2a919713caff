// Package syscall decodes traps from unprivileged mode, validates every
// pointer and length a process supplies against that process's own memory,
// and routes operations to kernel-internal handlers or the driver
// registry. Validation failures return an error code to the process
// synchronously; only pointer arithmetic malformed enough to indicate
// corrupted control state is escalated to a fault.
package syscall

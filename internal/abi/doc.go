// Package abi defines the application/kernel binary interface: syscall
// classes, the closed error-code set, memop operation numbers, the register
// file exchanged at trap boundaries, and the upcall tuple queued by capsules.
//
// Everything here is register-convention level. Arguments and return values
// are 32-bit words; richer structure (buffers, callbacks) is expressed as
// pointer/length pairs validated by the syscall dispatcher before any kernel
// component touches them.
package abi

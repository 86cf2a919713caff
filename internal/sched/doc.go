// Package sched selects which process runs next and performs the context
// switch into and out of unprivileged execution. Selection is round-robin
// over runnable processes with ties broken by table index, so scheduling
// is deterministic and testable. Within one activation a process that
// traps and remains runnable is resumed directly until its syscall budget
// is spent (cooperative continuation); upcalls are delivered only at the
// process's own yield points, in FIFO order.
package sched

// Package fault turns protection-unit violations and kernel-detected
// invariant violations into process state transitions. Faults are strictly
// local: the handler touches only the faulting process, consults that
// process's configured restart policy, and either resets it in place or
// leaves it stopped with its fault count visible to inspection tooling. A
// fault never propagates to another process and never panics the kernel.
package fault

// Package process holds the data model for one loaded application instance
// and the fixed-capacity table the kernel addresses processes through.
// Identity is the table index, never a pointer: processes are restartable in
// place, so every other kernel component refers to a process by index and
// re-resolves it at each entry point rather than holding a reference across
// a yield or fault boundary.
package process

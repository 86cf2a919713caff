// Package loader discovers and loads the fixed set of flash-resident
// applications. Each image begins with a fixed-format header (version,
// lengths, entry offset, relocation descriptor, flags) followed by the
// program binary and an optional footer region carrying integrity
// credentials. Discovery walks the application flash range back-to-back;
// loading carves a RAM block for the process, copies the relocation data
// image out of flash, and zero-initializes the uninitialized-data
// partition before first execution.
package loader

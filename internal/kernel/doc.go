// Package kernel assembles the process isolation core: it owns the
// process table, the driver registry, the scheduler, and the fault
// handler, and threads this explicit kernel context through every entry
// point instead of relying on ambient global state. A Kernel is
// constructed once at boot and lives for the run of the program.
//
// Boot order: verify the board's memory map, discover the fixed set of
// flash-resident applications, lay out and load each one, seal the driver
// registry and process table, then hand control to the scheduler loop.
package kernel

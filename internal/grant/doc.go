// Package grant manages the per-process grant arena: a single region at the
// top of a process's RAM that grows downward as kernel services borrow
// application memory. Allocations are exclusively owned by one (process,
// driver) pair, are never relocated or individually freed, and the whole
// arena is invalidated atomically on process restart. The write-once /
// reset-all discipline removes fragmentation and dangling-grant hazards at
// the cost of fine-grained reclaim.
package grant

// Package capsule defines the kernel-resident driver contract and the
// fixed dispatch table that routes syscalls to drivers by numeric
// identifier. A capsule owns its per-process bookkeeping; the kernel
// guarantees it a trustworthy process identity and validated buffer
// handles, and nothing more. Registration is closed at boot: after the
// table seals, the driver set is static and auditable.
package capsule

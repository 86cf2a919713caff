// Package mpu computes hardware protection region sets for processes. The
// layout function is pure: given a process's flash bounds, RAM bounds, and
// current grant watermark it produces the ordered region set a trap handler
// installs before transferring control, without touching hardware state.
// Hardware constraints (power-of-two lengths, base alignment, limited region
// count) are threaded in as an explicit constraint value so the function is
// testable against any protection unit model.
package mpu

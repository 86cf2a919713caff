// Package sim provides in-process implementations of the platform hardware
// boundary: a scripted user-mode CPU, an 8-region power-of-two MPU model,
// a latching interrupt controller, and byte-array flash/RAM. The reference
// board in cmd/kestrel and every kernel core test run against these.
package sim

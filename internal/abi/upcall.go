package abi

// Upcall is one queued asynchronous notification from a capsule to a
// process. The triple of arguments is delivered in r0..r2 of the registered
// callback; the subscription's userdata word rides in r3.
type Upcall struct {
	DriverID    uint32
	SubscribeID uint32
	Args        [3]uint32
}

// Matches reports whether the upcall satisfies a yield-wait-for on the given
// (driver, subscribe) pair.
func (u Upcall) Matches(driver, subscribe uint32) bool {
	return u.DriverID == driver && u.SubscribeID == subscribe
}

// Package rotor models the companion side of the rotation-stage
// control loop: the quadrature counters with overflow accumulation,
// the velocity PID loop with slew-limited PWM actuation, and the
// beam-break zeroing sequence. It is the behavioral contract the
// firmware must satisfy; cmd/mock-esp32 serves a Device over a serial
// or TCP link so the host-side client can run without rig hardware.
package rotor

const (
	// CountsPerRev is one full revolution of the rotating stage in
	// encoder pulses.
	CountsPerRev = 245426

	// ZeroingVelocityPPS is the spin rate commanded while hunting
	// for the beam-break flag, roughly 10 RPM.
	ZeroingVelocityPPS = 40904

	// The hardware counter wraps to zero at its watch points. Both
	// wraps adjust the overflow accumulator by registerHigh, so a
	// negative wrap shifts the reported position by one pulse.
	registerHigh = 32767
	registerLow  = -32768
)

// Counter models one quadrature channel: a bounded hardware register
// plus a software accumulator that absorbs the watch-point wraps.
// Position is the sum of the two.
type Counter struct {
	register int32
	overflow int32
}

// Advance applies a pulse delta, wrapping the register the way the
// hardware does.
func (c *Counter) Advance(delta int32) {
	r := int64(c.register) + int64(delta)
	for r >= registerHigh {
		r -= registerHigh
		c.overflow += registerHigh
	}
	for r <= registerLow {
		r += -registerLow
		c.overflow -= registerHigh
	}
	c.register = int32(r)
}

// Position returns the accumulated signed pulse count.
func (c *Counter) Position() int32 {
	return c.overflow + c.register
}

// Reset clears both the register and the accumulator.
func (c *Counter) Reset() {
	c.register = 0
	c.overflow = 0
}

package rotor

import "time"

// LoopInterval is the companion's control tick.
const LoopInterval = 20 * time.Millisecond

const (
	loopDT = 0.02

	pwmMax     = 255
	maxPWMStep = 5
)

// Default PID gains for the stage's drive train.
const (
	DefaultKp = 0.06
	DefaultKi = 0.005
	DefaultKd = 0.0
)

// VelocityLoop closes the speed loop on the rotating stage: a PID on
// measured pulses/sec whose control output is a signed PWM command.
// The output is saturated to the 8-bit duty range, the direction pin
// follows its sign, and the duty may change by at most maxPWMStep
// counts per tick.
type VelocityLoop struct {
	Kp, Ki, Kd float64

	target  int32
	enabled bool

	prevCount int32
	integral  float64
	prevErr   float64
	last      int // signed PWM command from the previous tick
}

// NewVelocityLoop returns a loop with the default gains, disabled.
func NewVelocityLoop() *VelocityLoop {
	return &VelocityLoop{Kp: DefaultKp, Ki: DefaultKi, Kd: DefaultKd}
}

// SetTarget commands a velocity in pulses/sec. Control state resets,
// so the duty ramps from zero again under the slew limit. A zero
// target disables the loop entirely.
func (l *VelocityLoop) SetTarget(pps int32) {
	l.ResetState()
	if pps == 0 {
		l.target = 0
		l.enabled = false
		return
	}
	l.target = pps
	l.enabled = true
}

// Disable stops the loop and clears control state without touching
// the stored target. Manual PWM and direction commands take this
// path first.
func (l *VelocityLoop) Disable() {
	l.ResetState()
	l.enabled = false
}

// ResetState clears the integrator, the derivative history and the
// slew reference, leaving target and enablement alone. The zeroing
// sequence applies it when a capture completes.
func (l *VelocityLoop) ResetState() {
	l.integral = 0
	l.prevErr = 0
	l.last = 0
}

// Enabled reports whether the loop is driving the stage.
func (l *VelocityLoop) Enabled() bool {
	return l.enabled
}

// Target returns the commanded velocity in pulses/sec.
func (l *VelocityLoop) Target() int32 {
	return l.target
}

// Tick advances the controller one interval given the current pulse
// count. While disabled it only refreshes the velocity baseline and
// commands zero duty. The returned duty is a magnitude; forward is
// the direction pin state.
func (l *VelocityLoop) Tick(count int32) (duty uint8, forward bool) {
	delta := count - l.prevCount
	l.prevCount = count
	if !l.enabled {
		return 0, l.last >= 0
	}

	measured := float64(delta) / loopDT
	err := float64(l.target) - measured

	l.integral += err * loopDT
	if l.Ki > 0 {
		// Keep the integral term inside the duty range.
		if lim := pwmMax / l.Ki; l.integral > lim {
			l.integral = lim
		} else if l.integral < -lim {
			l.integral = -lim
		}
	}
	deriv := (err - l.prevErr) / loopDT
	l.prevErr = err

	out := l.Kp*err + l.Ki*l.integral + l.Kd*deriv
	if out > pwmMax {
		out = pwmMax
	} else if out < -pwmMax {
		out = -pwmMax
	}

	cmd := int(out)
	if cmd > l.last+maxPWMStep {
		cmd = l.last + maxPWMStep
	} else if cmd < l.last-maxPWMStep {
		cmd = l.last - maxPWMStep
	}
	l.last = cmd

	if cmd < 0 {
		return uint8(-cmd), false
	}
	return uint8(cmd), true
}

package rotor

import (
	"math"
	"testing"
	"time"
)

func TestCounterOverflow(t *testing.T) {
	cases := []struct {
		name   string
		deltas []int32
		want   int32
	}{
		{"no wrap", []int32{100, -50}, 50},
		{"forward wrap exact", []int32{32767}, 32767},
		{"forward wrap past", []int32{32770}, 32770},
		{"many forward", []int32{30000, 30000, 30000}, 90000},
		// The low watch point wrap adjusts the accumulator by one
		// count less than the register excursion.
		{"backward wrap", []int32{-32768}, -32767},
		{"backward wrap twice", []int32{-70000}, -69998},
		{"wrap and return", []int32{32767, -10}, 32757},
	}
	for _, tc := range cases {
		var c Counter
		for _, d := range tc.deltas {
			c.Advance(d)
		}
		if got := c.Position(); got != tc.want {
			t.Errorf("%s: position = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestCounterRegisterStaysBounded(t *testing.T) {
	var c Counter
	for i := 0; i < 40; i++ {
		c.Advance(20000)
	}
	if c.register >= registerHigh || c.register <= registerLow {
		t.Fatalf("register = %d, outside (%d, %d)", c.register, registerLow, registerHigh)
	}
	if got := c.Position(); got != 800000 {
		t.Fatalf("position = %d, want 800000", got)
	}
}

func TestCounterReset(t *testing.T) {
	var c Counter
	c.Advance(123456)
	c.Reset()
	if got := c.Position(); got != 0 {
		t.Fatalf("position after reset = %d, want 0", got)
	}
}

func TestVelocityLoopRampsUnderSlewLimit(t *testing.T) {
	l := NewVelocityLoop()
	l.SetTarget(100000)
	// Stalled plant: the error stays saturated, so the duty must
	// climb at exactly the slew step.
	for i := 1; i <= 10; i++ {
		duty, forward := l.Tick(0)
		if !forward {
			t.Fatalf("tick %d: direction reversed on a positive target", i)
		}
		if int(duty) != i*maxPWMStep {
			t.Fatalf("tick %d: duty = %d, want %d", i, duty, i*maxPWMStep)
		}
	}
}

func TestVelocityLoopSaturates(t *testing.T) {
	l := NewVelocityLoop()
	l.SetTarget(1 << 20)
	var duty uint8
	for i := 0; i < 80; i++ {
		duty, _ = l.Tick(0)
	}
	if duty != pwmMax {
		t.Fatalf("stalled duty = %d, want %d", duty, pwmMax)
	}
}

func TestVelocityLoopDirectionFromSign(t *testing.T) {
	l := NewVelocityLoop()
	l.SetTarget(-50000)
	duty, forward := l.Tick(0)
	if forward {
		t.Fatal("negative target: direction still forward")
	}
	if int(duty) != maxPWMStep {
		t.Fatalf("first reverse duty = %d, want %d", duty, maxPWMStep)
	}
}

func TestVelocityLoopZeroTargetDisables(t *testing.T) {
	l := NewVelocityLoop()
	l.SetTarget(40904)
	l.Tick(0)
	l.Tick(100)

	l.SetTarget(0)
	if l.Enabled() {
		t.Fatal("zero target left the loop enabled")
	}
	if duty, _ := l.Tick(5000); duty != 0 {
		t.Fatalf("disabled duty = %d, want 0", duty)
	}

	// Re-enabling ramps from zero again, against a fresh velocity
	// baseline.
	l.SetTarget(40904)
	if duty, _ := l.Tick(5000); int(duty) != maxPWMStep {
		t.Fatalf("duty after re-enable = %d, want %d", duty, maxPWMStep)
	}
}

func TestVelocityLoopDisableKeepsTarget(t *testing.T) {
	l := NewVelocityLoop()
	l.SetTarget(40904)
	l.Tick(0)
	l.Disable()
	if l.Enabled() {
		t.Fatal("Disable left the loop enabled")
	}
	if got := l.Target(); got != 40904 {
		t.Fatalf("target after Disable = %d, want 40904", got)
	}
	if duty, _ := l.Tick(9999); duty != 0 {
		t.Fatalf("disabled duty = %d, want 0", duty)
	}
}

func TestVelocityLoopConvergesOnPlant(t *testing.T) {
	// First-order plant: pulses/sec proportional to the signed duty.
	const gain = 600.0
	const target = 40904

	l := NewVelocityLoop()
	l.SetTarget(target)

	pos := 0.0
	vel := 0.0
	sum := 0.0
	const ticks, tail = 1500, 100
	for i := 0; i < ticks; i++ {
		pos += vel * loopDT
		duty, forward := l.Tick(int32(pos))
		vel = gain * float64(duty)
		if !forward {
			vel = -vel
		}
		if i >= ticks-tail {
			sum += vel
		}
	}
	avg := sum / tail
	if math.Abs(avg-target) > 0.05*target {
		t.Fatalf("settled velocity = %.0f pps, want within 5%% of %d", avg, target)
	}
}

func TestZeroingCapturesSecondEdge(t *testing.T) {
	var c Counter
	z := NewZeroingSequence(&c)
	t0 := time.Unix(100, 0)

	z.Start()
	if z.State() != ZeroArmed {
		t.Fatalf("state after Start = %d, want ZeroArmed", z.State())
	}

	// Counts before the first edge are discarded with the reset.
	c.Advance(999)
	z.Edge(t0)
	if z.State() != ZeroAccumulating {
		t.Fatalf("state after first edge = %d, want ZeroAccumulating", z.State())
	}
	if c.Position() != 0 {
		t.Fatalf("counter not reset at first edge: %d", c.Position())
	}

	c.Advance(DefaultZeroThreshold + 1)
	z.Poll()
	if z.State() != ZeroAwaitSecond {
		t.Fatalf("state past threshold = %d, want ZeroAwaitSecond", z.State())
	}

	c.Advance(35000)
	z.Edge(t0.Add(6 * time.Second))
	if !z.TakeCompleted() {
		t.Fatal("second edge did not complete the capture")
	}
	if z.TakeCompleted() {
		t.Fatal("completion latch not consumed")
	}
	if got, want := z.Measured(), int32(DefaultZeroThreshold+1+35000); got != want {
		t.Fatalf("measured = %d, want %d", got, want)
	}
	if c.Position() != 0 {
		t.Fatalf("counter not reset at capture: %d", c.Position())
	}
	if z.State() != ZeroIdle {
		t.Fatalf("state after capture = %d, want ZeroIdle", z.State())
	}
}

func TestZeroingIgnoresEdgesBelowThreshold(t *testing.T) {
	var c Counter
	z := NewZeroingSequence(&c)
	t0 := time.Unix(100, 0)

	z.Start()
	z.Edge(t0)
	c.Advance(1000)
	z.Poll()
	z.Edge(t0.Add(3 * time.Second))
	if z.TakeCompleted() {
		t.Fatal("edge below the threshold completed a capture")
	}
	if z.State() != ZeroAccumulating {
		t.Fatalf("state = %d, want ZeroAccumulating", z.State())
	}
	if z.Measured() != 0 {
		t.Fatalf("measured = %d, want 0", z.Measured())
	}
}

func TestZeroingDebounce(t *testing.T) {
	var c Counter
	z := NewZeroingSequence(&c)
	t0 := time.Unix(100, 0)

	z.Start()
	z.Edge(t0)
	c.Advance(DefaultZeroThreshold + 500)
	z.Poll()

	// Inside the window: dropped, and the window does not restart.
	z.Edge(t0.Add(1500 * time.Millisecond))
	if z.TakeCompleted() {
		t.Fatal("debounced edge completed a capture")
	}
	z.Edge(t0.Add(2500 * time.Millisecond))
	if !z.TakeCompleted() {
		t.Fatal("edge past the debounce window did not capture")
	}
}

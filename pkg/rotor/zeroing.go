package rotor

import "time"

const (
	// DefaultZeroThreshold is how far the counter must run after the
	// first accepted edge before the next edge is trusted as the
	// closing one, about 85% of a revolution. Edges before that are
	// flag chatter.
	DefaultZeroThreshold = 210000

	// DefaultDebounce is the ignore window after an accepted edge.
	DefaultDebounce = 2 * time.Second
)

// ZeroState names the phases of the zeroing sequence.
type ZeroState int

const (
	ZeroIdle ZeroState = iota
	ZeroArmed
	ZeroAccumulating
	ZeroAwaitSecond
)

// ZeroingSequence establishes the stage's angular reference. Once
// armed, the first beam-break edge restarts the counter; after most
// of a revolution has accumulated, the next edge captures the count
// as the measured reference and latches a completion flag.
type ZeroingSequence struct {
	counter *Counter

	Threshold int32
	Debounce  time.Duration

	state     ZeroState
	lastEdge  time.Time
	edgeSeen  bool
	measured  int32
	completed bool
}

// NewZeroingSequence wires the sequence to the stage's counter.
func NewZeroingSequence(c *Counter) *ZeroingSequence {
	return &ZeroingSequence{
		counter:   c,
		Threshold: DefaultZeroThreshold,
		Debounce:  DefaultDebounce,
	}
}

// Start arms the sequence. A previously captured reference stays
// readable until the next capture overwrites it.
func (z *ZeroingSequence) Start() {
	z.state = ZeroArmed
}

// Edge reports one beam-break. Edges within the debounce window of
// the last accepted edge are dropped whatever the state; accepted
// edges outside the armed and closing phases are consumed without
// effect.
func (z *ZeroingSequence) Edge(now time.Time) {
	if z.edgeSeen && now.Sub(z.lastEdge) < z.Debounce {
		return
	}
	z.lastEdge = now
	z.edgeSeen = true

	switch z.state {
	case ZeroArmed:
		z.counter.Reset()
		z.state = ZeroAccumulating
	case ZeroAwaitSecond:
		z.measured = z.counter.Position()
		z.counter.Reset()
		z.completed = true
		z.state = ZeroIdle
	}
}

// Poll advances past the accumulation phase once the counter clears
// the threshold. Call it every control tick.
func (z *ZeroingSequence) Poll() {
	if z.state == ZeroAccumulating && z.counter.Position() > z.Threshold {
		z.state = ZeroAwaitSecond
	}
}

// State returns the current phase.
func (z *ZeroingSequence) State() ZeroState {
	return z.state
}

// Measured returns the last captured reference count, zero if no
// capture has completed yet.
func (z *ZeroingSequence) Measured() int32 {
	return z.measured
}

// TakeCompleted consumes the completion latch: true exactly once per
// capture.
func (z *ZeroingSequence) TakeCompleted() bool {
	if !z.completed {
		return false
	}
	z.completed = false
	return true
}

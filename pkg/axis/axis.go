// Package axis models the rig's logical motion axes and fans logical
// axis commands out to the mechanically coupled stepper drivers behind
// each one.
//
// The radial and tilt carriages are each driven by a pair of drivers,
// the vertical stage by two ganged column pairs. Every driver in a
// group must receive the same command in the same logical step; a group
// that half-applied a move is treated as a fault, never retried
// member-by-member.
package axis

// ID identifies one logical axis of the rig.
type ID int

const (
	// R is the radial carriage.
	R ID = iota
	// T is the tilt carriage.
	T
	// Z is the vertical stage, four drivers on two column pairs.
	Z
	// A is the continuously rotating theta stage. It is velocity
	// commanded through the companion controller, not position
	// commanded on the stepper bus.
	A
)

func (id ID) String() string {
	switch id {
	case R:
		return "R"
	case T:
		return "T"
	case Z:
		return "Z"
	case A:
		return "A"
	default:
		return "?"
	}
}

// ParseLetter maps a command-letter to an axis ID. Lowercase input is
// accepted.
func ParseLetter(c byte) (ID, bool) {
	switch c {
	case 'R', 'r':
		return R, true
	case 'T', 't':
		return T, true
	case 'Z', 'z':
		return Z, true
	case 'A', 'a':
		return A, true
	default:
		return 0, false
	}
}

// Positional reports whether the axis is commanded by position targets
// on the stepper bus. The theta stage (A) is the only exception.
func (id ID) Positional() bool {
	return id == R || id == T || id == Z
}

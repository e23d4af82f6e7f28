package gcode

import (
	"fmt"
	"math"
	"time"

	"helical-go-migration/pkg/rigerr"
	"helical-go-migration/pkg/rotor"
)

// RPMToPulses converts a rotation feed to the companion's native
// pulses/second, rounding to the nearest pulse.
func RPMToPulses(rpm float64) int32 {
	return int32(math.Round(rpm * rotor.CountsPerRev / 60))
}

func (itp *Interpreter) executeG(cmd *Command) error {
	var err error
	switch cmd.Number {
	case 0:
		err = itp.rapidMove(cmd)
	case 1:
		err = itp.feedMove(cmd)
	case 4:
		err = itp.dwell(cmd)
	case 5:
		err = itp.waitRotationSteady()
	case 6:
		fmt.Fprintln(itp.out, "G6: wait until print completion (stub)")
	case 28:
		err = itp.homeAll()
	case 33:
		err = itp.setRotation(cmd)
	case 90:
		itp.setAbsolute(true)
		fmt.Fprintln(itp.out, "G90: absolute positioning")
	case 91:
		itp.setAbsolute(false)
		fmt.Fprintln(itp.out, "G91: relative positioning")
	case 92:
		err = itp.zeroAxes(cmd)
	default:
		fmt.Fprintf(itp.out, "Unknown/unsupported G%d\n", cmd.Number)
	}
	if err != nil {
		// A driver that stopped acknowledging mid-dispatch may leave a
		// sibling axis moving toward a target the rest of the line never
		// confirmed. Running more of the queue on top of that is unsafe.
		if rigerr.IsBusTransaction(err) {
			return &queueFatalError{err}
		}
		return err
	}
	return itp.ab.Err(cmd.Name())
}

// applyFeedWords applies every feed word on the line, in order, before
// the command body runs. Rejected values keep the previous feed.
func (itp *Interpreter) applyFeedWords(words []Word) {
	for _, w := range words {
		if w.Letter != 'F' {
			continue
		}
		switch {
		case w.Axis == 0 && w.HasValue:
			itp.setGlobalFeed(w.Value)
			fmt.Fprintf(itp.out, "F: Global feed set to %g\n", w.Value)
		case w.Axis == 'A':
			value := 0.0
			if w.HasValue {
				value = w.Value
			}
			if value < MinRotationRPM || value > MaxRotationRPM {
				fmt.Fprintf(itp.out, "[RANGE] FA %g RPM not in [%g, %g]; ignoring.\n",
					value, MinRotationRPM, MaxRotationRPM)
				continue
			}
			itp.setAxisFeed('A', value)
			fmt.Fprintf(itp.out, "FA: rotation feed set to %g RPM\n", value)
		case w.Axis != 0:
			value := 0.0
			if w.HasValue {
				value = w.Value
			}
			limit := itp.caps[w.Axis]
			if value < 0 || value > float64(limit) {
				fmt.Fprintf(itp.out, "[RANGE] F%c %g not in [0, %d]; ignoring.\n",
					w.Axis, value, limit)
				continue
			}
			itp.setAxisFeed(w.Axis, value)
			fmt.Fprintf(itp.out, "F%c: feed set to %g\n", w.Axis, value)
		default:
			fmt.Fprintf(itp.out, "Ignoring malformed F token: %s\n", w.Raw)
		}
	}
}

func (itp *Interpreter) setAbsolute(on bool) {
	itp.mu.Lock()
	itp.absolute = on
	itp.mu.Unlock()
}

func (itp *Interpreter) setAxisFeed(letter byte, v float64) {
	itp.mu.Lock()
	itp.fAxis[letter] = v
	itp.mu.Unlock()
	itp.metrics.SetFeed(string(letter), v)
}

func (itp *Interpreter) setGlobalFeed(v float64) {
	itp.mu.Lock()
	itp.fGlobal = v
	for _, letter := range positionalOrder {
		itp.fAxis[letter] = v
	}
	itp.mu.Unlock()
	for _, letter := range positionalOrder {
		itp.metrics.SetFeed(string(letter), v)
	}
}

// feedFor returns the programmed feed for an axis, falling back to the
// global feed. Only the drain reads it, so no lock is needed.
func (itp *Interpreter) feedFor(letter byte) float64 {
	if v, ok := itp.fAxis[letter]; ok {
		return v
	}
	return itp.fGlobal
}

// lastAxisValues scans the words for the most recent value of each
// positional axis letter. Later words win.
func lastAxisValues(words []Word) map[byte]float64 {
	vals := make(map[byte]float64)
	for _, w := range words {
		if !w.HasValue {
			continue
		}
		switch w.Letter {
		case 'R', 'T', 'Z':
			vals[w.Letter] = w.Value
		}
	}
	return vals
}

// resolveTarget turns a word value into an absolute pulse target per
// the current positioning mode.
func (itp *Interpreter) resolveTarget(letter byte, value float64) int32 {
	if itp.absolute {
		return int32(value)
	}
	return itp.axisPosition(letter) + int32(value)
}

// axisPosition reads the representative's current position, falling
// back to 0 when the read fails so relative math still produces a
// command.
func (itp *Interpreter) axisPosition(letter byte) int32 {
	rep := itp.group(letter).Representative()
	if rep == nil {
		return 0
	}
	pos, err := rep.CurrentPosition()
	if err != nil {
		fmt.Fprintf(itp.out, "[NOTE] Could not read current position for axis %c. Assuming 0 for relative math.\n", letter)
		return 0
	}
	return pos
}

// rapidMove is G0: every named axis runs at its hardware cap,
// overriding whatever feed a previous G1 programmed.
func (itp *Interpreter) rapidMove(cmd *Command) error {
	vals := lastAxisValues(cmd.Words)
	for _, letter := range positionalOrder {
		v, ok := vals[letter]
		if !ok {
			continue
		}
		grp := itp.group(letter)
		target := itp.resolveTarget(letter, v)
		if err := grp.EnsureReady(); err != nil {
			return err
		}
		if err := grp.SetMaxSpeed(itp.caps[letter]); err != nil {
			return err
		}
		if err := grp.SetTargetPosition(target); err != nil {
			return err
		}
		itp.metrics.RecordMove(string(letter))
		fmt.Fprintf(itp.out, "[G0] %c rapid -> %d @ %d\n", letter, target, itp.caps[letter])
	}
	return nil
}

// feedMove is G1: every named axis moves at its programmed feed. A
// zero or out-of-range feed skips that axis with a message and the
// rest of the line still runs.
func (itp *Interpreter) feedMove(cmd *Command) error {
	vals := lastAxisValues(cmd.Words)
	for _, letter := range positionalOrder {
		v, ok := vals[letter]
		if !ok {
			continue
		}
		target := itp.resolveTarget(letter, v)
		if err := itp.moveAxis(letter, target); err != nil {
			return err
		}
	}
	return nil
}

func (itp *Interpreter) moveAxis(letter byte, target int32) error {
	grp := itp.group(letter)
	if err := grp.EnsureReady(); err != nil {
		return err
	}
	ok, err := itp.applyFeed(letter)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(itp.out, "[SKIP] Move on axis %c not executed due to invalid feed.\n", letter)
		return nil
	}
	if err := grp.SetTargetPosition(target); err != nil {
		return err
	}
	itp.metrics.RecordMove(string(letter))

	rep := grp.Representative()
	if rep == nil {
		fmt.Fprintf(itp.out, "[CMD] Axis %c commanded target=%d\n", letter, target)
		return nil
	}
	echoed, err := rep.TargetPosition()
	if err != nil {
		echoed = 0
	}
	start, err := rep.CurrentPosition()
	if err != nil {
		start = 0
	}
	fmt.Fprintf(itp.out, "[CMD] Axis %c commanded target=%d ; controller target=%d ; start pos=%d\n",
		letter, target, echoed, start)

	// A brief pause, then confirm the stage actually started moving.
	// A silent stand-still usually means the watchdog or safe-start
	// swallowed the command.
	itp.ab.WaitOrAbort(itp.MoveCheckDelay)
	after, err := rep.CurrentPosition()
	if err != nil {
		after = start
	}
	if after == start {
		fmt.Fprintf(itp.out, "[WARN] Axis %c position did not change (%d -> %d).\n", letter, start, after)
		fmt.Fprintln(itp.out, "       Possible causes: feed=0, command timeout, safe-start, driver error, endstop engaged.")
	}
	return nil
}

// applyFeed programs the group's speed cap from the axis feed. It
// reports false, with an operator message, when the feed is zero or
// out of range; that skips the move rather than failing the line.
func (itp *Interpreter) applyFeed(letter byte) (bool, error) {
	limit := itp.caps[letter]
	req := itp.feedFor(letter)
	if req < 0 || req > float64(limit) {
		fmt.Fprintf(itp.out, "[RANGE] Axis %c feed %g is out of range [0, %d]; skipping.\n", letter, req, limit)
		return false, nil
	}
	if req == 0 {
		fmt.Fprintf(itp.out, "[WARN] Axis %c feed is 0; skipping move.\n", letter)
		return false, nil
	}
	if err := itp.group(letter).SetMaxSpeed(int32(req)); err != nil {
		return false, err
	}
	return true, nil
}

// dwell is G4: pause for P milliseconds, abort-aware.
func (itp *Interpreter) dwell(cmd *Command) error {
	var ms float64
	for _, w := range cmd.Words {
		if w.Letter == 'P' && w.HasValue {
			ms = w.Value
		}
	}
	if ms < 0 {
		ms = 0
	}
	fmt.Fprintf(itp.out, "G4 dwell %d ms\n", int(ms))
	if !itp.ab.WaitOrAbort(time.Duration(ms) * time.Millisecond) {
		return rigerr.Cancelled("dwell")
	}
	return nil
}

// waitRotationSteady is G5: give the velocity loop a fixed second to
// converge on the programmed A feed. There is no closed-loop readback
// for "steady" yet, so an in-range feed is the only precondition.
func (itp *Interpreter) waitRotationSteady() error {
	rpm := itp.feedFor('A')
	if rpm < MinRotationRPM || rpm > MaxRotationRPM {
		fmt.Fprintf(itp.out, "[RANGE] A feed %g RPM not in [%g, %g]; cannot wait, value invalid.\n",
			rpm, MinRotationRPM, MaxRotationRPM)
		return nil
	}
	fmt.Fprintf(itp.out, "G5: wait for A steady-state (%g rpm)\n", rpm)
	if !itp.ab.WaitOrAbort(itp.SteadyWait) {
		return rigerr.Cancelled("rotation steady wait")
	}
	return nil
}

// homeAll is G28: force every cap so homing is never limited by a
// prior G1 feed, then home R, T and the Z quad in that order.
func (itp *Interpreter) homeAll() error {
	fmt.Fprintln(itp.out, "G28: homing R/T/Z")
	for _, letter := range positionalOrder {
		if err := itp.group(letter).SetMaxSpeed(itp.caps[letter]); err != nil {
			return err
		}
	}
	for _, letter := range positionalOrder {
		grp := itp.group(letter)
		recipe := itp.homing[letter]
		start := time.Now()
		if err := grp.Home(recipe.Direction, recipe.Offset); err != nil {
			return err
		}
		itp.metrics.RecordHoming(grp.Name(), time.Since(start))
	}
	return nil
}

// setRotation is G33: program the continuous rotation velocity from an
// RPM argument and remember it as the A feed.
func (itp *Interpreter) setRotation(cmd *Command) error {
	var rpm float64
	for _, w := range cmd.Words {
		if w.Letter == 'A' && w.HasValue {
			rpm = w.Value
		}
	}
	if rpm < MinRotationRPM || rpm > MaxRotationRPM {
		fmt.Fprintf(itp.out, "[RANGE] G33 A %g RPM not in [%g, %g]; skipping.\n",
			rpm, MinRotationRPM, MaxRotationRPM)
		return nil
	}
	pps := RPMToPulses(rpm)
	if err := itp.stage.SetThetaVelocity(pps); err != nil {
		return err
	}
	itp.setAxisFeed('A', rpm)
	fmt.Fprintf(itp.out, "G33: A -> %g rpm (pps=%d)\n", rpm, pps)
	return nil
}

// zeroAxes is G92: stop the named axes in place and rewrite their
// position counters to zero. With no axis named, all three are zeroed.
func (itp *Interpreter) zeroAxes(cmd *Command) error {
	zeroed := false
	for _, w := range cmd.Words {
		switch w.Letter {
		case 'R', 'T', 'Z':
			if err := itp.group(w.Letter).HaltAndSetPosition(0); err != nil {
				return err
			}
			fmt.Fprintf(itp.out, "G92: zeroed axis %c\n", w.Letter)
			zeroed = true
		}
	}
	if !zeroed {
		for _, letter := range positionalOrder {
			if err := itp.group(letter).HaltAndSetPosition(0); err != nil {
				return err
			}
		}
		fmt.Fprintln(itp.out, "G92: zeroed R/T/Z")
	}
	return nil
}

package axis

import (
	"time"

	"helical-go-migration/pkg/abort"
	"helical-go-migration/pkg/log"
	"helical-go-migration/pkg/rigerr"
	"helical-go-migration/pkg/tic"
)

var logger = log.GetLogger("axis")

// Homing cadence. The flag poll is quick because goHome runs at a
// crawl near the switch; the settle poll is slower because the final
// offset move covers most of the travel range.
const (
	homingPollInterval = 100 * time.Millisecond
	settlePollInterval = 500 * time.Millisecond

	// settleTolerance is how close (in pulses) every member must be
	// to the target before a move or homing offset counts as done.
	settleTolerance = 1
)

// Group fans one logical axis command out to its coupled drivers.
//
// Fan-out is strictly ordered: members receive the command in
// construction order, and the first failed transaction stops the
// remaining members from being attempted. The caller must then halt
// the whole group; continuing with half the columns commanded would
// twist the stage.
//
// A Group is not safe for concurrent use. The interpreter's queue
// drain is the only caller in normal operation.
type Group struct {
	name    string
	members []*tic.Driver
	ab      *abort.Controller

	// HomingPoll and SettlePoll override the default homing cadence.
	// Tests shorten them; production code leaves them alone.
	HomingPoll time.Duration
	SettlePoll time.Duration
}

// NewGroup builds a group over the given drivers. Fan-out order is the
// argument order.
func NewGroup(name string, ab *abort.Controller, members ...*tic.Driver) *Group {
	return &Group{
		name:       name,
		members:    members,
		ab:         ab,
		HomingPoll: homingPollInterval,
		SettlePoll: settlePollInterval,
	}
}

// Name returns the group's logical axis name.
func (g *Group) Name() string { return g.name }

// Members returns the drivers in fan-out order.
func (g *Group) Members() []*tic.Driver { return g.members }

// Representative returns the member used for position readbacks. The
// columns are mechanically coupled, so one echo stands for the group.
func (g *Group) Representative() *tic.Driver {
	if len(g.members) == 0 {
		return nil
	}
	return g.members[0]
}

// each applies op to every member in order, stopping at the first
// failure.
func (g *Group) each(op func(d *tic.Driver) error) error {
	for _, d := range g.members {
		if err := op(d); err != nil {
			return err
		}
	}
	return nil
}

// Configure applies the motion profile to every member.
func (g *Group) Configure(s Settings) error {
	return g.each(s.Apply)
}

// SetTargetPosition commands every member to the same absolute pulse
// target.
func (g *Group) SetTargetPosition(pulses int32) error {
	return g.each(func(d *tic.Driver) error { return d.SetTargetPosition(pulses) })
}

// SetTargetVelocity commands every member to the same signed velocity.
func (g *Group) SetTargetVelocity(pps int32) error {
	return g.each(func(d *tic.Driver) error { return d.SetTargetVelocity(pps) })
}

// SetMaxSpeed sets the speed cap on every member.
func (g *Group) SetMaxSpeed(v int32) error {
	return g.each(func(d *tic.Driver) error { return d.SetMaxSpeed(v) })
}

// Energize powers the coils on every member.
func (g *Group) Energize() error {
	return g.each(func(d *tic.Driver) error { return d.Energize() })
}

// Deenergize cuts coil power on every member.
func (g *Group) Deenergize() error {
	return g.each(func(d *tic.Driver) error { return d.Deenergize() })
}

// ExitSafeStart releases every member from safe-start.
func (g *Group) ExitSafeStart() error {
	return g.each(func(d *tic.Driver) error { return d.ExitSafeStart() })
}

// HaltAndHold stops every member abruptly, holding position.
func (g *Group) HaltAndHold() error {
	return g.each(func(d *tic.Driver) error { return d.HaltAndHold() })
}

// HaltAndSetPosition stops every member and rewrites its position
// counter. G92 uses this to re-zero an axis in place.
func (g *Group) HaltAndSetPosition(pulses int32) error {
	return g.each(func(d *tic.Driver) error { return d.HaltAndSetPosition(pulses) })
}

// ClearDriverError clears latched driver faults on every member.
func (g *Group) ClearDriverError() error {
	return g.each(func(d *tic.Driver) error { return d.ClearDriverError() })
}

// EnsureReady walks each member through the wake-up sequence used
// before every commanded move: clear faults, leave safe-start,
// energize, pet the command watchdog.
func (g *Group) EnsureReady() error {
	return g.each(func(d *tic.Driver) error {
		if err := d.ClearDriverError(); err != nil {
			return err
		}
		if err := d.ExitSafeStart(); err != nil {
			return err
		}
		if err := d.Energize(); err != nil {
			return err
		}
		return d.ResetCommandTimeout()
	})
}

// GoHome starts the homing crawl on every member. Direction is 0 or 1.
func (g *Group) GoHome(direction int) error {
	return g.each(func(d *tic.Driver) error { return d.GoHome(direction) })
}

// anyHoming reads every member's homing flag and reports whether any
// is still seeking. All members are read each pass so a stuck member
// is observed on the bus rather than shadowed by its siblings.
func (g *Group) anyHoming() (bool, error) {
	homing := false
	for _, d := range g.members {
		h, err := d.IsHoming()
		if err != nil {
			return false, err
		}
		if h {
			homing = true
		}
	}
	return homing, nil
}

// settled reports whether every member is within the settle tolerance
// of target.
func (g *Group) settled(target int32) (bool, error) {
	for _, d := range g.members {
		pos, err := d.CurrentPosition()
		if err != nil {
			return false, err
		}
		diff := pos - target
		if diff < 0 {
			diff = -diff
		}
		if diff > settleTolerance {
			return false, nil
		}
	}
	return true, nil
}

// Home drives every member to the hardware reference in the given
// direction, waits for all homing flags to clear, then moves the group
// to finalOffset and waits until every member is within one pulse of
// it.
//
// There is no timeout: physical homing time depends on where the stage
// starts, so abort is the only way out of a homing that never
// completes. Both wait phases poll the abort flag every cycle.
func (g *Group) Home(direction int, finalOffset int32) error {
	during := "homing " + g.name

	if err := g.ab.Err(during); err != nil {
		return err
	}

	logger.WithField("group", g.name).Infof("homing: direction=%d offset=%d", direction, finalOffset)
	if err := g.GoHome(direction); err != nil {
		return err
	}

	for {
		if err := g.ab.Err(during); err != nil {
			return err
		}
		homing, err := g.anyHoming()
		if err != nil {
			return err
		}
		if !homing {
			break
		}
		if !g.ab.WaitOrAbort(g.HomingPoll) {
			return rigerr.Cancelled(during)
		}
	}

	if err := g.SetTargetPosition(finalOffset); err != nil {
		return err
	}

	for {
		if err := g.ab.Err(during); err != nil {
			return err
		}
		ok, err := g.settled(finalOffset)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if !g.ab.WaitOrAbort(g.SettlePoll) {
			return rigerr.Cancelled(during)
		}
	}

	logger.WithField("group", g.name).Info("homing complete")
	return nil
}

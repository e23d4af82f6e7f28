package axis

import (
	"helical-go-migration/pkg/rigerr"
	"helical-go-migration/pkg/tic"
)

// Settings is the motion profile applied to every driver in a group.
// Speeds are in the driver's native pulses/10,000s unit, acceleration
// and deceleration in pulses/100s².
type Settings struct {
	StepMode       int
	MaxAccel       int32
	MaxDecel       int32
	MaxSpeed       int32
	CurrentLimitMA int

	// CommandTimeoutMS arms the driver-side watchdog when nonzero.
	// Zero leaves whatever the driver booted with.
	CommandTimeoutMS uint16
}

// Validate checks the profile against the driver's documented ranges.
func (s Settings) Validate() error {
	if s.StepMode < tic.StepModeMin || s.StepMode > tic.StepModeMax {
		return rigerr.InvalidArgument("step mode", s.StepMode)
	}
	if s.MaxAccel < 0 || s.MaxDecel < 0 || s.MaxSpeed < 0 {
		return rigerr.InvalidArgument("motion profile", "negative cap")
	}
	if s.CurrentLimitMA < 0 {
		return rigerr.InvalidArgument("current limit mA", s.CurrentLimitMA)
	}
	return nil
}

// Apply programs one driver with the profile. The order matches the
// bring-up sequence the drivers were qualified with: step mode,
// acceleration, deceleration, speed cap, current limit.
func (s Settings) Apply(d *tic.Driver) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := d.SetStepMode(s.StepMode); err != nil {
		return err
	}
	if err := d.SetMaxAcceleration(s.MaxAccel); err != nil {
		return err
	}
	if err := d.SetMaxDeceleration(s.MaxDecel); err != nil {
		return err
	}
	if err := d.SetMaxSpeed(s.MaxSpeed); err != nil {
		return err
	}
	if err := d.SetCurrentLimitMilliamps(s.CurrentLimitMA); err != nil {
		return err
	}
	if s.CommandTimeoutMS > 0 {
		if err := d.SetCommandTimeout(s.CommandTimeoutMS); err != nil {
			return err
		}
	}
	return nil
}

package tic

import (
	"encoding/binary"

	"helical-go-migration/pkg/rigerr"
)

// Driver is a handle for one physical stepper driver: a label for
// diagnostics plus the bus connection the commands travel over.
type Driver struct {
	label string
	conn  Conn
}

// NewDriver wraps an open connection.
func NewDriver(label string, conn Conn) *Driver {
	return &Driver{label: label, conn: conn}
}

// Label returns the human label for this driver.
func (d *Driver) Label() string {
	return d.label
}

// Close releases the underlying connection.
func (d *Driver) Close() error {
	return d.conn.Close()
}

// command issues a 5-byte write transaction: the opcode followed by the
// little-endian 32-bit argument. No-argument opcodes carry zero.
func (d *Driver) command(name string, opcode byte, value int32) error {
	var buf [5]byte
	buf[0] = opcode
	binary.LittleEndian.PutUint32(buf[1:], uint32(value))
	if err := d.conn.Transact(buf[:], nil); err != nil {
		return rigerr.BusTransaction(d.label, name, err)
	}
	return nil
}

// readVariable issues the selector write and the 4-byte read in one
// combined transaction and decodes the result little-endian signed.
func (d *Driver) readVariable(name string, selector byte) (int32, error) {
	w := [2]byte{OpGetVariable, selector}
	var r [4]byte
	if err := d.conn.Transact(w[:], r[:]); err != nil {
		return 0, rigerr.BusTransaction(d.label, name, err)
	}
	return int32(binary.LittleEndian.Uint32(r[:])), nil
}

// ExitSafeStart clears the safe-start latch so motion commands are accepted.
func (d *Driver) ExitSafeStart() error {
	return d.command("exitSafeStart", OpExitSafeStart, 0)
}

// EnterSafeStart re-latches safe start.
func (d *Driver) EnterSafeStart() error {
	return d.command("enterSafeStart", OpEnterSafeStart, 0)
}

// ResetCommandTimeout feeds the driver's command watchdog.
func (d *Driver) ResetCommandTimeout() error {
	return d.command("resetCommandTimeout", OpResetCommandTimeout, 0)
}

// Energize enables the motor coils.
func (d *Driver) Energize() error {
	return d.command("energize", OpEnergize, 0)
}

// Deenergize disables the motor coils.
func (d *Driver) Deenergize() error {
	return d.command("deenergize", OpDeenergize, 0)
}

// Reset reinitializes the driver.
func (d *Driver) Reset() error {
	return d.command("reset", OpReset, 0)
}

// ClearDriverError clears a latched driver fault.
func (d *Driver) ClearDriverError() error {
	return d.command("clearDriverError", OpClearDriverError, 0)
}

// SetTargetPosition commands an absolute target in pulses.
func (d *Driver) SetTargetPosition(pulses int32) error {
	return d.command("setTargetPosition", OpSetTargetPosition, pulses)
}

// SetTargetVelocity commands a signed velocity in pulses per second.
func (d *Driver) SetTargetVelocity(pps int32) error {
	return d.command("setTargetVelocity", OpSetTargetVelocity, pps)
}

// HaltAndSetPosition stops motion and rewrites the current position.
func (d *Driver) HaltAndSetPosition(pulses int32) error {
	return d.command("haltAndSetPosition", OpHaltAndSetPos, pulses)
}

// HaltAndHold stops motion, holding position.
func (d *Driver) HaltAndHold() error {
	return d.command("haltAndHold", OpHaltAndHold, 0)
}

// GoHome starts the driver's homing sequence. Direction is 0 (reverse)
// or 1 (forward).
func (d *Driver) GoHome(direction int) error {
	if direction != 0 && direction != 1 {
		return rigerr.InvalidArgument("homing direction", direction)
	}
	return d.command("goHome", OpGoHome, int32(direction))
}

// SetMaxSpeed sets the speed cap in pulses per 10,000 seconds.
func (d *Driver) SetMaxSpeed(v int32) error {
	return d.command("setMaxSpeed", OpSetMaxSpeed, v)
}

// SetStartingSpeed sets the speed below which instant direction changes
// are allowed.
func (d *Driver) SetStartingSpeed(v int32) error {
	return d.command("setStartingSpeed", OpSetStartingSpeed, v)
}

// SetMaxAcceleration sets the acceleration cap in pulses per 100 s².
func (d *Driver) SetMaxAcceleration(v int32) error {
	return d.command("setMaxAcceleration", OpSetMaxAccel, v)
}

// SetMaxDeceleration sets the deceleration cap.
func (d *Driver) SetMaxDeceleration(v int32) error {
	return d.command("setMaxDeceleration", OpSetMaxDecel, v)
}

// SetStepMode selects the microstep resolution code (0-9).
func (d *Driver) SetStepMode(mode int) error {
	if mode < StepModeMin || mode > StepModeMax {
		return rigerr.InvalidArgument("step mode", mode)
	}
	return d.command("setStepMode", OpSetStepMode, int32(mode))
}

// SetCurrentLimit sets the 7-bit coil current code directly.
func (d *Driver) SetCurrentLimit(code int) error {
	if code < 0 || code > 127 {
		return rigerr.InvalidArgument("current limit code", code)
	}
	return d.command("setCurrentLimit", OpSetCurrentLimit, int32(code))
}

// SetCurrentLimitMilliamps converts a milliamp target to the 7-bit code
// and applies it.
func (d *Driver) SetCurrentLimitMilliamps(mA int) error {
	return d.SetCurrentLimit(CurrentLimitCode(mA))
}

// SetDecayMode selects the coil decay mode.
func (d *Driver) SetDecayMode(mode int32) error {
	return d.command("setDecayMode", OpSetDecayMode, mode)
}

// SetAGCOption programs an automatic gain control option.
func (d *Driver) SetAGCOption(option int32) error {
	return d.command("setAGCOption", OpSetAGCOption, option)
}

// SetCommandTimeout arms the driver's command watchdog in milliseconds.
func (d *Driver) SetCommandTimeout(timeoutMs uint16) error {
	return d.command("setCommandTimeout", OpSetCommandTimeout, CommandTimeoutValue(timeoutMs))
}

// CurrentPosition reads the driver's current position in pulses.
func (d *Driver) CurrentPosition() (int32, error) {
	return d.readVariable("currentPosition", VarCurrentPosition)
}

// TargetPosition reads the commanded target position.
func (d *Driver) TargetPosition() (int32, error) {
	return d.readVariable("targetPosition", VarTargetPosition)
}

// CurrentVelocity reads the instantaneous velocity in pulses per second.
func (d *Driver) CurrentVelocity() (int32, error) {
	return d.readVariable("currentVelocity", VarCurrentVelocity)
}

// TargetVelocity reads the commanded velocity.
func (d *Driver) TargetVelocity() (int32, error) {
	return d.readVariable("targetVelocity", VarTargetVelocity)
}

// OperationState reads the raw operation state word.
func (d *Driver) OperationState() (int32, error) {
	return d.readVariable("operationState", VarOperationState)
}

// PlanningMode reports which planner the driver is running: 2 when the
// operation state's low bit is set (velocity), 1 otherwise (position).
func (d *Driver) PlanningMode() (int, error) {
	state, err := d.OperationState()
	if err != nil {
		return 0, err
	}
	if state&1 != 0 {
		return 2, nil
	}
	return 1, nil
}

// IsHoming reports whether the driver's homing sequence is still running.
func (d *Driver) IsHoming() (bool, error) {
	flags, err := d.readVariable("miscFlags", VarMiscFlags)
	if err != nil {
		return false, err
	}
	return flags&miscFlagHoming != 0, nil
}

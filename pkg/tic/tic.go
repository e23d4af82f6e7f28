// Package tic implements the command protocol for Tic-family stepper driver
// controllers on a shared addressed bus. Commands are 5-byte write
// transactions; variable reads are a 2-byte selector write combined with a
// 4-byte read in a single transaction.
package tic

// Write-command opcodes.
const (
	OpExitSafeStart       = 0x83
	OpEnterSafeStart      = 0x8F
	OpResetCommandTimeout = 0x85
	// OpEnergize shares 0x85 with OpResetCommandTimeout. The deployed
	// drivers accept this byte for both; do not change it without
	// re-validating against the hardware.
	OpEnergize          = 0x85
	OpDeenergize        = 0x86
	OpReset             = 0xB0
	OpClearDriverError  = 0x8A
	OpSetTargetPosition = 0xE0
	OpSetTargetVelocity = 0xE3
	OpHaltAndSetPos     = 0xEC
	OpHaltAndHold       = 0x89
	OpGoHome            = 0x97
	OpSetMaxSpeed       = 0xE6
	OpSetStartingSpeed  = 0xE5
	OpSetMaxAccel       = 0xEA
	OpSetMaxDecel       = 0xE9
	OpSetStepMode       = 0x94
	OpSetCurrentLimit   = 0x91
	OpSetDecayMode      = 0x92
	OpSetAGCOption      = 0x98
	OpSetCommandTimeout = 0xA3
)

// OpGetVariable prefixes every variable read.
const OpGetVariable = 0xA1

// Variable selectors.
const (
	VarMiscFlags       = 0x01
	VarOperationState  = 0x09
	VarTargetPosition  = 0x0A
	VarTargetVelocity  = 0x0E
	VarCurrentPosition = 0x22
	VarCurrentVelocity = 0x26
)

// Bit 4 of the misc flags variable is set while a homing sequence is
// running on the driver.
const miscFlagHoming = 1 << 4

// Step mode codes run 0 (full step) through 9 (1/256 on drivers that
// support it).
const (
	StepModeMin = 0
	StepModeMax = 9
)

// CurrentLimitCode converts a coil current in milliamps to the driver's
// 7-bit current limit code. The conversion truncates toward zero; the
// result is clamped to [0, 127]. 2000 mA maps to code 27.
func CurrentLimitCode(milliamps int) int {
	if milliamps <= 0 {
		return 0
	}
	code := milliamps * 127 / 9095
	if code > 127 {
		return 127
	}
	return code
}

// CommandTimeoutValue builds the 32-bit argument for OpSetCommandTimeout:
// the timeout in milliseconds with the settings page selector in the
// high byte.
func CommandTimeoutValue(timeoutMs uint16) int32 {
	return int32(uint32(0x09)<<24 | uint32(timeoutMs))
}

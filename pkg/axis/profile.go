package axis

// Reference bench deployment. The config file can override all of
// these; they are the values the rig was commissioned with.

// DefaultBusDevice is the shared stepper bus on the controller SBC.
const DefaultBusDevice = "/dev/i2c-1"

// Driver bus addresses. tw_* drivers sit on the tower side of each
// carriage, cw_* on the counterweight side.
const (
	AddrTwR  = 0x0E
	AddrTwT  = 0x0F
	AddrTwZ1 = 0x10
	AddrTwZ2 = 0x11
	AddrCwR  = 0x12
	AddrCwT  = 0x13
	AddrCwZ1 = 0x14
	AddrCwZ2 = 0x15
)

// RTProfile is the motion profile for the radial and tilt drivers.
func RTProfile() Settings {
	return Settings{
		StepMode:       4,
		MaxAccel:       320000,
		MaxDecel:       320000,
		MaxSpeed:       450000000,
		CurrentLimitMA: 2000,
	}
}

// ZProfile is the motion profile for the four vertical column drivers.
// Finer microstepping and a lower speed cap keep the ganged columns
// from racking.
func ZProfile() Settings {
	return Settings{
		StepMode:       7,
		MaxAccel:       2560000,
		MaxDecel:       2560000,
		MaxSpeed:       105000000,
		CurrentLimitMA: 2000,
	}
}

// Homing directions and logical zero offsets, per axis.
const (
	HomeDirectionR = 1
	HomeOffsetR    = -283000

	HomeDirectionT = 1
	HomeOffsetT    = -335288

	HomeDirectionZ = 0
	HomeOffsetZ    = 24025
)

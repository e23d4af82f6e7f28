package config

import (
	"os"
)

// DriverConfig describes one physical stepper driver on the shared bus.
type DriverConfig struct {
	Name    string
	Address uint16
	Group   string
}

// GroupConfig is the motion profile and homing recipe for one logical
// axis group.
type GroupConfig struct {
	StepMode   int
	Accel      int32
	Decel      int32
	MaxSpeed   int32
	CurrentMA  int
	HomeDir    int
	HomeOffset int32
}

// ThetaConfig parameterizes the continuously rotating stage.
type ThetaConfig struct {
	CountsPerRev int
	DefaultRPM   float64
	MaxRPM       float64
}

// SerialConfig is the companion controller link.
type SerialConfig struct {
	Device string
	Baud   int
}

// VideoConfig carries the external player command templates. Empty
// strings keep the built-in defaults.
type VideoConfig struct {
	Path           string
	StartCommand   string
	ToggleCommand  string
	RestartCommand string
	MoveCommand    string
}

// RigConfig is the typed view of the whole configuration file.
type RigConfig struct {
	BusDevice string

	Drivers []DriverConfig
	Groups  map[string]GroupConfig

	Theta  ThetaConfig
	Serial SerialConfig

	GlobalFeed float64

	LEDDevice        string
	LEDCurrentMA     int
	ProjectorDevice  string
	Video            VideoConfig
	StatusListen     string
	MetricsListen    string
}

// DefaultRig returns the reference bench deployment: eight drivers on
// /dev/i2c-1, groups R/T on driver pairs and Z on the two ganged column
// pairs, and the commissioning motion profiles. The binary runs with no
// config file at all.
func DefaultRig() RigConfig {
	return RigConfig{
		BusDevice: "/dev/i2c-1",
		Drivers: []DriverConfig{
			{Name: "tw_r", Address: 0x0E, Group: "r"},
			{Name: "tw_t", Address: 0x0F, Group: "t"},
			{Name: "tw_z1", Address: 0x10, Group: "z"},
			{Name: "tw_z2", Address: 0x11, Group: "z"},
			{Name: "cw_r", Address: 0x12, Group: "r"},
			{Name: "cw_t", Address: 0x13, Group: "t"},
			{Name: "cw_z1", Address: 0x14, Group: "z"},
			{Name: "cw_z2", Address: 0x15, Group: "z"},
		},
		Groups: map[string]GroupConfig{
			"r": {StepMode: 4, Accel: 320000, Decel: 320000,
				MaxSpeed: 450000000, CurrentMA: 2000, HomeDir: 1, HomeOffset: -283000},
			"t": {StepMode: 4, Accel: 320000, Decel: 320000,
				MaxSpeed: 450000000, CurrentMA: 2000, HomeDir: 1, HomeOffset: -335288},
			"z": {StepMode: 7, Accel: 2560000, Decel: 2560000,
				MaxSpeed: 105000000, CurrentMA: 2000, HomeDir: 0, HomeOffset: 24025},
		},
		Theta: ThetaConfig{
			CountsPerRev: 245426,
			DefaultRPM:   9.0,
			MaxRPM:       60.0,
		},
		Serial: SerialConfig{
			Device: "/dev/ttyUSB0",
			Baud:   115200,
		},
		GlobalFeed: 100000,

		LEDDevice:       "/dev/hidraw1",
		LEDCurrentMA:    450,
		ProjectorDevice: "/dev/hidraw0",
		StatusListen:    ":7125",
		MetricsListen:   "",
	}
}

// LoadRig reads the config file at path and overlays it on the bench
// defaults. An empty path, or a missing file at the default location,
// yields the defaults unchanged.
func LoadRig(path string) (RigConfig, error) {
	rig := DefaultRig()
	if path == "" {
		return rig, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return rig, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return rig, err
	}
	if err := rig.apply(cfg); err != nil {
		return rig, err
	}
	return rig, nil
}

// ApplyString overlays configuration text on the receiver. Tests use it
// directly; LoadRig goes through a file.
func (r *RigConfig) ApplyString(data string) error {
	cfg, err := LoadString(data)
	if err != nil {
		return err
	}
	return r.apply(cfg)
}

func (r *RigConfig) apply(cfg *Config) error {
	if sec := cfg.GetSectionOptional("bus"); sec != nil {
		r.BusDevice, _ = sec.Get("device", r.BusDevice)
	}

	// [axis name] sections replace the whole driver table when present:
	// a partial table would desync the group fan-out.
	if axes := cfg.GetPrefixSections("axis "); len(axes) > 0 {
		drivers := make([]DriverConfig, 0, len(axes))
		for _, sec := range axes {
			name := sec.GetName()[len("axis "):]
			addr, err := sec.GetInt("address")
			if err != nil {
				return err
			}
			if addr < 0 || addr > 0x7F {
				return ErrOutOfRange(sec.GetName(), "address", float64(addr), "7-bit bus address")
			}
			group, err := sec.GetChoice("group", []string{"r", "t", "z"})
			if err != nil {
				return err
			}
			drivers = append(drivers, DriverConfig{
				Name:    name,
				Address: uint16(addr),
				Group:   group,
			})
		}
		r.Drivers = drivers
	}

	for _, name := range []string{"r", "t", "z"} {
		sec := cfg.GetSectionOptional("group " + name)
		if sec == nil {
			continue
		}
		g := r.Groups[name]
		stepMin, stepMax := 0, 9
		var err error
		if g.StepMode, err = sec.GetIntWithBounds("step_mode", &stepMin, &stepMax, g.StepMode); err != nil {
			return err
		}
		if g.Accel, err = getInt32(sec, "accel", g.Accel); err != nil {
			return err
		}
		if g.Decel, err = getInt32(sec, "decel", g.Decel); err != nil {
			return err
		}
		if g.MaxSpeed, err = getInt32(sec, "max_speed", g.MaxSpeed); err != nil {
			return err
		}
		curMin, curMax := 0, 9095
		if g.CurrentMA, err = sec.GetIntWithBounds("current_ma", &curMin, &curMax, g.CurrentMA); err != nil {
			return err
		}
		dirMin, dirMax := 0, 1
		if g.HomeDir, err = sec.GetIntWithBounds("home_dir", &dirMin, &dirMax, g.HomeDir); err != nil {
			return err
		}
		if g.HomeOffset, err = getInt32(sec, "home_offset", g.HomeOffset); err != nil {
			return err
		}
		r.Groups[name] = g
	}

	if sec := cfg.GetSectionOptional("theta"); sec != nil {
		cprMin := 1
		var err error
		if r.Theta.CountsPerRev, err = sec.GetIntWithBounds("counts_per_rev", &cprMin, nil, r.Theta.CountsPerRev); err != nil {
			return err
		}
		if r.Theta.DefaultRPM, err = sec.GetFloatWithBounds("default_rpm",
			FloatBounds{MinVal: ptr(0.0), MaxVal: ptr(60.0)}, r.Theta.DefaultRPM); err != nil {
			return err
		}
		if r.Theta.MaxRPM, err = sec.GetFloatWithBounds("max_rpm",
			FloatBounds{MinVal: ptr(0.0), MaxVal: ptr(60.0)}, r.Theta.MaxRPM); err != nil {
			return err
		}
	}

	if sec := cfg.GetSectionOptional("serial"); sec != nil {
		var err error
		if r.Serial.Device, err = sec.Get("device", r.Serial.Device); err != nil {
			return err
		}
		baudMin := 1200
		if r.Serial.Baud, err = sec.GetIntWithBounds("baud", &baudMin, nil, r.Serial.Baud); err != nil {
			return err
		}
	}

	if sec := cfg.GetSectionOptional("feeds"); sec != nil {
		var err error
		if r.GlobalFeed, err = sec.GetFloatWithBounds("global",
			FloatBounds{MinVal: ptr(0.0)}, r.GlobalFeed); err != nil {
			return err
		}
	}

	if sec := cfg.GetSectionOptional("led"); sec != nil {
		var err error
		if r.LEDDevice, err = sec.Get("device", r.LEDDevice); err != nil {
			return err
		}
		maMin, maMax := 0, 30000
		if r.LEDCurrentMA, err = sec.GetIntWithBounds("default_current_ma", &maMin, &maMax, r.LEDCurrentMA); err != nil {
			return err
		}
	}

	if sec := cfg.GetSectionOptional("projector"); sec != nil {
		var err error
		if r.ProjectorDevice, err = sec.Get("device", r.ProjectorDevice); err != nil {
			return err
		}
	}

	if sec := cfg.GetSectionOptional("video"); sec != nil {
		r.Video.Path, _ = sec.Get("path", r.Video.Path)
		r.Video.StartCommand, _ = sec.Get("start_command", r.Video.StartCommand)
		r.Video.ToggleCommand, _ = sec.Get("toggle_command", r.Video.ToggleCommand)
		r.Video.RestartCommand, _ = sec.Get("restart_command", r.Video.RestartCommand)
		r.Video.MoveCommand, _ = sec.Get("move_command", r.Video.MoveCommand)
	}

	if sec := cfg.GetSectionOptional("status"); sec != nil {
		r.StatusListen, _ = sec.Get("listen", r.StatusListen)
		r.MetricsListen, _ = sec.Get("metrics_listen", r.MetricsListen)
	}

	return nil
}

func getInt32(sec *Section, option string, fallback int32) (int32, error) {
	v, err := sec.GetInt(option, int(fallback))
	if err != nil {
		return 0, err
	}
	if v < -1<<31 || v > 1<<31-1 {
		return 0, ErrOutOfRange(sec.GetName(), option, float64(v), "signed 32-bit")
	}
	return int32(v), nil
}

func ptr[T any](v T) *T { return &v }

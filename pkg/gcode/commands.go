package gcode

import (
	"fmt"
	"strings"

	"helical-go-migration/pkg/esp32"
	"helical-go-migration/pkg/rigerr"
)

// maxLampCurrentMA is the dialect's documented M205 limit, matching
// the LED driver's own hard ceiling.
const maxLampCurrentMA = 30000

func (itp *Interpreter) executeM(cmd *Command) error {
	switch cmd.Number {
	case 17:
		return itp.enableMotors()
	case 18:
		return itp.disableMotors(cmd)
	case 30:
		fmt.Fprintln(itp.out, "M30: Program complete. Exiting G-Code Mode.")
		if err := itp.safety.RequestShutdown("M30"); err != nil {
			logger.WithError(err).Error("shutdown teardown failed")
		}
		return ErrProgramEnd
	case 33:
		return itp.zeroRotation()
	case 34:
		return itp.reportRotationZero()
	case 112:
		fmt.Fprintln(itp.out, "M112: EMERGENCY STOP.")
		itp.ab.RaiseEStop("M112")
		if err := itp.safety.EmergencyStop("M112"); err != nil {
			logger.WithError(err).Error("emergency teardown failed")
		}
		return ErrEmergencyStop
	case 114:
		itp.reportPositions()
		return nil
	case 116:
		itp.reportFeeds()
		return nil
	case 200:
		if err := itp.lamp.Configure(itp.lampCurrent); err != nil {
			return err
		}
		if err := itp.projector.Configure(); err != nil {
			return err
		}
		fmt.Fprintln(itp.out, "M200: Projector ON (configured).")
		return nil
	case 201:
		if err := itp.projector.PowerDown(); err != nil {
			return err
		}
		if err := itp.lamp.Stop(); err != nil {
			return err
		}
		fmt.Fprintln(itp.out, "M201: Projector OFF.")
		return nil
	case 202:
		if err := itp.player.ToggleVideo(); err != nil {
			return err
		}
		fmt.Fprintln(itp.out, "M202: Projector video PLAY/TOGGLE.")
		return nil
	case 203:
		if err := itp.player.ToggleVideo(); err != nil {
			return err
		}
		fmt.Fprintln(itp.out, "M203: Projector video PAUSE/TOGGLE.")
		return nil
	case 204:
		if err := itp.player.RestartVideo(); err != nil {
			return err
		}
		fmt.Fprintln(itp.out, "M204: Projector video RESTART.")
		return nil
	case 205:
		return itp.setLampCurrent(cmd)
	case 210:
		return itp.reportImuSample()
	case 211:
		return itp.calibrateImu()
	default:
		fmt.Fprintf(itp.out, "Unknown M%d\n", cmd.Number)
		return nil
	}
}

// enableMotors is M17: energize every physical driver.
func (itp *Interpreter) enableMotors() error {
	for _, d := range itp.drivers {
		if err := d.Energize(); err != nil {
			return err
		}
	}
	fmt.Fprintln(itp.out, "M17: Motors enabled.")
	return nil
}

// disableMotors is M18. Axis letters may arrive as separate words or
// run together ("M18 RT"), so the raw argument text is scanned
// character by character. The rotation velocity is always zeroed, with
// or without an explicit A; named axes default to R and T. The
// vertical stage is only released when asked for.
func (itp *Interpreter) disableMotors(cmd *Command) error {
	var axes []byte
	fields := strings.Fields(cmd.Raw)
	for _, f := range fields[1:] {
		for _, c := range strings.ToUpper(f) {
			switch c {
			case 'R', 'T', 'Z', 'A':
				axes = append(axes, byte(c))
			}
		}
	}
	if len(axes) == 0 {
		axes = []byte{'R', 'T'}
	}
	for _, letter := range axes {
		if letter == 'A' {
			continue
		}
		if err := itp.group(letter).Deenergize(); err != nil {
			return err
		}
	}
	if err := itp.stage.SetThetaVelocity(0); err != nil {
		return err
	}
	fmt.Fprintln(itp.out, "M18: Motors disabled.")
	return nil
}

// reportPositions is M114: one line per physical driver. A driver that
// cannot be read is reported as such; the rest of the report still
// prints.
func (itp *Interpreter) reportPositions() {
	fmt.Fprintln(itp.out, "---- M114 ----")
	for _, d := range itp.drivers {
		cur, err := d.CurrentPosition()
		if err == nil {
			var tgt int32
			tgt, err = d.TargetPosition()
			if err == nil {
				fmt.Fprintf(itp.out, "%s  cur=%d  tgt=%d\n", d.Label(), cur, tgt)
				continue
			}
		}
		fmt.Fprintf(itp.out, "%s  [read error] %v\n", d.Label(), err)
	}
	fmt.Fprintln(itp.out, "--------------")
}

// reportFeeds is M116.
func (itp *Interpreter) reportFeeds() {
	fmt.Fprintln(itp.out, "---- M116: Feed Rates ----")
	fmt.Fprintf(itp.out, "F (global): %g  [applies to R/T/Z unless overridden]\n", itp.fGlobal)
	fmt.Fprintf(itp.out, "FR (R)    : %g       [range 0 .. %d]\n", itp.feedFor('R'), itp.caps['R'])
	fmt.Fprintf(itp.out, "FT (T)    : %g       [range 0 .. %d]\n", itp.feedFor('T'), itp.caps['T'])
	fmt.Fprintf(itp.out, "FZ (Z)    : %g       [range 0 .. %d]\n", itp.feedFor('Z'), itp.caps['Z'])
	fmt.Fprintf(itp.out, "FA (A)    : %g rpm   [range %g .. %g rpm]\n", itp.feedFor('A'), MinRotationRPM, MaxRotationRPM)
	fmt.Fprintln(itp.out, "Note: R/T/Z use setMaxSpeed(feed) then setTargetPosition(...). A uses setThetaVelocity(pps).")
	fmt.Fprintln(itp.out, "---------------------------")
}

// setLampCurrent is M205 S<mA>.
func (itp *Interpreter) setLampCurrent(cmd *Command) error {
	current := -1.0
	for _, w := range cmd.Words {
		if w.Letter == 'S' && w.HasValue {
			current = w.Value
		}
	}
	if current < 0 {
		fmt.Fprintln(itp.out, "M205: Provide current via S parameter (e.g., M205 S450).")
		return nil
	}
	if current > maxLampCurrentMA {
		fmt.Fprintf(itp.out, "M205: Requested %g mA exceeds %d mA limit.\n", current, maxLampCurrentMA)
		return nil
	}
	if err := itp.lamp.SetCurrent(int(current)); err != nil {
		return err
	}
	fmt.Fprintf(itp.out, "M205: LED current set to %d mA.\n", int(current))
	return nil
}

// zeroRotation is M33: run the companion's beam-break zeroing sequence
// and block until the companion reports completion. A timeout is fatal
// to the queue: the stage's angular reference is unknown at that
// point, so rotation is stopped and nothing queued behind the zeroing
// may run.
func (itp *Interpreter) zeroRotation() error {
	fmt.Fprintln(itp.out, "M33: Starting theta zero search...")
	if err := itp.stage.StartThetaZero(); err != nil {
		return err
	}
	if err := itp.stage.WaitThetaZeroComplete(itp.ZeroTimeout); err != nil {
		if rigerr.IsTimeout(err) {
			itp.metrics.RecordSerialTimeout("theta_zero")
		}
		if stopErr := itp.stage.SetThetaVelocity(0); stopErr != nil {
			logger.WithError(stopErr).Error("rotation stop after zeroing failure")
		}
		return &queueFatalError{err}
	}
	fmt.Fprintln(itp.out, "M33: Theta zero complete.")
	return nil
}

// reportRotationZero is M34: read back the pulse count captured at the
// zeroing beam-break edge.
func (itp *Interpreter) reportRotationZero() error {
	count, err := itp.stage.ThetaZeroMeasurement()
	if err != nil {
		return err
	}
	fmt.Fprintf(itp.out, "M34: theta zero offset %d counts\n", count)
	return nil
}

// reportImuSample is M210: fetch and print one inertial sample. A
// fetch that fails is reported to the operator, not to the queue.
func (itp *Interpreter) reportImuSample() error {
	sample, err := itp.stage.GetImuSample(itp.ImuTimeout)
	if err != nil {
		if rigerr.IsTimeout(err) {
			itp.metrics.RecordSerialTimeout("imu_sample")
		}
		logger.WithError(err).Warn("imu sample fetch failed")
		fmt.Fprintln(itp.out, "[IMU] Failed to retrieve sample.")
		return nil
	}
	itp.printImuSample(sample)
	return nil
}

// calibrateImu is M211: request calibration and block for the
// acknowledgment.
func (itp *Interpreter) calibrateImu() error {
	fmt.Fprintln(itp.out, "M211: Requesting IMU calibration...")
	if err := itp.stage.RequestImuCalibration(itp.CalibrationTimeout); err != nil {
		if rigerr.IsTimeout(err) {
			itp.metrics.RecordSerialTimeout("imu_calibration")
		}
		logger.WithError(err).Warn("imu calibration failed")
		fmt.Fprintln(itp.out, "[IMU] Calibration failed or timed out.")
		return nil
	}
	fmt.Fprintln(itp.out, "[IMU] Calibration complete.")
	return nil
}

func (itp *Interpreter) printImuSample(s esp32.ImuSample) {
	fmt.Fprintf(itp.out,
		"[IMU] t=%.3f ms acc=(%.3f, %.3f, %.3f) m/s^2 gyro=(%.3f, %.3f, %.3f) rad/s radial=%.3f m/s^2 omega=%.3f rad/s m_corr=%.3f g ang=%.3f deg\n",
		float64(s.TimestampUs)/1000.0,
		s.Ax, s.Ay, s.Az, s.Gx, s.Gy, s.Gz,
		s.RadialAccel, s.Omega, s.CorrectiveMassG, s.CorrectiveAngleDeg)
}
